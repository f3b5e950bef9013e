package sqlinline

const QEnsureVideoJobsTable = `--sql 5f02dcf6-01cc-4a2d-994c-e8e094ef17cc
create table if not exists video_jobs (
    id text primary key,
    payload jsonb not null,
    status text not null default 'queued',
    attempts int not null default 0,
    lease_token uuid,
    lease_owner text,
    lease_expires_at timestamptz,
    enqueued_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);
create index if not exists video_jobs_claim_idx on video_jobs (status, enqueued_at);
`

const QEnsureVideoGenerationsTable = `--sql d7264839-0b66-4a9d-a4c0-730936398168
create table if not exists video_generations (
    id text primary key,
    user_id text not null,
    companion_id text,
    prompt text not null,
    duration_seconds int not null,
    quality text not null,
    resolution text not null,
    frame_rate int not null,
    visual_style text,
    music_style text,
    include_elements text[] not null default '{}',
    locale text,
    country text,
    status text not null default 'QUEUED',
    current_phase text,
    phase_rank int not null default 0,
    progress_percentage int not null default 0,
    storage_url text,
    thumbnail_urls text[] not null default '{}',
    file_size_bytes bigint,
    file_size_mb numeric(12, 2),
    generation_time_minutes int,
    error_kind text,
    error_message text,
    created_at timestamptz not null default now(),
    completed_at timestamptz,
    updated_at timestamptz not null default now()
);
create index if not exists video_generations_user_idx on video_generations (user_id, created_at desc);
create index if not exists video_generations_status_idx on video_generations (status, created_at);
`

const QEnsureIntegrationTokensTable = `--sql 0b7a4f3e-52c1-4d8e-9a61-3c2f7e9d1a54
create table if not exists integration_tokens (
    id uuid primary key default gen_random_uuid(),
    provider text not null unique,
    token text not null,
    properties jsonb not null default '{}'::jsonb,
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);
`
