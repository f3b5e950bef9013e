package sqlinline

const QInsertVideoGeneration = `--sql ca9ef92d-ccec-4175-9562-6a70538417f9
insert into video_generations (
    id,
    user_id,
    companion_id,
    prompt,
    duration_seconds,
    quality,
    resolution,
    frame_rate,
    visual_style,
    music_style,
    include_elements,
    locale,
    country,
    status,
    created_at,
    updated_at
) values (
    $1::text,
    $2::text,
    nullif($3::text, ''),
    $4::text,
    $5::int,
    $6::text,
    $7::text,
    $8::int,
    nullif($9::text, ''),
    nullif($10::text, ''),
    coalesce($11::text[], '{}'),
    nullif($12::text, ''),
    nullif($13::text, ''),
    'QUEUED',
    now(),
    now()
)
on conflict (id) do nothing
returning created_at;
`

const QSelectVideoGeneration = `--sql 32764df4-c580-4720-8aa4-0ef012811f13
select
    id,
    user_id,
    prompt,
    duration_seconds,
    quality,
    resolution,
    frame_rate,
    status,
    coalesce(current_phase, ''),
    progress_percentage,
    coalesce(storage_url, ''),
    thumbnail_urls,
    coalesce(file_size_bytes, 0),
    coalesce(generation_time_minutes, 0),
    coalesce(error_kind, ''),
    coalesce(error_message, ''),
    created_at,
    completed_at
from video_generations
where id = $1::text
limit 1;
`

const QListVideoGenerationsByUser = `--sql 33d92b93-7092-4b25-bb16-9729914e73e3
select
    id,
    user_id,
    prompt,
    duration_seconds,
    quality,
    resolution,
    frame_rate,
    status,
    coalesce(current_phase, ''),
    progress_percentage,
    coalesce(storage_url, ''),
    thumbnail_urls,
    coalesce(file_size_bytes, 0),
    coalesce(generation_time_minutes, 0),
    coalesce(error_kind, ''),
    coalesce(error_message, ''),
    created_at,
    completed_at
from video_generations
where user_id = $1::text
order by created_at desc
limit $2::int offset $3::int;
`

const QVideoQueueStatus = `--sql 4c7f7844-116e-4660-ab96-8f50c9125233
select
    count(*) filter (where status = 'QUEUED') as queued,
    count(*) filter (where status = 'PROCESSING') as processing
from video_generations;
`

const QVideoQueuePosition = `--sql e7dc082d-a7aa-438e-83e1-198ea221d09c
select count(*)
from video_generations q
where q.status = 'QUEUED'
  and q.created_at <= (select created_at from video_generations where id = $1::text);
`

// Progress only moves forward. A fresh PHASE_STARTED of the first phase is a
// redelivered attempt and resets the row.
const QProjectVideoProgress = `--sql 05e72a73-01eb-46a7-975f-37687f5bf5ba
update video_generations
set status = 'PROCESSING',
    current_phase = $2::text,
    phase_rank = $3::int,
    progress_percentage = $4::int,
    updated_at = now()
where id = $1::text
  and status in ('QUEUED', 'PROCESSING')
  and (
        phase_rank < $3::int
     or (phase_rank = $3::int and progress_percentage <= $4::int)
     or ($3::int = 1 and $4::int = 0)
  );
`

const QProjectVideoCompleted = `--sql 2a5f491d-5612-402d-8e89-3b22309036a6
update video_generations
set status = 'COMPLETED',
    current_phase = 'COMPLETED',
    progress_percentage = 100,
    storage_url = $2::text,
    thumbnail_urls = $3::text[],
    file_size_bytes = $4::bigint,
    file_size_mb = $5::numeric,
    generation_time_minutes = $6::int,
    error_kind = null,
    error_message = null,
    completed_at = coalesce(completed_at, now()),
    updated_at = now()
where id = $1::text;
`

const QProjectVideoFailed = `--sql 4928c120-0edf-4106-bb07-1756b6c5ddaf
update video_generations
set status = 'FAILED',
    current_phase = $2::text,
    error_kind = $3::text,
    error_message = $4::text,
    updated_at = now()
where id = $1::text
  and status <> 'COMPLETED';
`

const QCountVideoGenerationsByUser = `--sql f2dd4b0f-ea8e-4b21-a7b5-9adb01bdcb81
select count(*)
from video_generations
where user_id = $1::text;
`
