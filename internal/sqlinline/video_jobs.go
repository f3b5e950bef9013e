package sqlinline

// Channel used by LISTEN/NOTIFY to wake idle workers.
const VideoJobsChannel = "video_jobs"

const QListenVideoJobs = `--sql ff9507b9-fab6-4b21-9816-0ee52b015022
listen video_jobs;
`

const QEnqueueVideoJob = `--sql bf48fddf-7a8a-46a6-b5c0-e1fa1b74dffc
with ins as (
    insert into video_jobs (id, payload, status, attempts, enqueued_at, updated_at)
    values ($1::text, $2::jsonb, 'queued', 0, now(), now())
    on conflict (id) do update set
        payload = excluded.payload,
        status = 'queued',
        attempts = 0,
        lease_token = null,
        lease_owner = null,
        lease_expires_at = null,
        enqueued_at = now(),
        updated_at = now()
    where video_jobs.status <> 'leased'
       or video_jobs.lease_expires_at < now()
    returning id
)
select pg_notify('video_jobs', id) from ins;
`

const QClaimVideoJob = `--sql 48c5a87c-050c-4b75-947d-85eafde08943
with next_job as (
    select id
    from video_jobs
    where status = 'queued'
       or (status = 'leased' and lease_expires_at < now())
    order by enqueued_at asc
    limit 1
    for update skip locked
)
update video_jobs j
set status = 'leased',
    attempts = j.attempts + 1,
    lease_token = $1::uuid,
    lease_owner = $2::text,
    lease_expires_at = now() + make_interval(secs => $3::int),
    updated_at = now()
from next_job
where j.id = next_job.id
returning j.id, j.payload, j.attempts;
`

const QExtendVideoJobLease = `--sql c7be6348-d140-46a7-890e-cdc29f0d940c
update video_jobs
set lease_expires_at = now() + make_interval(secs => $3::int),
    updated_at = now()
where id = $1::text and lease_token = $2::uuid and status = 'leased';
`

const QAckVideoJob = `--sql a375e6d7-8432-4203-acc6-187d6dd1cb74
delete from video_jobs
where id = $1::text and lease_token = $2::uuid;
`

const QNackVideoJob = `--sql f9b70bc5-807a-4618-9831-413e4b28ffac
with released as (
    update video_jobs
    set status = 'queued',
        lease_token = null,
        lease_owner = null,
        lease_expires_at = null,
        updated_at = now()
    where id = $1::text and lease_token = $2::uuid
    returning id
)
select pg_notify('video_jobs', id) from released;
`

const QVideoJobDepth = `--sql 14b0cd58-78c4-4754-9539-9e6c5a1b7714
select
    count(*) filter (where status = 'queued') as queued,
    count(*) filter (where status = 'leased') as leased
from video_jobs;
`

const QVideoActiveWorkers = `--sql 84148adb-2804-4c96-b685-40610471aded
select count(distinct lease_owner)
from video_jobs
where status = 'leased' and lease_expires_at > now();
`
