package sqlinline

const QSelectIntegrationToken = `--sql 5f8f24f1-4049-4e37-8cb4-0dbd763a7304
select t.token
from integration_tokens t
where t.provider = $1::text;
`

// QUpsertIntegrationToken replaces the key of a provider; properties carry
// non-secret settings such as the model name.
const QUpsertIntegrationToken = `--sql 5b104296-557f-4ba2-ad1b-82c6a6070e60
insert into integration_tokens as t (provider, token, properties)
values ($1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb))
on conflict (provider) do update
set token = excluded.token,
    properties = t.properties || excluded.properties,
    updated_at = now();
`
