package sqlinline

const QInsertEphemeralAsset = `--sql d219a2e6-c737-409c-b5b7-3624ef8b1f4e
insert into ephemeral_assets(id, storage_key, owner_id, request_id, expires_at, created_at)
values (gen_random_uuid(), $1::text, $2::uuid, nullif($3::text, '')::uuid, $4::timestamptz, now())
on conflict (storage_key) do update set expires_at = excluded.expires_at
returning id, created_at;
`

// QClaimExpiredEphemeralAssets leases due rows so concurrent sweepers skip
// them; a crashed sweeper's lease lapses and the row is retried.
const QClaimExpiredEphemeralAssets = `--sql ac045ee8-81c5-48e2-a2c4-787d490d9f08
with due as (
  select id
  from ephemeral_assets
  where expires_at <= $1::timestamptz
    and (claimed_until is null or claimed_until < $1::timestamptz)
  order by expires_at asc
  limit $2::int
  for update skip locked
)
update ephemeral_assets a
set claimed_until = $1::timestamptz + interval '5 minutes'
from due
where a.id = due.id
returning a.id, a.storage_key, a.owner_id, coalesce(a.request_id::text, ''), a.expires_at, a.created_at;
`

const QDeleteEphemeralAssetByKey = `--sql 289a2351-dee7-4709-97fb-a47ed3630a66
delete from ephemeral_assets
where storage_key = $1::text;
`
