package sqlinline

const QEnsureQuotaAccount = `--sql db605711-bfe1-4e48-83b4-1e5969439a98
insert into quota_accounts(user_id, plan, requests_limit, updated_at)
values ($1::uuid, $2::text, $3::int, now())
on conflict (user_id) do nothing;
`

const QSelectQuotaAccount = `--sql 661169fe-6a52-49ee-ab1d-5de254c82309
select
  user_id,
  plan,
  period_start,
  period_end,
  requests_used,
  requests_limit,
  requests_reserved,
  updated_at
from quota_accounts
where user_id = $1::uuid
limit 1;
`

// QReserveQuota is the admission compare-and-set. Concurrent callers on the
// same row serialize on the row lock and re-evaluate the predicate.
const QReserveQuota = `--sql a89793d0-7421-456d-ae86-a53243aa7052
update quota_accounts
set requests_reserved = requests_reserved + $2::int,
    updated_at = now()
where user_id = $1::uuid
  and (requests_limit = -1 or requests_used + requests_reserved + $2::int <= requests_limit)
returning user_id;
`

// QCommitQuota settles a reservation into used units at most once per request.
const QCommitQuota = `--sql 04eb2f7b-9519-427c-885d-c97a33b6c0ca
with settled as (
  insert into quota_settlements(request_id, user_id, units, kind, created_at)
  values ($2::uuid, $1::uuid, $3::int, 'commit', now())
  on conflict (request_id) do nothing
  returning request_id
)
update quota_accounts
set requests_used = requests_used + $3::int,
    requests_reserved = greatest(requests_reserved - $3::int, 0),
    updated_at = now()
where user_id = $1::uuid
  and exists (select 1 from settled)
returning requests_used;
`

// QReleaseQuota returns a reservation without charging it.
const QReleaseQuota = `--sql 13f12afa-af5a-4cd8-acd7-9d54b25d5934
with settled as (
  insert into quota_settlements(request_id, user_id, units, kind, created_at)
  values ($2::uuid, $1::uuid, $3::int, 'release', now())
  on conflict (request_id) do nothing
  returning request_id
)
update quota_accounts
set requests_reserved = greatest(requests_reserved - $3::int, 0),
    updated_at = now()
where user_id = $1::uuid
  and exists (select 1 from settled);
`

const QUpsertQuotaPlan = `--sql 0423bce8-5fcd-45cd-9bae-9d344a7c19c1
insert into quota_accounts(user_id, plan, period_start, period_end, requests_used, requests_limit, updated_at)
values ($1::uuid, $2::text, $4::timestamptz, $5::timestamptz, 0, $3::int, now())
on conflict (user_id) do update set
  plan = excluded.plan,
  requests_limit = excluded.requests_limit,
  period_start = excluded.period_start,
  period_end = excluded.period_end,
  requests_used = case when $6::boolean then 0 else quota_accounts.requests_used end,
  updated_at = now()
returning user_id, plan, period_start, period_end, requests_used, requests_limit, requests_reserved, updated_at;
`
