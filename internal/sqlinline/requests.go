package sqlinline

const QInsertRequest = `--sql 65cfdfe7-d5bf-4142-a02d-a278fcea8a24
insert into generation_requests(
  id,
  user_id,
  channel,
  status,
  input,
  output_count,
  units_reserved,
  created_at,
  updated_at
) values (
  $1::uuid,
  $2::uuid,
  $3::text,
  $4::text,
  coalesce($5::jsonb, '{}'::jsonb),
  $6::int,
  $7::int,
  $8::timestamptz,
  $8::timestamptz
);
`

// QUpdateRequest only applies forward transitions; terminal rows never match.
const QUpdateRequest = `--sql c19e85ad-9e68-48ac-8a75-6e18967a15ca
update generation_requests
set status = $2::text,
    enhanced_prompt = coalesce($3::text, enhanced_prompt),
    providers = coalesce($4::jsonb, providers),
    tokens_input = coalesce($5::int, tokens_input),
    tokens_output = coalesce($6::int, tokens_output),
    tokens_total = coalesce($7::int, tokens_total),
    error_message = coalesce($8::text, error_message),
    completed_at = coalesce($9::timestamptz, completed_at),
    updated_at = now()
where id = $1::uuid
  and status not in ('COMPLETED', 'FAILED')
  and (case status when 'PROCESSING' then 0 when 'ANALYZING' then 1 when 'GENERATING' then 2 else 3 end)
    < (case $2::text when 'PROCESSING' then 0 when 'ANALYZING' then 1 when 'GENERATING' then 2 else 3 end)
returning id;
`

const QSelectRequestStatus = `--sql 7296415c-3a2c-46be-abff-b6f6acc30bbe
select status
from generation_requests
where id = $1::uuid
limit 1;
`

const QSelectRequestForUser = `--sql 473d40db-d9f8-44c3-8651-7f3647e5c567
select
  id,
  user_id,
  channel,
  status,
  input,
  enhanced_prompt,
  output_count,
  units_reserved,
  providers,
  tokens_input,
  tokens_output,
  tokens_total,
  error_message,
  created_at,
  completed_at
from generation_requests
where id = $1::uuid and user_id = $2::uuid
limit 1;
`

const QListRequestsByUser = `--sql b4da2e6b-7356-4cc2-b340-ecabe1ff088f
select
  id,
  user_id,
  channel,
  status,
  input,
  enhanced_prompt,
  output_count,
  units_reserved,
  providers,
  tokens_input,
  tokens_output,
  tokens_total,
  error_message,
  created_at,
  completed_at
from generation_requests
where user_id = $1::uuid
order by created_at desc, id desc
limit $2::int offset $3::int;
`

const QCountRequestsByUser = `--sql 5127f448-6def-4143-9776-9910cdf02261
select count(*)
from generation_requests
where user_id = $1::uuid;
`

// QDeleteRequestForUser refuses rows that are still running; results cascade.
const QDeleteRequestForUser = `--sql 0f819247-d144-4631-a19a-e4fd91dbf3da
delete from generation_requests
where id = $1::uuid
  and user_id = $2::uuid
  and status in ('COMPLETED', 'FAILED')
returning id;
`

const QSelectRequestStatusForUser = `--sql 9220827d-89f0-418b-896d-8af62949c328
select status
from generation_requests
where id = $1::uuid and user_id = $2::uuid
limit 1;
`

// QListUnsettledRequests finds runs whose reservation was never settled:
// either the run never reached a terminal state or its settlement failed.
const QListUnsettledRequests = `--sql 5b9edb01-dadc-4e0a-8e27-8ea532509243
select
  r.id,
  r.user_id,
  r.channel,
  r.status,
  r.input,
  r.enhanced_prompt,
  r.output_count,
  r.units_reserved,
  r.providers,
  r.tokens_input,
  r.tokens_output,
  r.tokens_total,
  r.error_message,
  r.created_at,
  r.completed_at
from generation_requests r
where r.created_at < $1::timestamptz
  and r.units_reserved > 0
  and not exists (select 1 from quota_settlements s where s.request_id = r.id)
order by r.created_at asc
limit $2::int;
`
