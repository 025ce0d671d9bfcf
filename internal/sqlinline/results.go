package sqlinline

// QInsertResult appends a result while its request is still running.
const QInsertResult = `--sql 5960dda9-a85b-48f5-83b9-bbfca71cc9ba
insert into generation_results(
  id,
  request_id,
  idx,
  url,
  storage_key,
  content_type,
  variant,
  text_content,
  created_at
)
select
  $1::uuid,
  r.id,
  $3::int,
  $4::text,
  $5::text,
  $6::text,
  $7::text,
  $8::text,
  $9::timestamptz
from generation_requests r
where r.id = $2::uuid
  and r.status not in ('COMPLETED', 'FAILED')
returning id;
`

const QListResultsByRequest = `--sql f5558429-6861-402d-852f-56fb80c6723b
select id, request_id, idx, url, storage_key, content_type, variant, text_content, created_at
from generation_results
where request_id = $1::uuid
order by idx asc;
`

// QDeleteResultsByRequest drops the rows of a request that failed to finalize.
const QDeleteResultsByRequest = `--sql 4219ec71-ecd2-409d-b006-7ea18cc0e552
delete from generation_results
where request_id = $1::uuid;
`
