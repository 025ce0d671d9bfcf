package sqlinline

const QIncrementAnalyticsDaily = `--sql 346c625e-c9f2-47a0-9cff-876ca34809e3
insert into analytics_daily(day, requests, request_success, request_fail, artifacts_generated, items_failed, created_at, updated_at)
values ($1::date, $2::int, $3::int, $4::int, $5::int, $6::int, now(), now())
on conflict (day) do update set
  requests = analytics_daily.requests + excluded.requests,
  request_success = analytics_daily.request_success + excluded.request_success,
  request_fail = analytics_daily.request_fail + excluded.request_fail,
  artifacts_generated = analytics_daily.artifacts_generated + excluded.artifacts_generated,
  items_failed = analytics_daily.items_failed + excluded.items_failed,
  updated_at = now();
`

const QSelectLatestAnalytics = `--sql 9ade000b-abb0-47ae-aad8-ade3f9f571cc
select day, requests, request_success, request_fail, artifacts_generated, items_failed, created_at, updated_at
from analytics_daily
order by day desc
limit 1;
`
