// Package cmd defines the companyscraper CLI.
//
// Architecture overview:
//   - HTTP API: internal/api.Server accepts .xlsx uploads, reports progress for the
//     current job and any job by id, and serves the enriched workbook.
//   - Dispatcher & queue: jobs flow through a bounded in-memory queue sized by
//     batch.queue_depth and are run by batch.workers workers, one job each.
//   - Batch: every job fans its rows out to at most batch.concurrency lookups and
//     writes the output rows in input order.
//   - Lookup: each row is fetched with Colly, optionally promoted to a headless
//     Chromedp render, and parsed with goquery.
//   - Persistence & fanout: output workbooks go to the configured artifact store
//     (local/GCS/memory); a Pub/Sub message is published per finished job when a
//     topic is configured; progress events feed log and Prometheus sinks.
//
// Quick checklist:
//   - Configure env vars: SCRAPER_SERVER_PORT, SCRAPER_DIRECTORY_BASE_URL,
//     SCRAPER_BATCH_CONCURRENCY, SCRAPER_STORAGE_BACKEND and friends.
//   - Serve: companyscraper serve --config config.yaml
//   - One-shot: companyscraper enrich --input in.xlsx --output out.xlsx
package cmd
