// Package api hosts the HTTP server, middleware, and REST handlers for the
// operator. Notable routes:
//   - POST /upload accepts an .xlsx workbook and queues an enrichment job.
//   - GET /progress and GET /download report on the most recent job.
//   - GET /jobs, GET /jobs/{job_id}, GET /jobs/{job_id}/download and
//     POST /jobs/{job_id}/cancel address any job of the process lifetime.
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
