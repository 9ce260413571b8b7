// Package main hosts the news ingestion service entrypoint.
//
// Architecture overview:
//   - Pipeline: internal/pipeline runs one orchestrator per configured source,
//     cycling the stage graph discover -> verify -> extract -> clean -> label.
//     Each stage claims a batch of rows with FOR UPDATE SKIP LOCKED inside a
//     single transaction; row failures are logged and skipped so one bad page
//     never poisons a batch.
//   - Pacing: internal/backoff keeps per-source crawl delay between the
//     configured interval bounds, escalates exponentially on soft blocks, and
//     decays one step per sustained run of clean responses. State persists in
//     Postgres so restarts do not forget an active suspension window.
//   - Dedup: internal/dedup inserts content through a url uniqueness
//     constraint (insert-or-skip); a maintenance endpoint reconciles
//     historical duplicates, dry-run by default.
//   - Classification: internal/classify tags article origin (wire service,
//     syndicated broadcaster, local) and strips boilerplate segments using
//     patterns cached from Postgres with a short TTL, serving stale on errors.
//   - Fetch: a Colly-based probe fetcher with optional robots.txt enforcement;
//     JS-walled soft blocks may escalate once to a headless Chromedp fetch.
//   - Persistence & fanout: raw HTML snapshots go to the configured BlobStore
//     (memory/local/GCS); locally authored articles are published to Pub/Sub
//     for the labeling workflow; telemetry events append to Postgres through
//     a recorder that survives sequence drift without failing the pipeline.
//   - Configuration & plumbing: Viper populates config from env/files with
//     per-source pacing presets; zap provides structured logging; Prometheus
//     metrics are exported on /metrics via the chi operations server.
//
// Run locally: go run ./cmd/newsingest -config config.yaml (or rely on
// NEWSINGEST_* env overrides). The process reacts to SIGTERM with a graceful
// drain of in-flight batches and buffered telemetry.
package main
