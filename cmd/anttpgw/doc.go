// Package main hosts the anttpgw entrypoint.
//
// Architecture overview:
//   - HTTP surface: internal/api.Server answers GET / with a liveness line and treats every other path as a
//     content address. Valid addresses are proxied to the storage backend with status, headers and body streamed
//     through; cinema mode swaps video responses for an HTML player page.
//   - Channel: any request asking for a WebSocket upgrade is handed to internal/channel. Each text or binary
//     message is one address; replies are a binary frame (length-prefixed JSON metadata plus payload) on success
//     or a text message on failure.
//   - Scheduler: internal/scheduler keeps a FIFO queue shared by all sessions and never runs more than
//     scheduler.max_concurrent fetches. Each fetch is bounded by scheduler.timeout_ms.
//   - Events & audit: job lifecycle events go through the progress hub to a zap log sink and, when a DSN is
//     configured, to a Postgres retrieval table.
//   - Ops: a second listener (metrics.addr) serves /metrics, /healthz and /readyz.
//
// Quick checklist:
//   - Configure env vars: ANTGW_SERVER_PORT or PORT, ANTGW_BACKEND_ENDPOINT or ANTPP_ENDPOINT,
//     ANTGW_CINEMA_ENABLED or CINEMA_MODE, ANTGW_SCHEDULER_MAX_CONCURRENT, ANTGW_SCHEDULER_TIMEOUT_MS.
//   - Run locally: go run ./cmd/anttpgw serve --config config.yaml.
//   - Fetch over the channel: go run ./cmd/anttpgw get <address> --url ws://localhost:8081 --out ./downloads.
package main
