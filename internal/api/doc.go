// Package api hosts the gateway's HTTP surfaces. Notable routes on the main
// listener:
//   - GET / liveness text.
//   - GET /<address> pass-through to the storage backend (cinema mode for video).
//   - any path with Upgrade: websocket hands off to the channel handler.
//
// The operations listener serves /metrics, /healthz and /readyz.
package api
