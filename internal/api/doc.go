// Package api provides the Binance spot REST client used to page through klines.
//
// REST endpoints:
//   - Production: https://api.binance.com
//   - Testnet: https://testnet.binance.vision
//
// Endpoints used: GET /api/v3/klines, GET /sapi/v1/system/status.
//
// Every request waits on the shared ratelimit.Coordinator. Rate-limit and transient
// failures are retried inside the client with separate budgets; everything else is
// returned to the caller classified against the model error kinds.
package api
