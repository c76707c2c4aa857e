// Package loadsim drives a running fieldguard server with simulated field
// employees and checks that ingest, idempotency and travel scoring hold up
// under concurrent uploads.
package loadsim

import "os"

// ShowHelp prints usage information for the load simulator.
func ShowHelp() {
	os.Stdout.WriteString(`FieldGuard Load Simulator
=========================

Uploads walking routes for many simulated employees at once, re-sends a
batch per employee to check idempotency, and verifies that every injected
teleport produced one IMPOSSIBLE_TRAVEL alert.

Usage:
  go run ./cmd/load-sim [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -employees int
        Simulated employees (default 20)
  -samples int
        Fixes per employee (default 240)
  -batch int
        Fixes per upload request, at most 500 (default 100)
  -jump-every int
        Teleport every N fixes, 0 to disable (default 60)
  -interval duration
        Time between fixes (default 30s)
  -workers int
        Employees uploading at once (default CPU cores * 2)
  -secret string
        JWT secret shared with the server (env FIELDGUARD_JWT_SECRET)
  -issuer string
        JWT issuer (env FIELDGUARD_JWT_ISSUER)
  -seed int
        Random seed, 0 for time based
  -verbose
        Log every batch
  -help
        Show this help message

Examples:
  go run ./cmd/load-sim -secret dev-secret
  go run ./cmd/load-sim -employees 200 -samples 1000 -batch 500 -workers 32
`)
}
