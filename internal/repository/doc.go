// Package repository contains the data access implementations for
// xtrace's trace/observation store.
//
// # Architecture
//
// Repository interfaces are defined at the handler layer (consumer-
// defined interfaces, see internal/handler.TraceRepository and
// internal/ingest.UpsertRepository) following Go's dependency
// inversion convention; this package holds the concrete
// implementations.
//
// # Data stores
//
//   - PostgreSQL (internal/repository/postgres): the system of record
//     for traces, observations and projects, written by the batching
//     worker and read by the query handlers.
//   - ClickHouse (internal/repository/clickhouse): a best-effort
//     analytical mirror of the observation rows (SPEC_FULL.md §2),
//     written by the ingest worker's post-commit hook, in the worker's
//     own goroutine, after each committed window.
//
// # Thread safety
//
// All repository implementations are safe for concurrent use.
// Connection pools are managed at the database layer.
package repository
