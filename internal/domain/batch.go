package domain

import "github.com/google/uuid"

// BatchIngest is a single ingestion envelope carrying zero or one Trace
// and zero or more Observations (see GLOSSARY, spec.md). Both the
// `/v1/l/batch` JSON decoder and the OTLP mapper produce values of this
// type; the ingest queue and batching worker never look past it.
type BatchIngest struct {
	Trace        *Trace
	Observations []Observation
}

// TraceRef is used by the upsert layer to create a minimal trace stub
// when an observation arrives before its trace envelope (spec.md §4.5).
type TraceRef struct {
	ID          uuid.UUID
	ProjectID   string
	Environment string
}
