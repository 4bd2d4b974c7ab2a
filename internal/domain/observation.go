package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DefaultObservationType is substituted when an incoming observation
// omits its type (spec.md §3).
const DefaultObservationType = "GENERATION"

// DefaultLevel is substituted when an observation omits its level.
const DefaultLevel = "DEFAULT"

// DefaultEnvironment is substituted when a trace or observation omits
// its environment.
const DefaultEnvironment = "default"

// Observation is the persistent, upsert-keyed-by-id record of one
// operation within a trace. See spec.md §3.
type Observation struct {
	ID                   uuid.UUID       `json:"id"`
	TraceID              uuid.UUID       `json:"traceId"`
	Type                 string          `json:"type"`
	Name                 *string         `json:"name,omitempty"`
	StartTime            *time.Time      `json:"startTime,omitempty"`
	EndTime              *time.Time      `json:"endTime,omitempty"`
	CompletionStartTime  *time.Time      `json:"completionStartTime,omitempty"`
	Model                *string         `json:"model,omitempty"`
	ModelParameters      json.RawMessage `json:"modelParameters,omitempty"`
	Input                json.RawMessage `json:"input,omitempty"`
	Output               json.RawMessage `json:"output,omitempty"`
	Usage                json.RawMessage `json:"usage,omitempty"`
	InputPrice           *float64        `json:"inputPrice,omitempty"`
	OutputPrice          *float64        `json:"outputPrice,omitempty"`
	TotalPrice           *float64        `json:"totalPrice,omitempty"`
	CalculatedInputCost  *float64        `json:"calculatedInputCost,omitempty"`
	CalculatedOutputCost *float64        `json:"calculatedOutputCost,omitempty"`
	CalculatedTotalCost  *float64        `json:"calculatedTotalCost,omitempty"`
	PromptTokens         *int64          `json:"promptTokens,omitempty"`
	CompletionTokens     *int64          `json:"completionTokens,omitempty"`
	TotalTokens          *int64          `json:"totalTokens,omitempty"`
	Latency              *float64        `json:"latency,omitempty"`
	TimeToFirstToken     *float64        `json:"timeToFirstToken,omitempty"`
	Level                string          `json:"level"`
	StatusMessage        *string         `json:"statusMessage,omitempty"`
	ParentObservationID  *uuid.UUID      `json:"parentObservationId,omitempty"`
	PromptName           *string         `json:"promptName,omitempty"`
	PromptVersion        *string         `json:"promptVersion,omitempty"`
	Metadata             json.RawMessage `json:"metadata,omitempty"`
	Environment          string          `json:"environment"`
	ProjectID            string          `json:"projectId"`
	Unit                 *string         `json:"unit,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
}

// UsageView is the shaped usage object returned by the trace-detail
// query (spec.md §4.8).
type UsageView struct {
	Input      *int64   `json:"input"`
	Output     *int64   `json:"output"`
	Total      *int64   `json:"total"`
	Unit       *string  `json:"unit,omitempty"`
	InputCost  *float64 `json:"inputCost,omitempty"`
	OutputCost *float64 `json:"outputCost,omitempty"`
	TotalCost  *float64 `json:"totalCost,omitempty"`
}

// UsageDetails is the zero-substituted {input, output, total} shape used
// both for usage_details (tokens) and cost_details (money).
type UsageDetails struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
	Total  float64 `json:"total"`
}

// ObservationDetailView is one observation as attached to a trace-detail
// response (spec.md §4.8).
type ObservationDetailView struct {
	ID                  uuid.UUID       `json:"id"`
	TraceID             uuid.UUID       `json:"traceId"`
	Type                string          `json:"type"`
	Name                *string         `json:"name,omitempty"`
	StartTime           time.Time       `json:"startTime"`
	EndTime             *time.Time      `json:"endTime,omitempty"`
	Model               *string         `json:"model,omitempty"`
	ModelParameters     json.RawMessage `json:"modelParameters,omitempty"`
	Input               json.RawMessage `json:"input,omitempty"`
	Output              json.RawMessage `json:"output,omitempty"`
	Usage               UsageView       `json:"usage"`
	UsageDetails        UsageDetails    `json:"usageDetails"`
	CostDetails         UsageDetails    `json:"costDetails"`
	Level               string          `json:"level"`
	StatusMessage       *string         `json:"statusMessage,omitempty"`
	ParentObservationID *uuid.UUID      `json:"parentObservationId,omitempty"`
	PromptVersion       *int64          `json:"promptVersion,omitempty"`
	Metadata            json.RawMessage `json:"metadata,omitempty"`
	HTMLPath            string          `json:"htmlPath"`
	Scores              []string        `json:"scores"`
}

// TraceDetail is the full spec.md §4.8 response shape.
type TraceDetail struct {
	Trace
	HTMLPath     string                  `json:"htmlPath"`
	Observations []ObservationDetailView `json:"observations"`
	Scores       []string                `json:"scores"`
}
