package domain

import "time"

// ModelUsage is one per-day per-model breakdown row of the daily rollup
// (spec.md §4.7 step 4-5).
type ModelUsage struct {
	Model             string  `json:"model"`
	InputUsage        int64   `json:"inputUsage"`
	OutputUsage       int64   `json:"outputUsage"`
	TotalUsage        int64   `json:"totalUsage"`
	CountTraces       int64   `json:"countTraces"`
	CountObservations int64   `json:"countObservations"`
	TotalCost         float64 `json:"totalCost"`
}

// DailyMetrics is one row of the daily rollup response (spec.md §4.7
// step 6).
type DailyMetrics struct {
	Date             time.Time    `json:"date"`
	CountTraces      int64        `json:"countTraces"`
	CountObservations int64       `json:"countObservations"`
	TotalCost        float64      `json:"totalCost"`
	Usage            []ModelUsage `json:"usage"`
}

// UnknownModel substitutes for an observation with no model attribute in
// the per-model usage breakdown (spec.md §4.7 step 4).
const UnknownModel = "unknown"
