package otlp

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"

	"github.com/google/uuid"
	"github.com/xtrace/xtrace/internal/domain"
)

// decodeTraceIDBytes builds a UUID directly from the 16 raw trace-id
// bytes OTLP protobuf already decoded for us (spec.md §3: "OTLP trace
// IDs (16 bytes) map directly to UUID bytes").
func decodeTraceIDBytes(b []byte) (uuid.UUID, error) {
	if len(b) != 16 {
		return uuid.Nil, fmt.Errorf("otlp: trace id must be 16 bytes, got %d", len(b))
	}
	var u uuid.UUID
	copy(u[:], b)
	return u, nil
}

// decodeSpanIDBytes left-zero-pads the 8 raw span-id bytes to 16 bytes
// to fit the observation UUID column (spec.md §3).
func decodeSpanIDBytes(b []byte) (uuid.UUID, error) {
	if len(b) != 8 {
		return uuid.Nil, fmt.Errorf("otlp: span id must be 8 bytes, got %d", len(b))
	}
	var u uuid.UUID
	copy(u[8:], b)
	return u, nil
}

// traceAccumulator is the per-trace-id working state kept while folding
// spans from possibly many resource-spans/scope-spans blocks into one
// BatchIngest (spec.md §4.3, "Per-trace aggregation rules").
type traceAccumulator struct {
	id           uuid.UUID
	timestampSet bool
	timestamp    time.Time
	name         *string
	userID       *string
	sessionID    *string
	tagsSet      bool
	tags         []string
	metadata     map[string]json.RawMessage
	metadataKeys []string
	observations []domain.Observation
}

// Map converts a decoded OTLP ExportTraceServiceRequest into the
// spec.md §4.3 collection of BatchIngest records, one per distinct
// trace id encountered. defaultProjectID/defaultEnvironment are applied
// per spec.md §3's defaulting rules. The mapper performs no I/O and
// reads no clock; absent timestamps stay absent (the worker substitutes
// "now" at write time, not the mapper — spec.md §4.3).
func Map(req *coltracepb.ExportTraceServiceRequest, defaultProjectID, defaultEnvironment string) []domain.BatchIngest {
	accumulators := map[uuid.UUID]*traceAccumulator{}
	var order []uuid.UUID

	for _, rs := range req.GetResourceSpans() {
		var resourceAttrs []*commonpb.KeyValue
		if rs.GetResource() != nil {
			resourceAttrs = rs.GetResource().GetAttributes()
		}
		resourceJSON := AttributesAsJSON(resourceAttrs)

		for _, ss := range rs.GetScopeSpans() {
			for _, span := range ss.GetSpans() {
				mapSpan(span, resourceJSON, accumulators, &order, defaultProjectID, defaultEnvironment)
			}
		}
	}

	out := make([]domain.BatchIngest, 0, len(order))
	for _, id := range order {
		acc := accumulators[id]
		trace := &domain.Trace{
			ID:          acc.id,
			ProjectID:   defaultProjectID,
			Environment: defaultEnvironment,
			Name:        acc.name,
			UserID:      acc.userID,
			SessionID:   acc.sessionID,
			Tags:        acc.tags,
		}
		if acc.timestampSet {
			trace.Timestamp = acc.timestamp
		}
		if len(acc.metadataKeys) > 0 {
			trace.Metadata = buildOrderedObject(acc.metadataKeys, acc.metadata)
		}
		out = append(out, domain.BatchIngest{Trace: trace, Observations: acc.observations})
	}
	return out
}

func mapSpan(
	span *tracepb.Span,
	resourceJSON json.RawMessage,
	accumulators map[uuid.UUID]*traceAccumulator,
	order *[]uuid.UUID,
	defaultProjectID, defaultEnvironment string,
) {
	// Step 1: decode trace/span ids; skip this span silently on failure
	// (spec.md §4.3: "malformed spans must not poison the batch").
	traceID, err := decodeTraceIDBytes(span.GetTraceId())
	if err != nil {
		return
	}
	spanID, err := decodeSpanIDBytes(span.GetSpanId())
	if err != nil {
		return
	}

	acc, ok := accumulators[traceID]
	if !ok {
		acc = &traceAccumulator{id: traceID, metadata: map[string]json.RawMessage{}}
		accumulators[traceID] = acc
		*order = append(*order, traceID)
	}

	obs := domain.Observation{
		ID:          spanID,
		TraceID:     traceID,
		Type:        domain.DefaultObservationType,
		Environment: defaultEnvironment,
		ProjectID:   defaultProjectID,
		Level:       domain.DefaultLevel,
	}

	// Step 2: parent span id, if present/non-empty/non-zero.
	if len(span.GetParentSpanId()) > 0 {
		parentBytes := span.GetParentSpanId()
		if !allZero(parentBytes) {
			if parentID, err := decodeSpanIDBytes(parentBytes); err == nil {
				obs.ParentObservationID = &parentID
			}
		}
	}

	name := span.GetName()
	obs.Name = &name

	// Step 3: start/end times.
	var startTime time.Time
	var haveStart bool
	if st, ok := domain.UnixNano(int64(span.GetStartTimeUnixNano())); ok {
		obs.StartTime = &st
		startTime, haveStart = st, true
	}
	if et, ok := domain.UnixNano(int64(span.GetEndTimeUnixNano())); ok {
		obs.EndTime = &et
	}
	if obs.StartTime != nil && obs.EndTime != nil {
		lat := obs.EndTime.Sub(*obs.StartTime).Seconds()
		obs.Latency = &lat
	}

	attrs := span.GetAttributes()

	// Step 4: promoted attributes.
	if obsType, ok := GetString(attrs, domain.AttrObservationType); ok {
		obs.Type = strings.ToUpper(obsType)
	}
	if model, ok := GetString(attrs, domain.AttrGenerationModel); ok {
		obs.Model = &model
	} else if model, ok := GetString(attrs, domain.AttrGenAIRequestModel); ok {
		obs.Model = &model
	}
	if raw, ok := GetString(attrs, domain.AttrObservationInput); ok {
		obs.Input = parseJSONOrWrapString(raw)
	}
	if raw, ok := GetString(attrs, domain.AttrObservationOutput); ok {
		obs.Output = parseJSONOrWrapString(raw)
	}

	if name, ok := GetString(attrs, domain.AttrTraceName); ok && acc.name == nil {
		acc.name = &name
	}
	if uid, ok := GetString(attrs, domain.AttrUserID); ok && acc.userID == nil {
		acc.userID = &uid
	}
	if sid, ok := GetString(attrs, domain.AttrSessionID); ok && acc.sessionID == nil {
		acc.sessionID = &sid
	}
	if tags := GetStringArray(attrs, domain.AttrTraceTags); len(tags) > 0 && !acc.tagsSet {
		acc.tags = tags
		acc.tagsSet = true
	}
	mergeObject(acc, GetPrefixedMap(attrs, domain.AttrTraceMetadataPrefix))

	// Step 5: usage.
	obs.Usage, obs.PromptTokens, obs.CompletionTokens, obs.TotalTokens = computeUsage(attrs)

	// Step 6: observation metadata = as_json of every span attribute,
	// plus otel.resource from the enclosing resource-spans envelope.
	meta := map[string]json.RawMessage{}
	var metaKeys []string
	if full := AttributesAsJSON(attrs); len(full) > 2 {
		var decoded map[string]json.RawMessage
		if json.Unmarshal(full, &decoded) == nil {
			for k, v := range decoded {
				if _, seen := meta[k]; !seen {
					metaKeys = append(metaKeys, k)
				}
				meta[k] = v
			}
		}
	}
	meta[domain.AttrResourceMetadataKey] = resourceJSON
	metaKeys = append(metaKeys, domain.AttrResourceMetadataKey)
	obs.Metadata = buildOrderedObject(metaKeys, meta)

	// Trace timestamp = minimum start_time seen across its spans.
	if haveStart {
		if !acc.timestampSet || startTime.Before(acc.timestamp) {
			acc.timestamp = startTime
			acc.timestampSet = true
		}
	}

	acc.observations = append(acc.observations, obs)
}

func mergeObject(acc *traceAccumulator, obj json.RawMessage) {
	if len(obj) <= 2 {
		return
	}
	var decoded map[string]json.RawMessage
	if json.Unmarshal(obj, &decoded) != nil {
		return
	}
	for k, v := range decoded {
		if _, seen := acc.metadata[k]; !seen {
			acc.metadataKeys = append(acc.metadataKeys, k)
		}
		acc.metadata[k] = v // later writer overwrites on key conflict
	}
}

func buildOrderedObject(keys []string, vals map[string]json.RawMessage) json.RawMessage {
	var buf []byte
	buf = append(buf, '{')
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, _ := json.Marshal(k)
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, vals[k]...)
	}
	buf = append(buf, '}')
	return buf
}

func parseJSONOrWrapString(raw string) json.RawMessage {
	trimmed := strings.TrimSpace(raw)
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	b, _ := json.Marshal(raw)
	return b
}

type usageDetails struct {
	PromptTokens     *int64 `json:"promptTokens"`
	CompletionTokens *int64 `json:"completionTokens"`
	TotalTokens      *int64 `json:"totalTokens"`
}

func computeUsage(attrs []*commonpb.KeyValue) (usage json.RawMessage, prompt, completion, total *int64) {
	raw, ok := GetString(attrs, domain.AttrObservationUsage)
	var details usageDetails
	if ok {
		_ = json.Unmarshal([]byte(raw), &details)
	}
	zero := int64(0)
	p, c, t := zero, zero, zero
	if details.PromptTokens != nil {
		p = *details.PromptTokens
		prompt = details.PromptTokens
	}
	if details.CompletionTokens != nil {
		c = *details.CompletionTokens
		completion = details.CompletionTokens
	}
	if details.TotalTokens != nil {
		t = *details.TotalTokens
		total = details.TotalTokens
	}
	normalized := struct {
		Input  int64 `json:"input"`
		Output int64 `json:"output"`
		Total  int64 `json:"total"`
	}{Input: p, Output: c, Total: t}
	b, _ := json.Marshal(normalized)
	return b, prompt, completion, total
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
