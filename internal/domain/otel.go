package domain

// OTLP attribute keys the mapper (spec.md §4.3) reads from span and
// resource attributes. Naming follows OpenTelemetry's gen_ai.* semantic
// conventions where one exists, and the proprietary langfuse.* namespace
// otherwise — both are present verbatim in spec.md §4.3 and are kept
// as named constants rather than inline string literals, matching the
// teacher's semantic-convention constant style.
const (
	AttrObservationType   = "langfuse.observation.type"
	AttrGenerationModel   = "langfuse.generation.model"
	AttrGenAIRequestModel = "gen_ai.request.model"
	AttrObservationInput  = "langfuse.observation.input"
	AttrObservationOutput = "langfuse.observation.output"
	AttrObservationUsage  = "langfuse.observation.usage_details"

	AttrTraceName           = "langfuse.trace.name"
	AttrUserID              = "user.id"
	AttrSessionID           = "session.id"
	AttrTraceTags           = "langfuse.trace.tags"
	AttrTraceMetadataPrefix = "langfuse.trace.metadata."

	AttrResourceMetadataKey = "otel.resource"
)
