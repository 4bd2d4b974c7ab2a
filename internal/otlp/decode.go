package otlp

import (
	"compress/gzip"
	"io"
	"strings"

	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	apperrors "github.com/xtrace/xtrace/internal/pkg/errors"
)

// Decode parses an OTLP/HTTP request body into an
// ExportTraceServiceRequest, per spec.md §6's content negotiation:
// `application/json` → OTLP-JSON, `application/x-protobuf` → OTLP
// protobuf, anything else → BadRequest. `Content-Encoding: gzip`
// (case-insensitive) is inflated first; invalid gzip is BadRequest.
func Decode(body []byte, contentType, contentEncoding string) (*coltracepb.ExportTraceServiceRequest, error) {
	if strings.Contains(strings.ToLower(contentEncoding), "gzip") {
		inflated, err := gunzip(body)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeBadRequest, "invalid gzip body", 400, err)
		}
		body = inflated
	}

	req := &coltracepb.ExportTraceServiceRequest{}
	switch {
	case strings.HasPrefix(contentType, "application/json"):
		if err := protojson.Unmarshal(body, req); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeBadRequest, "invalid OTLP JSON payload", 400, err)
		}
	case strings.HasPrefix(contentType, "application/x-protobuf"):
		if err := proto.Unmarshal(body, req); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeBadRequest, "invalid OTLP protobuf payload", 400, err)
		}
	default:
		return nil, apperrors.BadRequest("unsupported content type for OTLP export: " + contentType)
	}
	return req, nil
}

func gunzip(b []byte) ([]byte, error) {
	r, err := gzip.NewReader(strings.NewReader(string(b)))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
