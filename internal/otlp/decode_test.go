package otlp

import (
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
)

func TestDecode_JSON(t *testing.T) {
	body := []byte(`{"resourceSpans":[]}`)
	req, err := Decode(body, "application/json", "")
	require.NoError(t, err)
	assert.Empty(t, req.GetResourceSpans())
}

func TestDecode_Protobuf(t *testing.T) {
	msg := &coltracepb.ExportTraceServiceRequest{}
	body, err := proto.Marshal(msg)
	require.NoError(t, err)

	req, err := Decode(body, "application/x-protobuf", "")
	require.NoError(t, err)
	assert.Empty(t, req.GetResourceSpans())
}

func TestDecode_UnsupportedContentType(t *testing.T) {
	_, err := Decode([]byte("x"), "text/plain", "")
	assert.Error(t, err)
}

func TestDecode_InvalidGzip(t *testing.T) {
	_, err := Decode([]byte("not gzip"), "application/json", "gzip")
	assert.Error(t, err)
}

func TestDecode_GzipCaseInsensitive(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write([]byte(`{"resourceSpans":[]}`))
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	req, err := Decode(buf.Bytes(), "application/json", "GZIP")
	require.NoError(t, err)
	assert.Empty(t, req.GetResourceSpans())
}

func TestDecode_InvalidJSON(t *testing.T) {
	_, err := Decode([]byte("not json"), "application/json", "")
	assert.Error(t, err)
}
