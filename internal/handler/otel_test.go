package handler

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrace/xtrace/internal/ingest"
	"github.com/xtrace/xtrace/internal/middleware"
)

func setupOTelTestApp(queue *ingest.Queue, projectID string) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if projectID != "" {
			c.Locals(string(middleware.ContextKeyProjectID), projectID)
		}
		return c.Next()
	})
	h := NewOTelHandler(queue, "default")
	app.Post("/api/public/otel/v1/traces", h.ExportTraces)
	return app
}

const otlpJSONBody = `{
	"resourceSpans": [{
		"resource": {"attributes": []},
		"scopeSpans": [{
			"spans": [{
				"traceId": "ASNFZ4mrze8BI0VniavN7w==",
				"spanId": "q83vASNFZ4k=",
				"name": "generate",
				"startTimeUnixNano": "1700000000000000000",
				"endTimeUnixNano": "1700000001000000000",
				"attributes": [
					{"key": "langfuse.observation.type", "value": {"stringValue": "generation"}},
					{"key": "langfuse.generation.model", "value": {"stringValue": "gpt-4"}},
					{"key": "langfuse.observation.input", "value": {"stringValue": "{\"q\":1}"}},
					{"key": "langfuse.observation.usage_details", "value": {"stringValue": "{\"promptTokens\":10,\"completionTokens\":20,\"totalTokens\":30}"}}
				]
			}]
		}]
	}]
}`

func TestOTelHandler_ExportTraces(t *testing.T) {
	t.Run("accepts a JSON OTLP export and enqueues the mapped batch", func(t *testing.T) {
		queue := ingest.NewQueue(10)
		app := setupOTelTestApp(queue, "proj-1")

		req := httptest.NewRequest(http.MethodPost, "/api/public/otel/v1/traces", bytes.NewReader([]byte(otlpJSONBody)))
		req.Header.Set("Content-Type", "application/json")

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, 1, queue.Len())

		item := <-queue.Receive()
		require.NotNil(t, item.Trace)
		assert.Equal(t, "proj-1", item.Trace.ProjectID)
		require.Len(t, item.Observations, 1)
		require.NotNil(t, item.Observations[0].Model)
		assert.Equal(t, "gpt-4", *item.Observations[0].Model)
	})

	t.Run("rejects an unsupported content type", func(t *testing.T) {
		queue := ingest.NewQueue(10)
		app := setupOTelTestApp(queue, "proj-1")

		req := httptest.NewRequest(http.MethodPost, "/api/public/otel/v1/traces", bytes.NewReader([]byte("garbage")))
		req.Header.Set("Content-Type", "text/plain")

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Zero(t, queue.Len())
	})

	t.Run("rejects invalid gzip", func(t *testing.T) {
		queue := ingest.NewQueue(10)
		app := setupOTelTestApp(queue, "proj-1")

		req := httptest.NewRequest(http.MethodPost, "/api/public/otel/v1/traces", bytes.NewReader([]byte("not gzip")))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Content-Encoding", "gzip")

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("returns 401 without a resolved project", func(t *testing.T) {
		queue := ingest.NewQueue(10)
		app := setupOTelTestApp(queue, "")

		req := httptest.NewRequest(http.MethodPost, "/api/public/otel/v1/traces", bytes.NewReader([]byte(otlpJSONBody)))
		req.Header.Set("Content-Type", "application/json")

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}
