//go:build e2e
// +build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// E2ETestSuite runs end-to-end tests against a running xtrace server
// process, exercising spec.md §8's S1-S6 scenarios over real HTTP. It
// never imports this module's internal packages; every assertion works
// off the wire shapes documented in spec.md §4/§6.
type E2ETestSuite struct {
	suite.Suite
	baseURL string
	token   string
	client  *http.Client
}

func TestE2ESuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e tests in short mode")
	}
	suite.Run(t, new(E2ETestSuite))
}

func (s *E2ETestSuite) SetupSuite() {
	s.baseURL = os.Getenv("XTRACE_E2E_BASE_URL")
	if s.baseURL == "" {
		s.baseURL = "http://localhost:8742"
	}

	s.token = os.Getenv("XTRACE_E2E_BEARER_TOKEN")
	if s.token == "" {
		s.T().Fatal("XTRACE_E2E_BEARER_TOKEN environment variable is required")
	}

	s.client = &http.Client{Timeout: 30 * time.Second}
	s.waitForReady()
}

func (s *E2ETestSuite) waitForReady() {
	for i := 0; i < 30; i++ {
		resp, err := s.client.Get(s.baseURL + "/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(time.Second)
	}
	s.T().Fatal("server did not become healthy within timeout")
}

// ============ HELPERS ============

func (s *E2ETestSuite) doRequest(method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	contentType := "application/json"
	if raw, ok := body.(json.RawMessage); ok {
		bodyReader = bytes.NewReader(raw)
	} else if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, s.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", contentType)
	return s.client.Do(req)
}

func (s *E2ETestSuite) decode(resp *http.Response, v interface{}) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(s.T(), err)
	if v != nil {
		require.NoError(s.T(), json.Unmarshal(body, v), "response body: %s", string(body))
	}
}

// ============ HEALTH ============

func (s *E2ETestSuite) TestHealthz() {
	resp, err := s.client.Get(s.baseURL + "/healthz")
	require.NoError(s.T(), err)

	var status map[string]interface{}
	s.decode(resp, &status)
	assert.NotEmpty(s.T(), status["version"])
}

// ============ S1: OTLP single generation ============

func (s *E2ETestSuite) TestOTLPSingleGeneration() {
	const traceIDB64 = "ASNFZ4mrze8BI0VniavN7w=="
	const spanIDB64 = "q83vASNFZ4k="
	const traceID = "01234567-89ab-cdef-0123-456789abcdef"

	payload := fmt.Sprintf(`{
		"resourceSpans": [{
			"resource": {"attributes": []},
			"scopeSpans": [{
				"spans": [{
					"traceId": %q,
					"spanId": %q,
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
	}`, traceIDB64, spanIDB64)

	resp, err := s.doRequest(http.MethodPost, "/api/public/otel/v1/traces", json.RawMessage(payload))
	require.NoError(s.T(), err)
	resp.Body.Close()
	assert.Equal(s.T(), http.StatusOK, resp.StatusCode)

	var detail struct {
		Timestamp    time.Time `json:"timestamp"`
		Observations []struct {
			Type  string `json:"type"`
			Model string `json:"model"`
			Usage struct {
				Input  int64 `json:"input"`
				Output int64 `json:"output"`
				Total  int64 `json:"total"`
			} `json:"usage"`
		} `json:"observations"`
	}
	s.eventuallyGetTrace(traceID, &detail)

	assert.Equal(s.T(), "2023-11-14T22:13:20Z", detail.Timestamp.UTC().Format(time.RFC3339))
	require.Len(s.T(), detail.Observations, 1)
	assert.Equal(s.T(), "GENERATION", detail.Observations[0].Type)
	assert.Equal(s.T(), "gpt-4", detail.Observations[0].Model)
	assert.EqualValues(s.T(), 10, detail.Observations[0].Usage.Input)
	assert.EqualValues(s.T(), 20, detail.Observations[0].Usage.Output)
	assert.EqualValues(s.T(), 30, detail.Observations[0].Usage.Total)
}

// ============ S2: batch upsert idempotence ============

func (s *E2ETestSuite) TestBatchUpsertIdempotence() {
	traceID := uuid.New()
	obsID := uuid.New()

	body := fmt.Sprintf(`{
		"trace": {"id": %q, "name": "t1", "tags": ["x"]},
		"observations": [{"id": %q, "traceId": %q, "type": "SPAN"}]
	}`, traceID, obsID, traceID)

	for i := 0; i < 2; i++ {
		resp, err := s.doRequest(http.MethodPost, "/v1/l/batch", json.RawMessage(body))
		require.NoError(s.T(), err)
		resp.Body.Close()
		assert.Equal(s.T(), http.StatusOK, resp.StatusCode)
	}

	var detail struct {
		Observations []struct {
			ID string `json:"id"`
		} `json:"observations"`
	}
	s.eventuallyGetTrace(traceID.String(), &detail)

	require.Len(s.T(), detail.Observations, 1)
	assert.Equal(s.T(), obsID.String(), detail.Observations[0].ID)
}

// eventuallyGetTrace polls GET /api/public/traces/{id} until the
// batching worker has committed the window (spec.md §4.4's bounded
// delay), or fails the test after a few seconds.
func (s *E2ETestSuite) eventuallyGetTrace(traceID string, out interface{}) {
	var last *http.Response
	for i := 0; i < 20; i++ {
		resp, err := s.doRequest(http.MethodGet, "/api/public/traces/"+traceID, nil)
		require.NoError(s.T(), err)
		if resp.StatusCode == http.StatusOK {
			s.decode(resp, out)
			return
		}
		resp.Body.Close()
		last = resp
		time.Sleep(250 * time.Millisecond)
	}
	s.T().Fatalf("trace %s never committed, last status %v", traceID, last.StatusCode)
}

// ============ S3: field-mask omission ============

func (s *E2ETestSuite) TestFieldMaskOmission() {
	for i := 0; i < 30; i++ {
		traceID := uuid.New()
		body := fmt.Sprintf(`{"trace": {"id": %q, "name": "fm-%d"}}`, traceID, i)
		resp, err := s.doRequest(http.MethodPost, "/v1/l/batch", json.RawMessage(body))
		require.NoError(s.T(), err)
		resp.Body.Close()
		require.Equal(s.T(), http.StatusOK, resp.StatusCode)
	}
	time.Sleep(500 * time.Millisecond)

	resp, err := s.doRequest(http.MethodGet, "/api/public/traces?fields=observations&limit=5&page=1", nil)
	require.NoError(s.T(), err)

	var page struct {
		Data []struct {
			Input        json.RawMessage `json:"input"`
			Output       json.RawMessage `json:"output"`
			Metadata     json.RawMessage `json:"metadata"`
			Latency      float64         `json:"latency"`
			TotalCost    float64         `json:"totalCost"`
			Observations []string        `json:"observations"`
			Scores       []string        `json:"scores"`
		} `json:"data"`
		Meta struct {
			TotalItems int `json:"totalItems"`
			TotalPages int `json:"totalPages"`
		} `json:"meta"`
	}
	s.decode(resp, &page)

	require.Len(s.T(), page.Data, 5)
	for _, row := range page.Data {
		assert.Nil(s.T(), row.Input)
		assert.Nil(s.T(), row.Output)
		assert.Nil(s.T(), row.Metadata)
		assert.Equal(s.T(), -1.0, row.Latency)
		assert.Equal(s.T(), -1.0, row.TotalCost)
		assert.Equal(s.T(), []string{}, row.Scores)
	}
	assert.GreaterOrEqual(s.T(), page.Meta.TotalItems, 30)
	assert.GreaterOrEqual(s.T(), page.Meta.TotalPages, 6)
}

// ============ S4: daily rollup aggregation ============

func (s *E2ETestSuite) TestDailyRollupAggregation() {
	day := time.Now().UTC().Truncate(24 * time.Hour)
	costs := []float64{1.0, 2.0, 3.0}
	obsCosts := []float64{0.5, 1.0, 1.5}
	models := []string{"m1", "m1", "m2"}

	for i := range costs {
		traceID := uuid.New()
		obsID := uuid.New()
		body := fmt.Sprintf(`{
			"trace": {"id": %q, "timestamp": %q, "totalCost": %v},
			"observations": [{"id": %q, "traceId": %q, "type": "GENERATION", "model": %q, "calculatedTotalCost": %v}]
		}`, traceID, day.Format(time.RFC3339), costs[i], obsID, traceID, models[i], obsCosts[i])

		resp, err := s.doRequest(http.MethodPost, "/v1/l/batch", json.RawMessage(body))
		require.NoError(s.T(), err)
		resp.Body.Close()
		require.Equal(s.T(), http.StatusOK, resp.StatusCode)
	}
	time.Sleep(500 * time.Millisecond)

	path := fmt.Sprintf("/api/public/metrics/daily?fromTimestamp=%s&toTimestamp=%s",
		day.Format(time.RFC3339), day.AddDate(0, 0, 1).Format(time.RFC3339))
	resp, err := s.doRequest(http.MethodGet, path, nil)
	require.NoError(s.T(), err)

	var page struct {
		Data []struct {
			Date            string  `json:"date"`
			CountTraces     int     `json:"countTraces"`
			CountObservations int   `json:"countObservations"`
			TotalCost       float64 `json:"totalCost"`
			Usage           []struct {
				Model     string  `json:"model"`
				TotalCost float64 `json:"totalCost"`
			} `json:"usage"`
		} `json:"data"`
	}
	s.decode(resp, &page)

	require.NotEmpty(s.T(), page.Data)
	row := page.Data[0]
	assert.GreaterOrEqual(s.T(), row.CountTraces, 3)
	assert.GreaterOrEqual(s.T(), row.CountObservations, 3)
	assert.InDelta(s.T(), 6.0, row.TotalCost, 0.01)
}

// ============ S5: admission control ============

func (s *E2ETestSuite) TestAdmissionControlUnderLoad() {
	// Invariant 8 (spec.md §8): any accepted batch succeeds with 200,
	// any batch rejected for a full queue returns 429. This harness
	// doesn't control the server's queue capacity, so it only asserts
	// the response set stays within {200, 429} under concurrent load
	// rather than forcing a 429 deterministically.
	const concurrency = 20
	statuses := make([]int, concurrency)
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			traceID := uuid.New()
			body := fmt.Sprintf(`{"trace": {"id": %q, "name": "load-%d"}}`, traceID, i)
			resp, err := s.doRequest(http.MethodPost, "/v1/l/batch", json.RawMessage(body))
			if err != nil {
				statuses[i] = -1
				return
			}
			resp.Body.Close()
			statuses[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	for _, code := range statuses {
		assert.Contains(s.T(), []int{http.StatusOK, http.StatusTooManyRequests}, code)
	}
}

// ============ S6: unauthorized ============

func (s *E2ETestSuite) TestUnauthorized() {
	req, err := http.NewRequest(http.MethodGet, s.baseURL+"/api/public/traces", nil)
	require.NoError(s.T(), err)
	resp, err := s.client.Do(req)
	require.NoError(s.T(), err)

	assert.Equal(s.T(), http.StatusUnauthorized, resp.StatusCode)

	var body map[string]string
	s.decode(resp, &body)
	assert.Equal(s.T(), "Unauthorized", body["message"])
}
