package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/OrbitaAI/call-orchestrator/internal/orchestrator"
)

func newTestRouter(t *testing.T, secretKey string, limiter *rate.Limiter) (*mux.Router, *orchestrator.Orchestrator) {
	t.Helper()
	service := orchestrator.NewOrchestrator(orchestrator.Options{
		DispatchTimeout: 2 * time.Second,
	})
	service.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		service.Shutdown(ctx)
	})

	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	router := mux.NewRouter()
	NewOrchestrationHandler(service, limiter).SetupOrchestrationRoutes(router, secretKey)
	return router, service
}

func doJSON(router *mux.Router, method, path string, body string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRegisterEndpointAndList(t *testing.T) {
	router, _ := newTestRouter(t, "", nil)

	rec := doJSON(router, "POST", "/api/v1/orchestration/endpoints", `{"url": "https://workflows.example.com/hook"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var endpoint orchestrator.Endpoint
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &endpoint))
	assert.NotEmpty(t, endpoint.ID)
	assert.Equal(t, "https://workflows.example.com/hook", endpoint.URL)
	assert.Equal(t, []string{"*"}, endpoint.Events, "missing events default to the wildcard")

	rec = doJSON(router, "GET", "/api/v1/orchestration/endpoints", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var listed []orchestrator.Endpoint
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, endpoint.ID, listed[0].ID)
}

func TestRegisterEndpointRejectsInvalidURL(t *testing.T) {
	router, _ := newTestRouter(t, "", nil)

	for _, raw := range []string{"", "not-a-url", "ftp://example.com/hook", "/relative/path"} {
		body, _ := json.Marshal(map[string]string{"url": raw})
		rec := doJSON(router, "POST", "/api/v1/orchestration/endpoints", string(body))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "url %q", raw)
		assert.Contains(t, rec.Body.String(), "url must be a valid http or https URL")
	}
}

func TestRegisterEndpointRejectsMalformedJSON(t *testing.T) {
	router, _ := newTestRouter(t, "", nil)

	rec := doJSON(router, "POST", "/api/v1/orchestration/endpoints", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnregisterEndpoint(t *testing.T) {
	router, service := newTestRouter(t, "", nil)

	endpoint, err := service.RegisterEndpoint("https://workflows.example.com/hook", nil)
	require.NoError(t, err)

	rec := doJSON(router, "DELETE", "/api/v1/orchestration/endpoints/"+endpoint.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var response map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "ok", response["status"])
	assert.Equal(t, endpoint.ID, response["removed"])

	rec = doJSON(router, "DELETE", "/api/v1/orchestration/endpoints/"+endpoint.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Endpoint not found")
}

func TestEmitEventWithoutSubscribers(t *testing.T) {
	router, _ := newTestRouter(t, "", nil)

	rec := doJSON(router, "POST", "/api/v1/orchestration/emit/fs.manual_test", `{"a": "b"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var response EmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, 0, response.Dispatched)
	assert.NotNil(t, response.Results)
	assert.Empty(t, response.Results)
}

func TestEmitEventAcceptsEmptyBody(t *testing.T) {
	router, _ := newTestRouter(t, "", nil)

	rec := doJSON(router, "POST", "/api/v1/orchestration/emit/fs.manual_test", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEmitEventForwardsPayloadToSubscriber(t *testing.T) {
	var mu sync.Mutex
	var envelopes []map[string]interface{}
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var envelope map[string]interface{}
		json.NewDecoder(r.Body).Decode(&envelope)
		mu.Lock()
		envelopes = append(envelopes, envelope)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	router, service := newTestRouter(t, "", nil)
	_, err := service.RegisterEndpoint(target.URL, []string{"*"})
	require.NoError(t, err)

	rec := doJSON(router, "POST", "/api/v1/orchestration/emit/fs.manual_test", `{"campaign": "spring"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var response EmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Equal(t, 1, response.Dispatched)
	assert.True(t, response.Results[0].OK)
	assert.Equal(t, http.StatusOK, response.Results[0].StatusCode)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, envelopes, 1)
	assert.Equal(t, "fs.manual_test", envelopes[0]["event"])
	assert.Equal(t, map[string]interface{}{"campaign": "spring"}, envelopes[0]["payload"],
		"manual emissions forward the caller's payload untouched")
}

func TestEmitEventRateLimited(t *testing.T) {
	router, _ := newTestRouter(t, "", rate.NewLimiter(1, 1))

	rec := doJSON(router, "POST", "/api/v1/orchestration/emit/fs.manual_test", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(router, "POST", "/api/v1/orchestration/emit/fs.manual_test", `{}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")

	rec = doJSON(router, "GET", "/api/v1/orchestration/endpoints", "")
	assert.Equal(t, http.StatusOK, rec.Code, "the limiter only guards the emit surface")
}

func TestHangupCallAccepted(t *testing.T) {
	router, _ := newTestRouter(t, "", nil)

	rec := doJSON(router, "DELETE", "/api/v1/orchestration/calls/call-1", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var response HangupResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "cleanup_requested", response.Status)
	assert.Equal(t, "call-1", response.CallID)
}

func TestContentTypeValidation(t *testing.T) {
	router, _ := newTestRouter(t, "", nil)

	req := httptest.NewRequest("POST", "/api/v1/orchestration/endpoints", bytes.NewReader([]byte(`{"url": "https://example.com"}`)))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestCORSHeadersOnResponses(t *testing.T) {
	router, _ := newTestRouter(t, "", nil)

	rec := doJSON(router, "GET", "/api/v1/orchestration/endpoints", "")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAPIKeyEnforcement(t *testing.T) {
	router, _ := newTestRouter(t, "test-secret", nil)

	rec := doJSON(router, "GET", "/api/v1/orchestration/endpoints", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing key")

	req := httptest.NewRequest("GET", "/api/v1/orchestration/endpoints", nil)
	req.Header.Set("X-API-Key", "garbage")
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusUnauthorized, rec2.Code)
	assert.Contains(t, rec2.Body.String(), "invalid key")

	wrongScope := signTestToken(t, "test-secret", "reporting")
	req = httptest.NewRequest("GET", "/api/v1/orchestration/endpoints", nil)
	req.Header.Set("X-API-Key", wrongScope)
	rec3 := httptest.NewRecorder()
	router.ServeHTTP(rec3, req)
	assert.Equal(t, http.StatusUnauthorized, rec3.Code)

	valid := signTestToken(t, "test-secret", "orchestrator")
	req = httptest.NewRequest("GET", "/api/v1/orchestration/endpoints", nil)
	req.Header.Set("X-API-Key", valid)
	rec4 := httptest.NewRecorder()
	router.ServeHTTP(rec4, req)
	assert.Equal(t, http.StatusOK, rec4.Code)
}

func signTestToken(t *testing.T, secret, scope string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"scope": scope})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}
