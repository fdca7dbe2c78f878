package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/Open-Inflation/converter/internal/parsers"
	"github.com/Open-Inflation/converter/internal/queue"
	"github.com/Open-Inflation/converter/internal/syncengine"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(authToken string) *Server {
	engine := syncengine.NewEngine(parsers.NewRegistry())
	q := queue.New(engine, 4)
	return NewServer(q, Defaults{
		ReceiverDSN: "default-receiver.db",
		CatalogDSN:  "default-catalog.db",
		ParserName:  "fixprice",
		BatchSize:   100,
		MaxBatches:  0,
	}, authToken)
}

func TestHandleSnapshot_ReturnsQueueCounters(t *testing.T) {
	server := newTestServer("")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body, "queue_size")
	require.Contains(t, body, "running")
}

func TestHandleSubmit_MissingBodyFallsBackToDefaults(t *testing.T) {
	server := newTestServer("")
	req := httptest.NewRequest(http.MethodPost, "/trigger", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	job := body["job"].(map[string]interface{})
	require.Equal(t, "default-receiver.db", job["receiver_db"])
	require.Equal(t, "fixprice", job["parser_name"])
}

func TestHandleSubmit_RequiresReceiverAndCatalogDB(t *testing.T) {
	server := newTestServer("")
	server.defaults.ReceiverDSN = ""
	server.defaults.CatalogDSN = ""

	req := httptest.NewRequest(http.MethodPost, "/trigger", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSubmit_RejectsMissingAuthToken(t *testing.T) {
	server := newTestServer("secret-token")
	req := httptest.NewRequest(http.MethodPost, "/trigger", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleSubmit_AcceptsBearerToken(t *testing.T) {
	server := newTestServer("secret-token")
	req := httptest.NewRequest(http.MethodPost, "/trigger", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestHandleSubmit_DuplicateJobReturnsDuplicateReason(t *testing.T) {
	server := newTestServer("")

	payload, err := json.Marshal(map[string]interface{}{
		"receiver_db": "r.db",
		"catalog_db":  "c.db",
		"parser_name": "fixprice",
	})
	require.NoError(t, err)

	req1 := httptest.NewRequest(http.MethodPost, "/trigger", bytes.NewReader(payload))
	req1.Header.Set("Content-Type", "application/json")
	rec1 := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec1, req1)
	require.Equal(t, http.StatusAccepted, rec1.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/enqueue", bytes.NewReader(payload))
	req2.Header.Set("Content-Type", "application/json")
	rec2 := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec2, req2)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &body))
	require.Equal(t, "duplicate", body["reason"])
}

func TestCoerceInt_AcceptsNumericStringAndClampsToMinimum(t *testing.T) {
	require.Equal(t, 50, coerceInt(nil, 50, 1))
	require.Equal(t, 10, coerceInt(float64(10), 50, 1))
	require.Equal(t, 10, coerceInt("10", 50, 1))
	require.Equal(t, 1, coerceInt(float64(0), 50, 1))
}
