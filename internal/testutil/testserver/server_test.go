package testserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStub(t *testing.T, mutate func(c *ServerConfig)) *Server {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	s, err := NewServer(cfg, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func post(t *testing.T, h http.Handler, path, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestServer_Score(t *testing.T) {
	s := newStub(t, nil)

	rec, out := post(t, s, "/score", `{"creditScore": 720}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["conditionResult"])
	assert.Equal(t, 720.0, out["score"])

	_, out = post(t, s, "/score", `{"creditScore": 690}`, nil)
	assert.Equal(t, false, out["conditionResult"])

	_, out = post(t, s, "/score", `{}`, nil)
	assert.Equal(t, false, out["success"])
	assert.EqualValues(t, 3, s.Requests())
}

func TestServer_Offer(t *testing.T) {
	s := newStub(t, func(c *ServerConfig) { c.OfferRate = 0.02 })

	_, out := post(t, s, "/offer", `{"customerId": "C9", "annualIncome": 1000000}`, nil)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, 20000.0, out["discountAmount"])
	assert.Equal(t, "C9", out["customerId"])
}

func TestServer_AuthAndFailureInjection(t *testing.T) {
	s := newStub(t, func(c *ServerConfig) {
		c.AuthToken = "Bearer s3cret"
		c.FailFirst = 1
	})
	auth := map[string]string{"Authorization": "Bearer s3cret"}

	rec, _ := post(t, s, "/score", `{"creditScore": 800}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Rejected requests count toward FailFirst.
	rec, _ = post(t, s, "/score", `{"creditScore": 800}`, auth)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_FailFirst(t *testing.T) {
	s := newStub(t, func(c *ServerConfig) { c.FailFirst = 2 })

	for i := 0; i < 2; i++ {
		rec, _ := post(t, s, "/score", `{"creditScore": 800}`, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	}
	rec, _ := post(t, s, "/score", `{"creditScore": 800}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_SOAP(t *testing.T) {
	s := newStub(t, nil)
	envelope := `<?xml version="1.0" encoding="UTF-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body><EvaluationRequest><requestId>req-7</requestId><parameter name="creditScore">710</parameter></EvaluationRequest></soap:Body></soap:Envelope>`

	rec, _ := post(t, s, "/soap", envelope, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<ns:conditionResult>true</ns:conditionResult>")
	assert.Contains(t, rec.Body.String(), "<ns:requestId>req-7</ns:requestId>")

	rec, _ = post(t, s, "/soap", "not xml", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "<faultstring>")
}

func TestServer_Health(t *testing.T) {
	s := newStub(t, nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewServer_RejectsInvalidConfig(t *testing.T) {
	_, err := NewServer(&ServerConfig{OfferRate: 2}, zerolog.Nop())
	assert.Error(t, err)
}
