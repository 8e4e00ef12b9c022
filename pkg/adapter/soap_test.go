package adapter

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const soapOK = `<?xml version="1.0" encoding="UTF-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <ns:EvaluationResponse xmlns:ns="urn:promo">
      <ns:conditionResult>true</ns:conditionResult>
      <ns:discountAmount>250.75</ns:discountAmount>
      <ns:promotionName>Legacy Gold</ns:promotionName>
      <ns:ignored>x</ns:ignored>
    </ns:EvaluationResponse>
  </soap:Body>
</soap:Envelope>`

const soapFault = `<?xml version="1.0"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <soap:Fault>
      <faultcode>soap:Server</faultcode>
      <faultstring>backend unavailable</faultstring>
    </soap:Fault>
  </soap:Body>
</soap:Envelope>`

func TestSOAPAdapter_Call(t *testing.T) {
	var body string
	var action string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		action = r.Header.Get("SOAPAction")
		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write([]byte(soapOK))
	}))
	defer server.Close()

	a, err := NewSOAPAdapter(SOAPConfig{Endpoint: server.URL, Action: "urn:promo/Evaluate"})
	require.NoError(t, err)

	req := NewRequest("req-7").Param("customerId", "C1").Param("creditScore", 650).Build()
	resp, err := a.Call(context.Background(), req, time.Second)
	require.NoError(t, err)

	assert.True(t, resp.Success())
	assert.Equal(t, "true", resp.Data()["conditionResult"])
	assert.Equal(t, 250.75, resp.Data()["discountAmount"])
	assert.Equal(t, "Legacy Gold", resp.Data()["promotionName"])
	_, ok := resp.Get("ignored")
	assert.False(t, ok)

	assert.Equal(t, `"urn:promo/Evaluate"`, action)
	assert.Contains(t, body, `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">`)
	assert.Contains(t, body, `<requestId>req-7</requestId>`)
	assert.Contains(t, body, `<parameter name="creditScore">650</parameter>`)
}

func TestSOAPAdapter_FaultIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(soapFault))
	}))
	defer server.Close()

	a, err := NewSOAPAdapter(SOAPConfig{Endpoint: server.URL})
	require.NoError(t, err)

	_, err = a.Call(context.Background(), NewRequest("r").Build(), time.Second)
	require.Error(t, err)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Contains(t, te.Error(), "backend unavailable")
	assert.Equal(t, http.StatusInternalServerError, te.StatusCode)
}

func TestScanSOAPBody(t *testing.T) {
	fields, fault, err := scanSOAPBody([]byte(`<r><success>false</success><errorMessage>nope</errorMessage></r>`))
	require.NoError(t, err)
	assert.Empty(t, fault)
	assert.Equal(t, "false", fields["success"])
	assert.Equal(t, "nope", fields["errorMessage"])

	_, _, err = scanSOAPBody([]byte(`<r><unclosed></r>`))
	assert.Error(t, err)

	_, _, err = scanSOAPBody([]byte(``))
	assert.Error(t, err)
}

func TestSOAPAdapter_ReportedFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<Envelope><Body><success>false</success><errorMessage>account frozen</errorMessage></Body></Envelope>`))
	}))
	defer server.Close()

	a, err := NewSOAPAdapter(SOAPConfig{Endpoint: server.URL})
	require.NoError(t, err)

	resp, err := a.Call(context.Background(), NewRequest("r").Build(), time.Second)
	require.NoError(t, err)
	assert.False(t, resp.Success())
	assert.Equal(t, "account frozen", resp.ErrorMessage())
}
