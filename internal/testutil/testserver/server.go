package testserver

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const maxBodySize = 1 << 20

// Server is the stub scoring system.
//
// Routes:
//   - POST /score: {"success": true, "conditionResult": creditScore >= threshold, "score": creditScore}
//   - POST /offer: {"success": true, "discountAmount": annualIncome * rate, ...}
//   - POST /soap:  the same decision as /score in a SOAP 1.1 envelope
//   - GET /health
type Server struct {
	cfg      ServerConfig
	logger   zerolog.Logger
	mux      *http.ServeMux
	requests atomic.Int64
}

// NewServer creates the stub.
func NewServer(cfg *ServerConfig, logger zerolog.Logger) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{cfg: *cfg, logger: logger, mux: http.NewServeMux()}
	s.mux.HandleFunc("POST /score", s.handleScore)
	s.mux.HandleFunc("POST /offer", s.handleOffer)
	s.mux.HandleFunc("POST /soap", s.handleSOAP)
	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
	})
	return s, nil
}

// Requests returns how many requests the stub has received.
func (s *Server) Requests() int64 {
	return s.requests.Load()
}

// ServeHTTP applies authentication, delay and failure injection before
// routing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := s.requests.Add(1)
	s.logger.Debug().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("request_id", r.Header.Get("X-Request-ID")).
		Int64("n", n).
		Msg("request")

	if s.cfg.Delay > 0 {
		select {
		case <-time.After(s.cfg.Delay):
		case <-r.Context().Done():
			return
		}
	}
	if s.cfg.AuthToken != "" && r.Header.Get("Authorization") != s.cfg.AuthToken {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"success": false, "errorMessage": "unauthorized"})
		return
	}
	if n <= int64(s.cfg.FailFirst) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"success": false, "errorMessage": "temporarily unavailable"})
		return
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	score := gjson.GetBytes(body, "creditScore")
	if !score.Exists() {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false, "errorMessage": "creditScore is required"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":         true,
		"conditionResult": score.Int() >= int64(s.cfg.ScoreThreshold),
		"score":           score.Int(),
	})
}

func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	income := gjson.GetBytes(body, "annualIncome").Float()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"discountAmount": income * s.cfg.OfferRate,
		"promotionName":  "Partner Offer",
		"promotionType":  "PARTNER",
		"customerId":     gjson.GetBytes(body, "customerId").String(),
	})
}

type soapRequestEnvelope struct {
	RequestID  string `xml:"Body>EvaluationRequest>requestId"`
	Parameters []struct {
		Name  string `xml:"name,attr"`
		Value string `xml:",chardata"`
	} `xml:"Body>EvaluationRequest>parameter"`
}

const soapResponse = `<?xml version="1.0" encoding="UTF-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <ns:EvaluationResponse xmlns:ns="urn:promoflow:stub">
      <ns:requestId>%s</ns:requestId>
      <ns:conditionResult>%t</ns:conditionResult>
      <ns:promotionName>Legacy Score</ns:promotionName>
    </ns:EvaluationResponse>
  </soap:Body>
</soap:Envelope>`

const soapFault = `<?xml version="1.0" encoding="UTF-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <soap:Fault>
      <faultcode>soap:Client</faultcode>
      <faultstring>%s</faultstring>
    </soap:Fault>
  </soap:Body>
</soap:Envelope>`

func (s *Server) handleSOAP(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	var env soapRequestEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		writeXML(w, http.StatusInternalServerError, fmt.Sprintf(soapFault, "malformed envelope"))
		return
	}

	score := -1
	for _, p := range env.Parameters {
		if p.Name == "creditScore" {
			if v, err := strconv.Atoi(p.Value); err == nil {
				score = v
			}
		}
	}
	if score < 0 {
		writeXML(w, http.StatusInternalServerError, fmt.Sprintf(soapFault, "creditScore is required"))
		return
	}
	writeXML(w, http.StatusOK, fmt.Sprintf(soapResponse, env.RequestID, score >= s.cfg.ScoreThreshold))
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "errorMessage": err.Error()})
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeXML(w http.ResponseWriter, status int, doc string) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, doc)
}
