// Package testutil holds helpers shared by package tests.
package testutil

import (
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dshills/promoflow/internal/testutil/testserver"
)

// StartScoringServer runs the stub scoring system on a random local port
// until the test ends. A nil cfg uses the defaults.
func StartScoringServer(t testing.TB, cfg *testserver.ServerConfig) (*testserver.Server, string) {
	t.Helper()

	stub, err := testserver.NewServer(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create scoring stub: %v", err)
	}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	return stub, srv.URL
}
