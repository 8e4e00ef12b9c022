package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/promoflow/internal/testutil"
	"github.com/dshills/promoflow/internal/testutil/testserver"
)

func TestWithRetry_RecoversFromUnavailableService(t *testing.T) {
	cfg := testserver.DefaultConfig()
	cfg.FailFirst = 2
	stub, url := testutil.StartScoringServer(t, cfg)

	a, err := NewHTTPAdapter(HTTPConfig{Endpoint: url + "/score"})
	require.NoError(t, err)
	retrying := WithRetry(a, 2, time.Millisecond, zerolog.Nop())
	defer func() { _ = retrying.Close() }()

	req := NewRequest("req-retry").Param("creditScore", 720).Build()
	resp, err := retrying.Call(context.Background(), req, time.Second)
	require.NoError(t, err)

	v, ok := resp.Get("conditionResult")
	require.True(t, ok)
	assert.Equal(t, true, v)
	assert.EqualValues(t, 3, stub.Requests())
}

func TestSOAPAdapter_AgainstStub(t *testing.T) {
	_, url := testutil.StartScoringServer(t, nil)

	a, err := NewSOAPAdapter(SOAPConfig{Endpoint: url + "/soap", Action: "urn:Evaluate"})
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	resp, err := a.Call(context.Background(), NewRequest("req-soap").Param("creditScore", 650).Build(), time.Second)
	require.NoError(t, err)
	v, ok := resp.Get("conditionResult")
	require.True(t, ok)
	assert.Equal(t, "false", v)
	v, _ = resp.Get("promotionName")
	assert.Equal(t, "Legacy Score", v)
}
