package command

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dshills/promoflow/pkg/domain/evaluation"
	"github.com/dshills/promoflow/pkg/domain/types"
)

func newTestContext(t *testing.T, balance *float64) *evaluation.ExecutionContext {
	t.Helper()
	payload := evaluation.CustomerPayload{
		CustomerID:       "CUST-1",
		AccountType:      "PREMIUM",
		AnnualIncome:     1500000,
		CreditScore:      780,
		Region:           "SEOUL",
		TransactionCount: 12,
		AccountBalance:   balance,
	}
	require.NoError(t, payload.Validate())
	return evaluation.NewExecutionContext(types.RequestID("req-test"), types.TreeID("tree-test"), payload)
}

func balanceOf(v float64) *float64 {
	return &v
}

func newTestFactory(t *testing.T) *Factory {
	t.Helper()
	f := NewFactory()
	t.Cleanup(func() { _ = f.Close() })
	return f
}
