package tree

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/promoflow/pkg/audit"
	"github.com/dshills/promoflow/pkg/command"
	"github.com/dshills/promoflow/pkg/domain/evaluation"
	perrors "github.com/dshills/promoflow/pkg/errors"
	"github.com/dshills/promoflow/pkg/metrics"
)

func customer(income float64) evaluation.CustomerPayload {
	return evaluation.CustomerPayload{
		CustomerID:       "CUST-42",
		AccountType:      "PREMIUM",
		AnnualIncome:     income,
		CreditScore:      810,
		Region:           "SEOUL",
		TransactionCount: 30,
	}
}

func TestEvaluate_HighIncomeReachesVIPCalculation(t *testing.T) {
	sink := audit.NewMemorySink()
	reg := prometheus.NewRegistry()
	dt := incomeTree(t, WithAuditor(sink), WithMetrics(metrics.New(reg)))
	require.NoError(t, dt.Activate())

	var trace []evaluation.TraceEntry
	promotion, err := dt.Evaluate(context.Background(), customer(2000000), WithRequestID("req-vip"), WithTrace(&trace))
	require.NoError(t, err)

	assert.True(t, promotion.Eligible)
	assert.InDelta(t, 40000.0, promotion.DiscountAmount, 1e-9)
	assert.Zero(t, promotion.DiscountPercentage)

	records := sink.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "INCOME_CHECK", records[0].NodeID)
	assert.Equal(t, "VIP_CALC", records[1].NodeID)
	for _, r := range records {
		assert.Equal(t, "req-vip", r.RequestID)
		assert.Equal(t, "income-tree", r.TreeID)
		assert.Equal(t, audit.StatusSuccess, r.Status)
		assert.Equal(t, "Expression", r.CommandType)
	}
	assert.Equal(t, true, records[0].Output["value"])

	require.Len(t, trace, 2)
	assert.Equal(t, evaluation.ResultKindBool, trace[0].ResultKind)
	assert.Equal(t, evaluation.ResultKindPromotion, trace[1].ResultKind)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "promoflow_evaluations_total")
	assert.Contains(t, names, "promoflow_node_executions_total")
}

func TestEvaluate_LowIncomeReachesStandardCalculation(t *testing.T) {
	dt := incomeTree(t)
	require.NoError(t, dt.Activate())

	promotion, err := dt.Evaluate(context.Background(), customer(50000))
	require.NoError(t, err)
	assert.Zero(t, promotion.DiscountAmount)
}

func TestEvaluate_Preconditions(t *testing.T) {
	t.Run("not active", func(t *testing.T) {
		dt := incomeTree(t)
		_, err := dt.Evaluate(context.Background(), customer(1))
		assert.ErrorIs(t, err, ErrTreeNotActive)

		var opErr *perrors.OperationalError
		require.ErrorAs(t, err, &opErr)
		assert.Equal(t, "income-tree", opErr.TreeID)
		assert.NotEmpty(t, opErr.RequestID)
	})

	t.Run("invalid payload", func(t *testing.T) {
		dt := incomeTree(t)
		require.NoError(t, dt.Activate())
		payload := customer(1)
		payload.CustomerID = ""
		_, err := dt.Evaluate(context.Background(), payload)
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})

	t.Run("cancelled context", func(t *testing.T) {
		dt := incomeTree(t)
		require.NoError(t, dt.Activate())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := dt.Evaluate(ctx, customer(1))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestEvaluate_NodeFailureAborts(t *testing.T) {
	sink := audit.NewMemorySink()
	dt, err := New("failing", WithID("failing"), WithAuditor(sink))
	require.NoError(t, err)
	defer func() { _ = dt.Close() }()

	// Dividing a string fails at run time, not at compile time.
	require.NoError(t, dt.AddNode(exprNode(t, "ROOT", evaluation.NodeTypeCondition, "region / 2 > 1", "YES", "NO")))
	require.NoError(t, dt.AddNode(exprNode(t, "YES", evaluation.NodeTypeCalculation, "1", "", "")))
	require.NoError(t, dt.AddNode(exprNode(t, "NO", evaluation.NodeTypeCalculation, "0", "", "")))
	require.NoError(t, dt.SetRootNode("ROOT"))
	require.NoError(t, dt.Activate())

	_, err = dt.Evaluate(context.Background(), customer(1))
	assert.ErrorIs(t, err, ErrNodeExecutionFailed)

	var opErr *perrors.OperationalError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "ROOT", opErr.NodeID)

	records := sink.Records()
	require.Len(t, records, 1)
	assert.Equal(t, audit.StatusFailure, records[0].Status)
	assert.NotEmpty(t, records[0].Error)
}

type staticCommand struct {
	result *evaluation.NodeResult
}

func (c staticCommand) Execute(context.Context, *evaluation.ExecutionContext) *evaluation.NodeResult {
	return c.result
}

func (c staticCommand) CommandType() evaluation.CommandType {
	return "Static"
}

// staticFactory serves "Static" nodes whose result is chosen by node id.
func staticFactory(t *testing.T, results map[string]*evaluation.NodeResult) *command.Factory {
	t.Helper()
	f := command.NewFactory()
	t.Cleanup(func() { _ = f.Close() })
	require.NoError(t, f.Register("Static", command.Backend{
		New: func(cfg evaluation.NodeConfig, _ command.Dependencies) (command.NodeCommand, error) {
			return staticCommand{result: results[cfg.NodeID]}, nil
		},
		NodeTypes: []evaluation.NodeType{evaluation.NodeTypeCondition, evaluation.NodeTypeCalculation},
	}))
	return f
}

func staticNode(t *testing.T, id string, nt evaluation.NodeType, onTrue, onFalse string) *Node {
	t.Helper()
	n, err := NewNode(id, nt, evaluation.NodeConfig{CommandType: "Static"}, onTrue, onFalse)
	require.NoError(t, err)
	return n
}

func TestEvaluate_ResultMustMatchNodeType(t *testing.T) {
	promotion := &evaluation.PromotionResult{PromotionName: "p", Eligible: true}

	tests := []struct {
		name    string
		root    *evaluation.NodeResult
		calc    *evaluation.NodeResult
		wantErr error
		wantAt  string
	}{
		{"calculation returns a boolean", evaluation.ConditionResult(true), evaluation.ConditionResult(true), ErrInvalidCalculationResult, "CALC"},
		{"condition returns a promotion", evaluation.CalculationResult(promotion), nil, ErrUnexpectedResult, "ROOT"},
		{"condition routes to empty id", evaluation.RouteResult("  "), nil, ErrInvalidNextNode, "ROOT"},
		{"command returns nil", nil, nil, ErrNodeExecutionFailed, "ROOT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := staticFactory(t, map[string]*evaluation.NodeResult{"ROOT": tt.root, "CALC": tt.calc})
			dt, err := New("static", WithID("static"), WithCommandFactory(f))
			require.NoError(t, err)
			require.NoError(t, dt.AddNode(staticNode(t, "ROOT", evaluation.NodeTypeCondition, "CALC", "CALC")))
			require.NoError(t, dt.AddNode(staticNode(t, "CALC", evaluation.NodeTypeCalculation, "", "")))
			require.NoError(t, dt.SetRootNode("ROOT"))
			require.NoError(t, dt.Activate())

			_, err = dt.Evaluate(context.Background(), customer(1))
			assert.ErrorIs(t, err, tt.wantErr)
			var opErr *perrors.OperationalError
			require.ErrorAs(t, err, &opErr)
			assert.Equal(t, tt.wantAt, opErr.NodeID)
		})
	}
}

func TestEvaluate_CommandPanicBecomesFailure(t *testing.T) {
	f := command.NewFactory()
	defer func() { _ = f.Close() }()
	require.NoError(t, f.Register("Panic", command.Backend{
		New: func(evaluation.NodeConfig, command.Dependencies) (command.NodeCommand, error) {
			return panicCommand{}, nil
		},
		NodeTypes: []evaluation.NodeType{evaluation.NodeTypeCalculation},
	}))

	dt, err := New("panics", WithCommandFactory(f))
	require.NoError(t, err)
	n, err := NewCalculationNode("BOOM", evaluation.NodeConfig{CommandType: "Panic"})
	require.NoError(t, err)
	require.NoError(t, dt.AddNode(n))
	require.NoError(t, dt.SetRootNode("BOOM"))
	require.NoError(t, dt.Activate())

	_, err = dt.Evaluate(context.Background(), customer(1))
	assert.ErrorIs(t, err, ErrNodeExecutionFailed)
	assert.Contains(t, err.Error(), "command panicked")
}

type panicCommand struct{}

func (panicCommand) Execute(context.Context, *evaluation.ExecutionContext) *evaluation.NodeResult {
	panic("boom")
}

func (panicCommand) CommandType() evaluation.CommandType {
	return "Panic"
}

func TestEvaluate_DynamicRoutes(t *testing.T) {
	build := func(t *testing.T, routeExpr string) *DecisionTree {
		dt, err := New("dynamic", WithID("dynamic"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = dt.Close() })

		require.NoError(t, dt.AddNode(exprNode(t, "ROOT", evaluation.NodeTypeCondition, "true", "ROUTER", "LOW")))
		require.NoError(t, dt.AddNode(exprNode(t, "ROUTER", evaluation.NodeTypeCondition, routeExpr, "HIGH", "LOW")))
		require.NoError(t, dt.AddNode(exprNode(t, "HIGH", evaluation.NodeTypeCalculation, "500", "", "")))
		require.NoError(t, dt.AddNode(exprNode(t, "LOW", evaluation.NodeTypeCalculation, "5", "", "")))
		require.NoError(t, dt.SetRootNode("ROOT"))
		require.NoError(t, dt.Activate())
		return dt
	}

	t.Run("route to member", func(t *testing.T) {
		dt := build(t, `creditScore > 800 ? "HIGH" : "LOW"`)
		promotion, err := dt.Evaluate(context.Background(), customer(1))
		require.NoError(t, err)
		assert.Equal(t, 500.0, promotion.DiscountAmount)
	})

	t.Run("route back to a visited node", func(t *testing.T) {
		dt := build(t, `"ROOT"`)
		_, err := dt.Evaluate(context.Background(), customer(1))
		assert.ErrorIs(t, err, ErrCircularReference)

		var opErr *perrors.OperationalError
		require.ErrorAs(t, err, &opErr)
		assert.Equal(t, "ROOT", opErr.NodeID)
	})

	t.Run("route to unknown node", func(t *testing.T) {
		dt := build(t, `"NOWHERE"`)
		_, err := dt.Evaluate(context.Background(), customer(1))
		assert.ErrorIs(t, err, ErrNodeNotFound)
	})
}

func TestEvaluate_ExternalFallbackIsAudited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	sink := audit.NewMemorySink()
	dt, err := New("external", WithID("external"), WithAuditor(sink))
	require.NoError(t, err)
	defer func() { _ = dt.Close() }()

	credit, err := NewConditionNode("CREDIT", evaluation.NodeConfig{
		CommandType: evaluation.CommandTypeExternalSystem,
		Parameters: map[string]interface{}{
			"systemType":             "HTTP",
			"endpoint":               server.URL,
			"fallbackConditionValue": true,
		},
	}, "APPROVED", "DECLINED")
	require.NoError(t, err)
	require.NoError(t, dt.AddNode(credit))
	require.NoError(t, dt.AddNode(exprNode(t, "APPROVED", evaluation.NodeTypeCalculation, "100", "", "")))
	require.NoError(t, dt.AddNode(exprNode(t, "DECLINED", evaluation.NodeTypeCalculation, "0", "", "")))
	require.NoError(t, dt.SetRootNode("CREDIT"))
	require.NoError(t, dt.Activate())

	var trace []evaluation.TraceEntry
	promotion, err := dt.Evaluate(context.Background(), customer(1), WithTrace(&trace))
	require.NoError(t, err)
	assert.Equal(t, 100.0, promotion.DiscountAmount)

	records := sink.Records()
	require.Len(t, records, 2)
	assert.Equal(t, audit.StatusFallback, records[0].Status)
	assert.Contains(t, records[0].Error, "503")
	assert.Equal(t, audit.StatusSuccess, records[1].Status)
	assert.True(t, trace[0].Fallback)
}

func TestEvaluate_ExternalFailureWithoutFallbackAborts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	sink := audit.NewMemorySink()
	dt, err := New("external", WithID("external-strict"), WithAuditor(sink))
	require.NoError(t, err)
	defer func() { _ = dt.Close() }()

	credit, err := NewConditionNode("CREDIT", evaluation.NodeConfig{
		CommandType: evaluation.CommandTypeExternalSystem,
		Parameters: map[string]interface{}{
			"systemType":     "HTTP",
			"endpoint":       server.URL,
			"enableFallback": false,
		},
	}, "APPROVED", "DECLINED")
	require.NoError(t, err)
	require.NoError(t, dt.AddNode(credit))
	require.NoError(t, dt.AddNode(exprNode(t, "APPROVED", evaluation.NodeTypeCalculation, "100", "", "")))
	require.NoError(t, dt.AddNode(exprNode(t, "DECLINED", evaluation.NodeTypeCalculation, "0", "", "")))
	require.NoError(t, dt.SetRootNode("CREDIT"))
	require.NoError(t, dt.Activate())

	promotion, err := dt.Evaluate(context.Background(), customer(1), WithRequestID("req-strict"))
	assert.Nil(t, promotion)
	assert.ErrorIs(t, err, ErrNodeExecutionFailed)
	assert.ErrorContains(t, err, "503")

	var opErr *perrors.OperationalError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "CREDIT", opErr.NodeID)
	assert.Equal(t, "external-strict", opErr.TreeID)
	assert.Equal(t, "req-strict", opErr.RequestID)
	assert.Equal(t, int32(1), calls.Load())

	records := sink.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "CREDIT", records[0].NodeID)
	assert.Equal(t, audit.StatusFailure, records[0].Status)
	assert.Contains(t, records[0].Error, "503")
}
