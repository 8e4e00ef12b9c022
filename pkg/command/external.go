package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/promoflow/pkg/adapter"
	"github.com/dshills/promoflow/pkg/domain/evaluation"
	"github.com/dshills/promoflow/pkg/domain/types"
	"github.com/dshills/promoflow/pkg/metrics"
	"github.com/dshills/promoflow/pkg/transform"
)

// Defaults for external-system parameters.
const (
	DefaultTimeoutSeconds        = 30
	DefaultFallbackPromotionName = "Fallback Promotion"
	DefaultRetryDelayMillis      = 200
)

// externalParams are consumed by the command itself and not forwarded to the
// external system.
var externalParams = map[string]bool{
	"systemType":             true,
	"endpoint":               true,
	"timeoutSeconds":         true,
	"enableFallback":         true,
	"fallbackConditionValue": true,
	"fallbackDiscountAmount": true,
	"fallbackPromotionName":  true,
	"fallbackEligible":       true,
	"validityDays":           true,
	"method":                 true,
	"headers":                true,
	"soapAction":             true,
	"driver":                 true,
	"query":                  true,
	"retryAttempts":          true,
	"retryDelayMillis":       true,
	"nonEmptyResponseIsTrue": true,
	"promotionName":          true,
	"promotionType":          true,
}

// ExternalSystemCommand delegates a node to an HTTP, SOAP or database system.
//
// The request carries the customer fields, the accumulated context values and
// any parameters not consumed by the command. A successful response is stored
// in the context under the node id. When the call fails and fallback is
// enabled, a configured substitute result is returned and marked as a
// fallback; otherwise the node fails.
type ExternalSystemCommand struct {
	nodeID      string
	nodeType    evaluation.NodeType
	commandType evaluation.CommandType
	systemType  adapter.SystemType
	adapter     adapter.Adapter
	timeout     time.Duration
	forward     map[string]interface{}

	enableFallback    bool
	fallbackCondition bool
	fallbackAmount    float64
	fallbackName      string
	fallbackEligible  bool
	nonEmptyIsTrue    bool
	defaults          promotionDefaults

	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func newExternalSystemCommand(cfg evaluation.NodeConfig, deps Dependencies) (NodeCommand, error) {
	raw := cfg.StringParam("systemType", "")
	if strings.TrimSpace(raw) == "" {
		return nil, configError(cfg, "systemType is required", nil)
	}
	systemType, err := adapter.ParseSystemType(raw)
	if err != nil {
		return nil, configError(cfg, "invalid systemType", err)
	}
	return buildExternalCommand(cfg, deps, systemType, evaluation.CommandTypeExternalSystem)
}

func newDatabaseQueryCommand(cfg evaluation.NodeConfig, deps Dependencies) (NodeCommand, error) {
	if raw := cfg.StringParam("systemType", ""); raw != "" {
		st, err := adapter.ParseSystemType(raw)
		if err != nil || st != adapter.SystemTypeDatabase {
			return nil, configError(cfg, fmt.Sprintf("DatabaseQuery nodes only support systemType DATABASE, got %q", raw), nil)
		}
	}
	return buildExternalCommand(cfg, deps, adapter.SystemTypeDatabase, evaluation.CommandTypeDatabaseQuery)
}

func buildExternalCommand(cfg evaluation.NodeConfig, deps Dependencies, systemType adapter.SystemType, ct evaluation.CommandType) (NodeCommand, error) {
	endpoint := strings.TrimSpace(cfg.StringParam("endpoint", ""))
	if endpoint == "" {
		return nil, configError(cfg, "endpoint is required", nil)
	}

	timeout := deps.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultTimeoutSeconds * time.Second
	}
	if _, ok := cfg.Param("timeoutSeconds"); ok {
		timeoutSeconds, err := cfg.IntParam("timeoutSeconds", DefaultTimeoutSeconds)
		if err != nil {
			return nil, configError(cfg, "invalid timeoutSeconds", err)
		}
		if timeoutSeconds <= 0 {
			return nil, configError(cfg, fmt.Sprintf("timeoutSeconds must be positive, got %d", timeoutSeconds), nil)
		}
		timeout = time.Duration(timeoutSeconds) * time.Second
	}

	cmd := &ExternalSystemCommand{
		nodeID:       cfg.NodeID,
		nodeType:     cfg.NodeType,
		commandType:  ct,
		systemType:   systemType,
		timeout:      timeout,
		fallbackName: cfg.StringParam("fallbackPromotionName", DefaultFallbackPromotionName),
		metrics:      deps.Metrics,
		logger:       deps.Logger,
	}

	bools := []struct {
		key    string
		def    bool
		target *bool
	}{
		{"enableFallback", true, &cmd.enableFallback},
		{"fallbackConditionValue", false, &cmd.fallbackCondition},
		{"fallbackEligible", false, &cmd.fallbackEligible},
		{"nonEmptyResponseIsTrue", true, &cmd.nonEmptyIsTrue},
	}
	for _, b := range bools {
		v, err := cfg.BoolParam(b.key, b.def)
		if err != nil {
			return nil, configError(cfg, "invalid "+b.key, err)
		}
		*b.target = v
	}

	fallbackAmount, err := floatParam(cfg, "fallbackDiscountAmount", 0)
	if err != nil {
		return nil, configError(cfg, "invalid fallbackDiscountAmount", err)
	}
	cmd.fallbackAmount = fallbackAmount

	days, err := cfg.IntParam("validityDays", DefaultValidityDays)
	if err != nil {
		return nil, configError(cfg, "invalid validityDays", err)
	}
	cmd.defaults = promotionDefaults{
		Name:         cfg.StringParam("promotionName", "External Promotion"),
		Type:         cfg.StringParam("promotionType", "EXTERNAL"),
		Description:  cfg.Description,
		ValidityDays: days,
	}

	adapterCfg, err := adapterConfig(cfg, systemType, endpoint)
	if err != nil {
		return nil, err
	}
	if deps.Adapters == nil {
		return nil, configError(cfg, "no adapter factory configured", nil)
	}
	cmd.adapter, err = deps.Adapters.Get(adapterCfg)
	if err != nil {
		return nil, configError(cfg, "cannot create adapter", err)
	}

	cmd.forward = make(map[string]interface{})
	for k, v := range cfg.Parameters {
		if !externalParams[k] {
			cmd.forward[k] = v
		}
	}
	return cmd, nil
}

func adapterConfig(cfg evaluation.NodeConfig, systemType adapter.SystemType, endpoint string) (adapter.Config, error) {
	headers, err := cfg.StringMapParam("headers")
	if err != nil {
		return adapter.Config{}, configError(cfg, "invalid headers", err)
	}
	attempts, err := cfg.IntParam("retryAttempts", 0)
	if err != nil || attempts < 0 {
		return adapter.Config{}, configError(cfg, "invalid retryAttempts", err)
	}
	delayMillis, err := cfg.IntParam("retryDelayMillis", DefaultRetryDelayMillis)
	if err != nil || delayMillis < 0 {
		return adapter.Config{}, configError(cfg, "invalid retryDelayMillis", err)
	}

	ac := adapter.Config{
		SystemType:    systemType,
		Endpoint:      endpoint,
		Method:        cfg.StringParam("method", ""),
		Headers:       headers,
		SOAPAction:    cfg.StringParam("soapAction", ""),
		Driver:        cfg.StringParam("driver", ""),
		Query:         cfg.StringParam("query", ""),
		RetryAttempts: attempts,
		RetryDelay:    time.Duration(delayMillis) * time.Millisecond,
	}
	if systemType == adapter.SystemTypeDatabase && strings.TrimSpace(ac.Query) == "" {
		return adapter.Config{}, configError(cfg, "query is required for DATABASE systems", nil)
	}
	return ac, nil
}

// CommandType implements NodeCommand.
func (c *ExternalSystemCommand) CommandType() evaluation.CommandType {
	return c.commandType
}

// SystemType returns the protocol of the external system.
func (c *ExternalSystemCommand) SystemType() adapter.SystemType {
	return c.systemType
}

// Available probes the external system.
func (c *ExternalSystemCommand) Available(ctx context.Context) bool {
	return c.adapter.IsAvailable(ctx)
}

// Execute implements NodeCommand.
func (c *ExternalSystemCommand) Execute(ctx context.Context, ec *evaluation.ExecutionContext) *evaluation.NodeResult {
	req := adapter.NewRequest(ec.RequestID().String()).
		Params(ec.Customer().Fields()).
		Params(ec.Values()).
		Params(c.forward).
		Build()

	start := time.Now()
	resp, err := c.adapter.Call(ctx, req, c.timeout)
	elapsed := time.Since(start)

	if err != nil {
		outcome := "error"
		if errors.Is(err, adapter.ErrTimeout) {
			outcome = "timeout"
		}
		c.metrics.ObserveExternalCall(string(c.systemType), outcome, elapsed)
		// A cancelled evaluation is not an external outage.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return evaluation.FailureResult(fmt.Sprintf("%s call abandoned: %v", c.systemType, ctxErr))
		}
		return c.failure(ec, fmt.Sprintf("%s call failed: %v", c.systemType, err))
	}
	c.metrics.ObserveExternalCall(string(c.systemType), "success", elapsed)

	if !resp.Success() {
		msg := resp.ErrorMessage()
		if msg == "" {
			msg = "no error message"
		}
		return c.failure(ec, fmt.Sprintf("%s system reported failure: %s", c.systemType, msg))
	}

	ec.SetFromNode(c.nodeID, resp.Data(), types.NodeID(c.nodeID))

	if c.nodeType == evaluation.NodeTypeCondition {
		return c.interpretCondition(resp)
	}

	promotion, err := buildPromotion(resp.Data(), ec, c.defaults)
	if err != nil {
		return c.failure(ec, fmt.Sprintf("invalid %s response: %v", c.systemType, err))
	}
	return evaluation.CalculationResult(promotion)
}

// interpretCondition maps a response to a boolean. An explicit
// conditionResult wins; a nextNodeId routes directly; otherwise the
// nonEmptyResponseIsTrue policy decides.
func (c *ExternalSystemCommand) interpretCondition(resp *adapter.Response) *evaluation.NodeResult {
	if v, ok := resp.Get("conditionResult"); ok && v != nil {
		if b, ok := coerceCondition(v); ok {
			return evaluation.ConditionResult(b)
		}
	}
	if v, ok := resp.Get("nextNodeId"); ok {
		if next, ok := v.(string); ok && strings.TrimSpace(next) != "" {
			return evaluation.RouteResult(next)
		}
	}
	if !c.nonEmptyIsTrue {
		return evaluation.FailureResult(fmt.Sprintf("%s response has no conditionResult", c.systemType))
	}
	return evaluation.ConditionResult(hasPayload(resp))
}

// coerceCondition converts a conditionResult value. Booleans pass through;
// the strings "true", "yes" and "1" are true and other strings false;
// nonzero numbers are true. Other types are not interpretable.
func coerceCondition(v interface{}) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "yes", "1":
			return true, true
		default:
			return false, true
		}
	case map[string]interface{}, []interface{}:
		return false, false
	default:
		f, err := transform.ToFloat(val)
		if err != nil {
			return false, false
		}
		return f != 0, true
	}
}

// hasPayload reports whether the response carried data. Database responses
// always carry rowCount, so their row count decides.
func hasPayload(resp *adapter.Response) bool {
	if v, ok := resp.Get("rowCount"); ok {
		n, err := transform.ToInt(v)
		return err == nil && n > 0
	}
	return resp.HasData()
}

// failure applies the fallback policy to a failed call.
func (c *ExternalSystemCommand) failure(ec *evaluation.ExecutionContext, reason string) *evaluation.NodeResult {
	if !c.enableFallback {
		c.logger.Error().
			Str("request_id", ec.RequestID().String()).
			Str("node_id", c.nodeID).
			Str("system", string(c.systemType)).
			Msg(reason)
		return evaluation.FailureResult(reason)
	}

	c.metrics.IncrementFallback(string(c.nodeType))
	c.logger.Warn().
		Str("request_id", ec.RequestID().String()).
		Str("node_id", c.nodeID).
		Str("system", string(c.systemType)).
		Str("reason", reason).
		Msg("using fallback result")

	if c.nodeType == evaluation.NodeTypeCondition {
		return evaluation.ConditionResult(c.fallbackCondition).WithFallback(reason)
	}

	balance, hasBalance := ec.AccountBalance()
	days := c.defaults.ValidityDays
	promotion := &evaluation.PromotionResult{
		PromotionID:        "FALLBACK-" + c.nodeID,
		PromotionName:      c.fallbackName,
		PromotionType:      "FALLBACK",
		DiscountAmount:     c.fallbackAmount,
		DiscountPercentage: evaluation.DiscountPercentage(c.fallbackAmount, balance, hasBalance),
		Description:        "Fallback promotion used because the external system was unavailable",
		ValidUntil:         evaluation.ValidUntil(ec.StartedAt(), days),
		AdditionalDetails: map[string]interface{}{
			"fallback":      true,
			"failureReason": reason,
			"nodeId":        c.nodeID,
		},
		Eligible: c.fallbackEligible,
	}
	return evaluation.CalculationResult(promotion).WithFallback(reason)
}
