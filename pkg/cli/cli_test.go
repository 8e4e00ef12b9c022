package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/dshills/promoflow/pkg/audit"
	"github.com/dshills/promoflow/pkg/storage"
	"github.com/dshills/promoflow/pkg/tree"
)

const vipTree = `
id: vip-promotion
name: VIP promotion
status: Active
root: INCOME_CHECK
nodes:
  - id: INCOME_CHECK
    type: Condition
    command: Expression
    expression: annualIncome >= 1000000
    onTrue: VIP_CALC
    onFalse: STD_CALC
  - id: VIP_CALC
    type: Calculation
    command: Expression
    expression: '{"discountAmount": annualIncome * 0.02, "promotionName": "VIP"}'
  - id: STD_CALC
    type: Calculation
    command: Expression
    expression: '{"discountAmount": 0, "eligible": false}'
`

const brokenTree = `
id: broken
name: Broken
root: ROOT
nodes:
  - id: ROOT
    type: Condition
    command: Expression
    expression: creditScore > 700
    onTrue: MISSING
    onFalse: ROOT
`

const highIncomeCustomer = `{"customerId":"C1","accountType":"PREMIUM","annualIncome":2000000,"creditScore":800,"region":"SEOUL","transactionCount":10,"accountBalance":1000000}`

const lowIncomeCustomer = `{"customerId":"C2","accountType":"BASIC","annualIncome":500,"creditScore":600,"region":"BUSAN","transactionCount":1}`

// setupEnv points every path at a temp dir and swaps the keyring for an
// in-memory one.
func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("PROMOFLOW_TREES_DIR", filepath.Join(dir, "trees"))
	t.Setenv("PROMOFLOW_AUDIT_DB", filepath.Join(dir, "audit.db"))
	t.Setenv("PROMOFLOW_LOG_LEVEL", "warn")
	t.Setenv("PROMOFLOW_LOG_FORMAT", "json")
	keyring.MockInit()
	return dir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestValidateCommand(t *testing.T) {
	dir := setupEnv(t)

	t.Run("valid tree", func(t *testing.T) {
		path := writeFile(t, dir, "vip.yaml", vipTree)
		out, _, err := runCLI(t, "", "validate", path, "--verbose")
		require.NoError(t, err)
		assert.Contains(t, out, "✓ Tree structure valid")
		assert.Contains(t, out, "Root: INCOME_CHECK")
		assert.Contains(t, out, "Tree 'vip-promotion' is valid")
	})

	t.Run("structural problems", func(t *testing.T) {
		path := writeFile(t, dir, "broken.yaml", brokenTree)
		_, errOut, err := runCLI(t, "", "validate", path)
		var ve *tree.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Contains(t, errOut, "node ROOT references missing node MISSING (true)")
	})

	t.Run("schema error", func(t *testing.T) {
		path := writeFile(t, dir, "bad.yaml", "id: x\nname: X\n")
		_, _, err := runCLI(t, "", "validate", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "schema validation failed")
	})

	t.Run("unknown tree id", func(t *testing.T) {
		_, _, err := runCLI(t, "", "validate", "no-such-tree")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "tree not found")
	})
}

func TestEvaluateCommand_PrintsPromotionAndAudits(t *testing.T) {
	dir := setupEnv(t)
	path := writeFile(t, dir, "vip.yaml", vipTree)

	out, _, err := runCLI(t, "", "evaluate", path, "--customer", highIncomeCustomer, "--request-id", "req-cli-1", "--trace")
	require.NoError(t, err)

	var result evaluationOutput
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "req-cli-1", result.RequestID)
	assert.Equal(t, "vip-promotion", result.TreeID)
	require.NotNil(t, result.Promotion)
	assert.Equal(t, "VIP", result.Promotion.PromotionName)
	assert.InDelta(t, 40000.0, result.Promotion.DiscountAmount, 1e-9)
	assert.InDelta(t, 4.0, result.Promotion.DiscountPercentage, 1e-9)
	assert.True(t, result.Promotion.Eligible)
	require.Len(t, result.Trace, 2)
	assert.Equal(t, "INCOME_CHECK", result.Trace[0].NodeID)
	assert.Equal(t, "VIP_CALC", result.Trace[1].NodeID)

	out, _, err = runCLI(t, "", "audit", "req-cli-1", "--json")
	require.NoError(t, err)
	var records []audit.Record
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 2)
	assert.Equal(t, "INCOME_CHECK", records[0].NodeID)
	assert.Equal(t, "VIP_CALC", records[1].NodeID)
	assert.Equal(t, audit.StatusSuccess, records[1].Status)

	out, _, err = runCLI(t, "", "audit", "--tree", "vip-promotion")
	require.NoError(t, err)
	assert.Contains(t, out, "VIP_CALC")
	assert.Contains(t, out, "✓ success")
}

func TestEvaluateCommand_CustomerSources(t *testing.T) {
	dir := setupEnv(t)
	path := writeFile(t, dir, "vip.yaml", vipTree)
	customerFile := writeFile(t, dir, "customer.json", lowIncomeCustomer)

	out, _, err := runCLI(t, "", "evaluate", path, "--customer", "@"+customerFile, "--no-audit")
	require.NoError(t, err)
	var result evaluationOutput
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.False(t, result.Promotion.Eligible)
	assert.NotEmpty(t, result.RequestID)

	out, _, err = runCLI(t, highIncomeCustomer, "evaluate", path, "--customer", "-", "--no-audit")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.Promotion.Eligible)
}

func TestEvaluateCommand_Errors(t *testing.T) {
	dir := setupEnv(t)
	path := writeFile(t, dir, "vip.yaml", vipTree)

	_, _, err := runCLI(t, "", "evaluate", path)
	assert.ErrorContains(t, err, "--customer")

	_, _, err = runCLI(t, "", "evaluate", path, "--customer", `{"customerId":"C1","bogus":1}`, "--no-audit")
	assert.ErrorContains(t, err, "failed to parse customer JSON")

	out, _, err := runCLI(t, "", "evaluate", path, "--customer", `{"accountType":"BASIC","region":"SEOUL"}`, "--no-audit")
	assert.ErrorIs(t, err, tree.ErrInvalidPayload)
	var result evaluationOutput
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Nil(t, result.Promotion)
	assert.NotEmpty(t, result.Error)

	broken := writeFile(t, dir, "broken.yaml", brokenTree)
	_, _, err = runCLI(t, "", "evaluate", broken, "--customer", highIncomeCustomer, "--no-audit")
	var ve *tree.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestBatchCommand(t *testing.T) {
	dir := setupEnv(t)
	path := writeFile(t, dir, "vip.yaml", vipTree)
	customers := writeFile(t, dir, "customers.jsonl", strings.Join([]string{
		highIncomeCustomer,
		lowIncomeCustomer,
		"",
		`{"customerId":`,
	}, "\n"))

	out, _, err := runCLI(t, "", "batch", path, "--customers", customers, "--concurrency", "2", "--no-audit")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 3 customers failed")

	var results []batchResult
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		var r batchResult
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		results = append(results, r)
	}
	require.Len(t, results, 3)

	assert.Equal(t, 1, results[0].Line)
	assert.Equal(t, "C1", results[0].CustomerID)
	require.NotNil(t, results[0].Promotion)
	assert.True(t, results[0].Promotion.Eligible)

	assert.Equal(t, 2, results[1].Line)
	require.NotNil(t, results[1].Promotion)
	assert.False(t, results[1].Promotion.Eligible)

	assert.Equal(t, 4, results[2].Line)
	assert.Nil(t, results[2].Promotion)
	assert.Contains(t, results[2].Error, "failed to parse customer JSON")
}

func TestBatchCommand_AllSucceed(t *testing.T) {
	dir := setupEnv(t)
	path := writeFile(t, dir, "vip.yaml", vipTree)
	input := highIncomeCustomer + "\n" + lowIncomeCustomer + "\n"

	out, errOut, err := runCLI(t, input, "batch", path, "--customers", "-", "--metrics")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "\n"))
	assert.Contains(t, errOut, "promoflow_evaluations_total")

	_, _, err = runCLI(t, input, "batch", path, "--customers", "-", "--concurrency", "0")
	assert.ErrorContains(t, err, "concurrency must be at least 1")
}

func TestImportListExport(t *testing.T) {
	dir := setupEnv(t)
	path := writeFile(t, dir, "vip.yaml", vipTree)

	out, _, err := runCLI(t, "", "import", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Tree 'vip-promotion' imported (3 nodes, status Active)")

	_, _, err = runCLI(t, "", "import", path)
	assert.ErrorContains(t, err, "already exists")
	_, _, err = runCLI(t, "", "import", path, "--force")
	require.NoError(t, err)

	out, _, err = runCLI(t, "", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "vip-promotion")
	assert.Contains(t, out, "INCOME_CHECK")

	out, _, err = runCLI(t, "", "export", "vip-promotion")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "# Exported promoflow decision tree."))
	def, err := tree.Parse([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, "vip-promotion", def.ID)

	// Imported trees can be evaluated by id.
	out, _, err = runCLI(t, "", "evaluate", "vip-promotion", "--customer", highIncomeCustomer, "--no-audit")
	require.NoError(t, err)
	assert.Contains(t, out, `"promotionName": "VIP"`)

	exportPath := filepath.Join(dir, "shared.yaml")
	_, _, err = runCLI(t, "", "export", "vip-promotion", "-o", exportPath)
	require.NoError(t, err)
	_, err = os.Stat(exportPath)
	assert.NoError(t, err)

	_, _, err = runCLI(t, "", "export", "missing-tree")
	assert.ErrorIs(t, err, storage.ErrTreeNotFound)
}

func TestCredentialCommands(t *testing.T) {
	setupEnv(t)

	out, _, err := runCLI(t, "Bearer token-123\n", "credential", "set", "scoring-api", "--stdin")
	require.NoError(t, err)
	assert.Contains(t, out, "reference it as keyring:scoring-api")

	_, _, err = runCLI(t, "other", "credential", "set", "scoring-api", "--stdin")
	assert.ErrorContains(t, err, "already exists")

	out, _, err = runCLI(t, "", "credential", "get", "scoring-api")
	require.NoError(t, err)
	assert.Equal(t, "scoring-api (set)\n", out)
	assert.NotContains(t, out, "token-123")

	out, _, err = runCLI(t, "", "credential", "get", "scoring-api", "--reveal")
	require.NoError(t, err)
	assert.Equal(t, "Bearer token-123\n", out)

	out, _, err = runCLI(t, "", "credential", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "scoring-api (set)")

	_, _, err = runCLI(t, "   \n", "credential", "set", "blank", "--stdin")
	assert.ErrorContains(t, err, "whitespace")

	_, _, err = runCLI(t, "", "credential", "delete", "scoring-api")
	require.NoError(t, err)
	_, _, err = runCLI(t, "", "credential", "get", "scoring-api")
	assert.ErrorIs(t, err, storage.ErrCredentialNotFound)
}

func TestAuditCommand_Arguments(t *testing.T) {
	setupEnv(t)

	_, _, err := runCLI(t, "", "audit")
	assert.ErrorContains(t, err, "request id or --tree")

	_, _, err = runCLI(t, "", "audit", "req", "--tree", "t")
	assert.ErrorContains(t, err, "not both")

	out, _, err := runCLI(t, "", "audit", "unknown-request")
	require.NoError(t, err)
	assert.Contains(t, out, "No audit records found.")
}

func TestIsOnlyWhitespace(t *testing.T) {
	assert.True(t, isOnlyWhitespace(nil))
	assert.True(t, isOnlyWhitespace([]byte(" \t ")))
	assert.False(t, isOnlyWhitespace([]byte(" x ")))
	assert.False(t, isOnlyWhitespace([]byte{0xff}))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", truncateString("short", 10))
	assert.Equal(t, "abcd...", truncateString("abcdefghij", 7))
	assert.Equal(t, "ab", truncateString("abcdef", 2))
}
