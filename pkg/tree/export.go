package tree

import (
	"errors"
	"fmt"
	"math"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// CredentialPlaceholder replaces literal secrets in exported definitions.
const CredentialPlaceholder = "<CREDENTIAL_REF_REQUIRED>"

const keyringPrefix = "keyring:"

// sensitiveKeyPatterns are substrings of header and parameter names that
// suggest a credential.
var sensitiveKeyPatterns = []string{
	"AUTH",
	"TOKEN",
	"SECRET",
	"PASSWORD",
	"API-KEY",
	"API_KEY",
	"APIKEY",
	"COOKIE",
	"CREDENTIAL",
}

// credentialPatterns detect common secret formats in values.
var credentialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),                                         // AWS access key id
	regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9\-_=.]{16,}`),                       // bearer tokens
	regexp.MustCompile(`(?i)(sk|rk)_(live|test)_[a-zA-Z0-9]{24,}`),                 // Stripe keys
	regexp.MustCompile(`gh[pousr]_[A-Za-z0-9_]{36,}`),                              // GitHub tokens
	regexp.MustCompile(`(?i)-----BEGIN\s+(RSA|DSA|EC|OPENSSH)\s+PRIVATE\s+KEY`),    // private keys
	regexp.MustCompile(`(?i)(postgres|postgresql|mysql|mongodb)://[^:/@]+:[^@]+@`), // DSNs with passwords
	regexp.MustCompile(`(?i)password\s*[:=]\s*['"]?[^\s'"]{8,}`),                   // password=...
}

var dsnPassword = regexp.MustCompile(`(?i)^([a-z][a-z0-9+.-]*://[^:/@]+:)[^@]+(@.*)$`)

// CredentialWarning describes a potential secret found in a tree definition.
type CredentialWarning struct {
	Location string // e.g. "nodes[CREDIT].parameters.headers.Authorization"
	Pattern  string
	Severity string // "high" or "medium"
	Message  string
}

// ScanForCredentials reports literal secrets in node parameters. Header
// values written as keyring references are not reported.
func ScanForCredentials(def *Definition) []CredentialWarning {
	if def == nil {
		return nil
	}

	var warnings []CredentialWarning
	warnings = append(warnings, scanString(def.Description, "description")...)
	for _, n := range def.Nodes {
		location := fmt.Sprintf("nodes[%s]", n.ID)
		warnings = append(warnings, scanString(n.Expression, location+".expression")...)
		warnings = append(warnings, scanMap(n.Parameters, location+".parameters")...)
	}
	return warnings
}

func scanString(value, location string) []CredentialWarning {
	if value == "" || strings.HasPrefix(value, keyringPrefix) {
		return nil
	}

	var warnings []CredentialWarning
	for _, pattern := range credentialPatterns {
		if pattern.MatchString(value) {
			warnings = append(warnings, CredentialWarning{
				Location: location,
				Pattern:  pattern.String(),
				Severity: "high",
				Message:  "Potential credential detected in value",
			})
			break
		}
	}

	if isHighEntropyString(value) {
		warnings = append(warnings, CredentialWarning{
			Location: location,
			Pattern:  "high entropy string",
			Severity: "medium",
			Message:  fmt.Sprintf("String has high entropy (%d chars), may be a credential", len(value)),
		})
	}
	return warnings
}

func scanMap(m map[string]interface{}, location string) []CredentialWarning {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var warnings []CredentialWarning
	for _, key := range keys {
		keyLocation := location + "." + key
		switch v := m[key].(type) {
		case string:
			if isSensitiveKey(key) && !strings.HasPrefix(v, keyringPrefix) && v != CredentialPlaceholder {
				warnings = append(warnings, CredentialWarning{
					Location: keyLocation,
					Pattern:  "sensitive key name",
					Severity: "high",
					Message:  fmt.Sprintf("'%s' holds a literal value; use a %s<name> reference", key, keyringPrefix),
				})
				continue
			}
			warnings = append(warnings, scanString(v, keyLocation)...)
		case map[string]interface{}:
			warnings = append(warnings, scanMap(v, keyLocation)...)
		case map[string]string:
			converted := make(map[string]interface{}, len(v))
			for k, s := range v {
				converted[k] = s
			}
			warnings = append(warnings, scanMap(converted, keyLocation)...)
		case []interface{}:
			for i, item := range v {
				itemLocation := fmt.Sprintf("%s[%d]", keyLocation, i)
				switch iv := item.(type) {
				case string:
					warnings = append(warnings, scanString(iv, itemLocation)...)
				case map[string]interface{}:
					warnings = append(warnings, scanMap(iv, itemLocation)...)
				}
			}
		}
	}
	return warnings
}

// isHighEntropyString reports whether s looks like a random token: at least
// 20 characters with normalized Shannon entropy above 0.7 and no spaces.
func isHighEntropyString(s string) bool {
	if len(s) < 20 || strings.ContainsAny(s, " \t\n") {
		return false
	}

	freq := make(map[rune]int)
	total := 0
	for _, ch := range s {
		freq[ch]++
		total++
	}
	if len(freq) < 2 {
		return false
	}

	var entropy float64
	for _, count := range freq {
		p := float64(count) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return entropy/math.Log2(float64(total)) > 0.7
}

func isSensitiveKey(key string) bool {
	upper := strings.ToUpper(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(upper, pattern) {
			return true
		}
	}
	return false
}

// sanitize returns a copy of def with literal secrets replaced: sensitive
// header values that are not keyring references and passwords embedded in
// endpoint DSNs.
func sanitize(def *Definition) *Definition {
	out := *def
	out.Nodes = make([]NodeDefinition, len(def.Nodes))
	for i, n := range def.Nodes {
		n.Parameters = deepCopyMap(n.Parameters)
		if endpoint, ok := n.Parameters["endpoint"].(string); ok {
			n.Parameters["endpoint"] = dsnPassword.ReplaceAllString(endpoint, "${1}"+CredentialPlaceholder+"${2}")
		}
		if headers, ok := n.Parameters["headers"].(map[string]interface{}); ok {
			for k, v := range headers {
				s, isString := v.(string)
				if isSensitiveKey(k) && (!isString || !strings.HasPrefix(s, keyringPrefix)) {
					headers[k] = CredentialPlaceholder
				}
			}
		}
		out.Nodes[i] = n
	}
	return &out
}

func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(val)
	case map[string]string:
		out := make(map[string]interface{}, len(val))
		for k, s := range val {
			out[k] = s
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}

// ToYAML serializes a definition without sanitizing it.
func ToYAML(def *Definition) ([]byte, error) {
	if def == nil {
		return nil, errors.New("definition cannot be nil")
	}
	data, err := yaml.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tree definition: %w", err)
	}
	return data, nil
}

// Export serializes the tree to YAML for sharing, with literal secrets
// replaced by CredentialPlaceholder.
func Export(t *DecisionTree) ([]byte, error) {
	if t == nil {
		return nil, errors.New("tree cannot be nil")
	}
	return ExportDefinition(t.Definition())
}

// ExportDefinition is Export for a definition that is not loaded as a tree.
func ExportDefinition(def *Definition) ([]byte, error) {
	if def == nil {
		return nil, errors.New("definition cannot be nil")
	}
	data, err := ToYAML(sanitize(def))
	if err != nil {
		return nil, err
	}

	comment := "# Exported promoflow decision tree.\n" +
		"# Literal credentials were replaced with " + CredentialPlaceholder + ";\n" +
		"# configure keyring references before use.\n\n"
	return append([]byte(comment), data...), nil
}

// ExportWithWarnings exports the tree and reports the credentials found in
// its unsanitized definition.
func ExportWithWarnings(t *DecisionTree) ([]byte, []CredentialWarning, error) {
	if t == nil {
		return nil, nil, errors.New("tree cannot be nil")
	}
	def := t.Definition()
	warnings := ScanForCredentials(def)
	data, err := ExportDefinition(def)
	if err != nil {
		return nil, warnings, err
	}
	return data, warnings, nil
}

// ExportFile writes the exported tree to path.
func ExportFile(t *DecisionTree, path string) error {
	if path == "" {
		return errors.New("file path cannot be empty")
	}
	data, err := Export(t)
	if err != nil {
		return fmt.Errorf("failed to export tree: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write tree file: %w", err)
	}
	return nil
}
