package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dshills/promoflow/pkg/storage"
)

const maxCredentialSize = 1 << 20 // 1MB limit for all credential inputs

// isOnlyWhitespace checks if a byte slice contains only Unicode whitespace characters
// without allocating strings. Returns true if empty or whitespace-only.
func isOnlyWhitespace(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 {
			// Invalid UTF-8 is treated as non-whitespace
			return false
		}
		if !unicode.IsSpace(r) {
			return false
		}
		i += size
	}
	return true
}

func newCredentialCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Manage external system credentials",
		Long: `Manage credentials for external systems securely in the system keyring.

Tree definitions reference a credential from a header value written as
keyring:<name>; the value is resolved when the adapter is created and never
stored in the tree file.`,
	}

	cmd.AddCommand(newCredentialSetCommand(a))
	cmd.AddCommand(newCredentialGetCommand(a))
	cmd.AddCommand(newCredentialDeleteCommand(a))
	cmd.AddCommand(newCredentialListCommand(a))

	return cmd
}

func newCredentialSetCommand(a *app) *cobra.Command {
	var (
		value    string
		useStdin bool
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "set <name>",
		Short: "Store a credential",
		Long: `Store a credential under a name in the system keyring.

Examples:
  # Interactive prompt (recommended for local use)
  promoflow credential set scoring-api

  # From stdin (recommended for automation)
  printf '%s' "Bearer $TOKEN" | promoflow credential set scoring-api --stdin

  # Reference it from a tree node
  headers:
    Authorization: keyring:scoring-api

Note:
  - All input methods have a 1MB maximum credential size limit
  - --stdin reads until EOF; only trailing CR/LF characters are removed
  - Whitespace-only credentials are rejected
  - Existing credentials are only replaced with --force`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			if _, err := a.credentials.Get(name); err == nil && !force {
				return fmt.Errorf("credential '%s' already exists (use --force to overwrite)", name)
			} else if err != nil && !errors.Is(err, storage.ErrCredentialNotFound) {
				return err
			}

			credValue, err := readCredentialValue(cmd, name, value, useStdin)
			if err != nil {
				return err
			}

			if err := a.credentials.Set(name, credValue); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "✓ Credential '%s' stored (reference it as %s%s)\n", name, storage.SecretPrefix, name)
			return nil
		},
	}

	cmd.Flags().StringVarP(&value, "value", "v", "", "Credential value (optional - will prompt securely if omitted)")
	cmd.Flags().BoolVar(&useStdin, "stdin", false, "Read credential value from stdin (recommended for automation/CI/CD)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing credential")

	cmd.MarkFlagsMutuallyExclusive("stdin", "value")

	return cmd
}

// readCredentialValue takes the value from stdin, the --value flag or a
// no-echo prompt, in that order of preference.
func readCredentialValue(cmd *cobra.Command, name, value string, useStdin bool) (string, error) {
	if useStdin {
		inputBytes, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), maxCredentialSize+1))

		// Ensure buffer is zeroed on all exit paths
		defer func() {
			for i := range inputBytes {
				inputBytes[i] = 0
			}
		}()

		if err != nil {
			return "", fmt.Errorf("failed to read from stdin: %w", err)
		}
		if len(inputBytes) > maxCredentialSize {
			return "", fmt.Errorf("credential value exceeds maximum size of %d bytes", maxCredentialSize)
		}

		trimmed := bytes.TrimRight(inputBytes, "\r\n")
		if len(trimmed) == 0 {
			return "", fmt.Errorf("credential value cannot be empty")
		}
		if isOnlyWhitespace(trimmed) {
			return "", fmt.Errorf("credential cannot contain only whitespace characters")
		}
		return string(trimmed), nil
	}

	if value != "" {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Warning: Using --value flag exposes credential in shell history.")
		if len(value) > maxCredentialSize {
			return "", fmt.Errorf("credential value exceeds maximum size of %d bytes", maxCredentialSize)
		}
		if strings.TrimSpace(value) == "" {
			return "", fmt.Errorf("credential cannot contain only whitespace characters")
		}
		return value, nil
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Enter value for '%s': ", name)
	passwordBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	_, _ = fmt.Fprintln(cmd.OutOrStdout())

	defer func() {
		for i := range passwordBytes {
			passwordBytes[i] = 0
		}
	}()

	if err != nil {
		return "", fmt.Errorf("failed to read credential value: %w", err)
	}
	if len(passwordBytes) > maxCredentialSize {
		return "", fmt.Errorf("credential value exceeds maximum size of %d bytes", maxCredentialSize)
	}
	if isOnlyWhitespace(passwordBytes) {
		return "", fmt.Errorf("credential value cannot be empty or whitespace")
	}
	return string(passwordBytes), nil
}

func newCredentialGetCommand(a *app) *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Check a credential",
		Long: `Report whether a credential is stored. The value is only printed with --reveal.

Examples:
  promoflow credential get scoring-api
  promoflow credential get scoring-api --reveal`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := a.credentials.Get(args[0])
			if err != nil {
				return err
			}
			if reveal {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), value)
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s (set)\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&reveal, "reveal", false, "Print the credential value")

	return cmd
}

func newCredentialDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.credentials.Delete(args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "✓ Credential '%s' deleted\n", args[0])
			return nil
		},
	}
}

func newCredentialListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored credential names",
		Long:  `List the names of stored credentials. Values are never shown.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := a.credentials.List()
			if err != nil {
				return fmt.Errorf("failed to list credentials: %w", err)
			}
			if len(keys) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No credentials configured.")
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "\nAdd a credential with: promoflow credential set <name>")
				return nil
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Configured Credentials:")
			for _, k := range keys {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  - %s (set)\n", k)
			}
			return nil
		},
	}
}
