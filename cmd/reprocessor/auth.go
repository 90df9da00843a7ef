package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"reprocessor/pkg/auth"
)

var authService string

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage record source tokens",
	Long: `Manage bearer tokens for authenticated record sources.

Tokens are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variable REPROCESSOR_SOURCE_TOKEN (read only)

Set source.keyring_user in the configuration to use a stored token.`,
}

var setTokenCmd = &cobra.Command{
	Use:     "set-token <name>",
	Short:   "Store a token under name",
	Example: `  reprocessor auth set-token records-api`,
	Args:    cobra.ExactArgs(1),
	RunE:    runSetToken,
}

var showTokenCmd = &cobra.Command{
	Use:   "show-token <name>",
	Short: "Show a masked stored token",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowToken,
}

var deleteTokenCmd = &cobra.Command{
	Use:   "delete-token <name>",
	Short: "Remove a stored token",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeleteToken,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(setTokenCmd, showTokenCmd, deleteTokenCmd)
	authCmd.PersistentFlags().StringVar(&authService, "service", "reprocessor", "keychain service name")
}

func runSetToken(cmd *cobra.Command, args []string) error {
	manager, err := tokenManager(authService)
	if err != nil {
		return fmt.Errorf("failed to initialize token store: %w", err)
	}

	fmt.Printf("Token for %s: ", args[0])
	token, err := readPassword()
	if err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}
	if token == "" {
		return errors.New("token is required")
	}

	if err := manager.Store(args[0], token); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	fmt.Printf("Stored token %s for %s\n", auth.MaskToken(token), args[0])
	return nil
}

func runShowToken(cmd *cobra.Command, args []string) error {
	manager, err := tokenManager(authService)
	if err != nil {
		return fmt.Errorf("failed to initialize token store: %w", err)
	}
	token, err := manager.Retrieve(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", args[0], auth.MaskToken(token))
	return nil
}

func runDeleteToken(cmd *cobra.Command, args []string) error {
	manager, err := tokenManager(authService)
	if err != nil {
		return fmt.Errorf("failed to initialize token store: %w", err)
	}
	if err := manager.Delete(args[0]); err != nil {
		return err
	}
	fmt.Printf("Removed token for %s\n", args[0])
	return nil
}

// readPassword reads a line without echo when stdin is a terminal.
func readPassword() (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(secret)), nil
		}
	}

	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
