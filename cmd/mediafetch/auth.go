package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"mediafetch/pkg/auth"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage stored API credentials",
	Long: `Manage stored API credentials.

Credentials are kept in the system keychain when available, falling back
to an encrypted file and finally to the MEDIAFETCH_SESSION_ID and
MEDIAFETCH_CSRF_TOKEN environment variables.`,
}

var authLoginCmd = &cobra.Command{
	Use:   "login [handle]",
	Short: "Store credentials securely",
	Long: `Store API credentials.

You will be prompted for the session id and CSRF token; both come from
the sessionid and csrftoken cookies of a logged-in browser session.
Secret values are not echoed as you type.`,
	Example: `  # Interactive login
  mediafetch auth login

  # Login for a known handle
  mediafetch auth login myaccount`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAuthLogin,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List stored accounts",
	Long:  `List stored accounts with secrets masked.`,
	RunE:  runAuthStatus,
}

var authRemoveCmd = &cobra.Command{
	Use:   "remove <handle>",
	Short: "Remove stored credentials",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuthRemove,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authRemoveCmd)
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	reader := bufio.NewReader(os.Stdin)

	var handle string
	if len(args) > 0 {
		handle = args[0]
	} else {
		fmt.Print("Account handle: ")
		input, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read handle: %w", err)
		}
		handle = strings.TrimSpace(input)
	}
	if handle == "" {
		return fmt.Errorf("a handle is required")
	}

	if existing, _ := manager.Retrieve(handle); existing != nil {
		fmt.Printf("Account %q already exists. Update credentials? (y/N): ", handle)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return nil
		}
	}

	fmt.Print("sessionid cookie value: ")
	sessionID, err := readSecret(reader)
	if err != nil {
		return fmt.Errorf("failed to read session id: %w", err)
	}

	fmt.Print("csrftoken cookie value: ")
	csrfToken, err := readSecret(reader)
	if err != nil {
		return fmt.Errorf("failed to read csrf token: %w", err)
	}

	fmt.Print("User agent (Enter for default): ")
	userAgent, _ := reader.ReadString('\n')

	account := &auth.Account{
		Handle:    handle,
		SessionID: sessionID,
		CSRFToken: csrfToken,
		UserAgent: strings.TrimSpace(userAgent),
	}
	if err := manager.Store(account); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	fmt.Printf("Credentials stored for %q.\n", handle)
	fmt.Println("Fetch with: mediafetch fetch <handle> --account", handle)
	return nil
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	accounts, err := manager.List()
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}
	if len(accounts) == 0 {
		fmt.Println("No stored accounts. Use 'mediafetch auth login' to add one.")
		return nil
	}

	for _, account := range accounts {
		masked := account.Sanitized()
		fmt.Printf("%s\n", masked.Handle)
		fmt.Printf("  session id: %s\n", masked.SessionID)
		fmt.Printf("  csrf token: %s\n", masked.CSRFToken)
		if masked.UserAgent != "" {
			fmt.Printf("  user agent: %s\n", masked.UserAgent)
		}
		fmt.Printf("  modified:   %s\n", masked.LastModified.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runAuthRemove(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	if err := manager.Delete(args[0]); err != nil {
		return fmt.Errorf("failed to remove account: %w", err)
	}
	fmt.Printf("Credentials removed for %q.\n", args[0])
	return nil
}

// readSecret reads a value without echo when stdin is a terminal, falling
// back to a plain line read otherwise (pipes, CI).
func readSecret(reader *bufio.Reader) (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err == nil {
			return string(secret), nil
		}
	}
	input, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
