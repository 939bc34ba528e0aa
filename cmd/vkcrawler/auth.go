package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"vkcrawler/pkg/auth"
	"vkcrawler/pkg/ui"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage stored m.vk.com accounts",
	Long: `Manage the remixsid cookies of logged-in accounts.

Accounts are stored in the system keychain when one is available and in an
encrypted file otherwise. VKCRAWLER_REMIXSID also provides a single account
named "env". A crawl uses every stored account unless --account narrows it,
and falls back to anonymous sessions when none are stored.`,
}

var loginCmd = &cobra.Command{
	Use:   "login [name]",
	Short: "Store an account's remixsid cookie",
	Example: `  # Interactive login
  vkcrawler auth login

  # Login under a chosen name
  vkcrawler auth login spare`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout [name]",
	Short: "Remove a stored account",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLogout,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored accounts",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(listCmd)
}

var remixsidPattern = regexp.MustCompile(`^[0-9a-zA-Z_.]{16,}$`)

func runLogin(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	reader := bufio.NewReader(os.Stdin)

	auth.WriteCookieGuide(os.Stdout)
	fmt.Println()

	var name string
	if len(args) > 0 {
		name = strings.TrimSpace(args[0])
	}
	if name == "" {
		fmt.Print("Account name: ")
		name, err = readLine(reader)
		if err != nil {
			return fmt.Errorf("failed to read account name: %w", err)
		}
	}
	if name == "" {
		return errors.New("account name is required")
	}

	if existing, _ := manager.Retrieve(name); existing != nil {
		if !confirm(reader, fmt.Sprintf("Account '%s' already exists. Update it?", name)) {
			return nil
		}
	}

	fmt.Print("remixsid cookie value (hidden): ")
	remixsid, err := readSecret(reader)
	if err != nil {
		return fmt.Errorf("failed to read remixsid: %w", err)
	}
	if !remixsidPattern.MatchString(remixsid) {
		return errors.New("that does not look like a remixsid cookie, copy the full value")
	}

	fmt.Print("User agent (Enter to generate one per session): ")
	userAgent, err := readLine(reader)
	if err != nil {
		return fmt.Errorf("failed to read user agent: %w", err)
	}

	account := &auth.Account{
		Name:         name,
		RemixSID:     remixsid,
		UserAgent:    userAgent,
		LastModified: time.Now(),
	}
	if err := manager.Store(account); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	ui.PrintSuccess("Account saved: " + name)
	fmt.Println("\nUse it with:")
	fmt.Printf("  vkcrawler crawl <group> --account %s\n", name)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	reader := bufio.NewReader(os.Stdin)

	var name string
	if len(args) > 0 {
		name = args[0]
	} else {
		accounts, err := manager.List()
		if err != nil {
			return fmt.Errorf("failed to list accounts: %w", err)
		}
		if len(accounts) == 0 {
			ui.PrintWarning("No stored accounts")
			return nil
		}
		fmt.Println("Select account to remove:")
		for i, a := range accounts {
			fmt.Printf("  %d. %s\n", i+1, a.Name)
		}
		fmt.Print("Choice (0 to cancel): ")
		input, _ := readLine(reader)
		var choice int
		fmt.Sscanf(input, "%d", &choice)
		if choice == 0 {
			return nil
		}
		if choice < 0 || choice > len(accounts) {
			return fmt.Errorf("invalid choice: %s", input)
		}
		name = accounts[choice-1].Name
	}

	if !confirm(reader, fmt.Sprintf("Remove account '%s'?", name)) {
		return nil
	}
	if err := manager.Delete(name); err != nil {
		return fmt.Errorf("failed to remove account: %w", err)
	}
	ui.PrintSuccess("Account removed: " + name)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	accounts, err := manager.List()
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}
	if len(accounts) == 0 {
		ui.PrintInfo("No stored accounts", "use 'vkcrawler auth login' to add one")
		return nil
	}

	ui.PrintHighlight("Stored Accounts")
	fmt.Println()
	for i, account := range accounts {
		s := auth.SanitizeAccount(account)
		fmt.Printf("%d. %s\n", i+1, s.Name)
		fmt.Printf("   remixsid: %s\n", s.RemixSID)
		if s.UserAgent != "" {
			fmt.Printf("   User agent: %s\n", s.UserAgent)
		}
		if !s.LastModified.IsZero() {
			fmt.Printf("   Last modified: %s\n", s.LastModified.Format("2006-01-02 15:04:05"))
		}
		fmt.Println()
	}
	return nil
}

func readLine(reader *bufio.Reader) (string, error) {
	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}

// readSecret reads without echo on a terminal and falls back to a plain
// line read when stdin is piped
func readSecret(reader *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(secret)), nil
		}
	}
	return readLine(reader)
}

func confirm(reader *bufio.Reader, question string) bool {
	fmt.Printf("%s (y/N): ", question)
	input, _ := readLine(reader)
	return strings.HasPrefix(strings.ToLower(input), "y")
}
