package cmd

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/ghostkellz/zeke/internal/auth"
	"github.com/ghostkellz/zeke/internal/credentials"
	"github.com/ghostkellz/zeke/internal/ui"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage provider credentials and OAuth flows",
}

var authClaudeCmd = &cobra.Command{
	Use:   "claude",
	Short: "Sign in to Anthropic Claude Max (PKCE)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		flow := auth.NewAnthropicPKCE()
		authorizeURL, err := flow.Begin()
		if err != nil {
			return err
		}
		fmt.Println("Opening your browser to authorise Zeke with Claude Max.")
		fmt.Println("If the browser does not open, visit:")
		fmt.Println("  " + authorizeURL)
		openBrowser(authorizeURL)

		fmt.Print("\nPaste the authorisation code (code#state): ")
		reader := bufio.NewReader(os.Stdin)
		pasted, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		code, err := flow.ParsePastedCode(pasted)
		if err != nil {
			return err
		}
		token, err := flow.Exchange(cmd.Context(), code)
		if err != nil {
			return err
		}
		if err := auth.SaveTokens(a.store, "anthropic", token, time.Now()); err != nil {
			return err
		}
		fmt.Println("anthropic: signed in")
		return nil
	},
}

var authCopilotCmd = &cobra.Command{
	Use:   "copilot",
	Short: "Sign in to GitHub Copilot (device flow)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		flow := auth.NewGitHubDeviceFlow()
		authz, err := flow.Begin(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Open %s and enter the code: %s\n", authz.VerificationURI, authz.UserCode)

		spinner := ui.NewSpinner("waiting for authorisation…")
		token, err := flow.Poll(cmd.Context(), authz)
		spinner.Stop()
		if err != nil {
			return err
		}
		if err := auth.SaveTokens(a.store, "github", token, time.Now()); err != nil {
			return err
		}
		fmt.Println("github: signed in")
		return nil
	},
}

var authSetKeyCmd = &cobra.Command{
	Use:   "set-key <provider> <value>",
	Short: "Store an API key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return a.store.Set(credentials.Credential{
			Provider: args[0],
			Kind:     credentials.KindAPIKey,
			Value:    args[1],
		})
	},
}

var authGetKeyCmd = &cobra.Command{
	Use:   "get-key <provider>",
	Short: "Print a stored API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		cred, err := a.store.Get(args[0], credentials.KindAPIKey)
		if err != nil {
			return fmt.Errorf("no key stored for %s", args[0])
		}
		fmt.Println(cred.Value)
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show credential status per provider (no values)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		metas := a.store.List()
		if len(metas) == 0 {
			fmt.Println("no credentials stored")
			return nil
		}
		for _, m := range metas {
			status := "OK"
			if m.ExpiresAt != nil {
				if m.ExpiresAt.Before(time.Now()) {
					status = "expired"
				} else {
					status = fmt.Sprintf("OK (expires %s)", m.ExpiresAt.Format(time.RFC3339))
				}
			}
			fmt.Printf("%-12s %-14s %s\n", m.Provider, m.Kind, status)
		}
		return nil
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout <provider>",
	Short: "Remove all credentials for a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.store.Logout(args[0]); err != nil {
			return err
		}
		fmt.Printf("%s: logged out\n", args[0])
		return nil
	},
}

var authListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored credentials (metadata only)",
	RunE:  authStatusCmd.RunE,
}

var authTestCmd = &cobra.Command{
	Use:   "test <provider>",
	Short: "Verify a provider credential by listing its models",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		p, ok := a.router.Provider(args[0])
		if !ok {
			return fmt.Errorf("provider %s is not configured", args[0])
		}
		records, err := p.ListModels(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("%s: OK (%d models)\n", args[0], len(records))
		return nil
	},
}

func init() {
	authCmd.AddCommand(authClaudeCmd, authCopilotCmd, authSetKeyCmd, authGetKeyCmd,
		authStatusCmd, authLogoutCmd, authListCmd, authTestCmd)
	rootCmd.AddCommand(authCmd)
}

func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err == nil {
		go cmd.Wait()
	}
}
