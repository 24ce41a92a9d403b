package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ghostkellz/zeke/internal/llm"
)

var routerCmd = &cobra.Command{
	Use:   "router",
	Short: "Inspect and exercise the smart router",
}

var routerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show routing mode, providers and per-project prefs",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Printf("mode:      %s\n", a.cfg.Router.Mode)
		fmt.Printf("providers: %s\n", strings.Join(a.router.Providers(), ", "))
		prefs, err := a.db.GetPrefs(projectID())
		if err == nil {
			fmt.Printf("project:   prefer_local=%v budget=%d¢ threshold=%s\n",
				prefs.PreferLocal, prefs.MaxCloudCostCents, prefs.EscalationThreshold)
			if prefs.LastModel != "" {
				fmt.Printf("last:      %s\n", prefs.LastModel)
			}
		}
		spent, err := a.db.MonthToDateCostCents(projectID(), time.Now())
		if err == nil {
			fmt.Printf("spend:     %.2f¢ this month\n", spent)
		}
		return nil
	},
}

var routerSwitchCmd = &cobra.Command{
	Use:   "switch <mode>",
	Short: "Switch routing mode (direct, proxy, auto)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := args[0]
		switch mode {
		case "direct", "proxy", "auto":
		default:
			return fmt.Errorf("mode must be direct, proxy, or auto")
		}
		return writeConfigValue("router.mode", mode)
	},
}

var routerTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Send a canary request through the router",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		req := llm.ChatRequest{
			Prompt:    "Reply with the single word: ok",
			MaxTokens: 8,
			Tags:      llm.Tags{Intent: string(llm.IntentCompletion)},
		}
		resp, plan, err := a.router.Complete(cmd.Context(), req, projectID())
		if err != nil {
			return err
		}
		fmt.Printf("%s (%s) in %dms — %s\n", resp.Provider, resp.Model, resp.LatencyMs, plan.Reason)
		return nil
	},
}

var routerChatCmd = &cobra.Command{
	Use:   "chat <prompt>",
	Short: "Chat and print the routing decision first",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		req := llm.ChatRequest{
			Prompt: strings.Join(args, " "),
			Tags:   llm.Tags{Intent: string(llm.IntentCode)},
		}
		resp, plan, err := a.router.Complete(cmd.Context(), req, projectID())
		if err != nil {
			return err
		}
		fmt.Printf("[%s → %s:%s] %s\n\n", plan.Class, resp.Provider, resp.Model, plan.Reason)
		fmt.Println(resp.Content)
		return nil
	},
}

func init() {
	routerCmd.AddCommand(routerStatusCmd, routerSwitchCmd, routerTestCmd, routerChatCmd)
	rootCmd.AddCommand(routerCmd)
}
