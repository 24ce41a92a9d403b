package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"

	"github.com/ghostkellz/zeke/internal/llm"
)

var providerCmd = &cobra.Command{
	Use:   "provider",
	Short: "Inspect configured providers",
}

var providerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		for _, name := range a.router.Providers() {
			fmt.Println(name)
		}
		return nil
	},
}

var providerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show provider availability from the model catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		for _, name := range a.router.Providers() {
			records := a.catalog.ByProvider(name)
			available := 0
			for _, rec := range records {
				if rec.Available {
					available++
				}
			}
			fmt.Printf("%-10s %d/%d models available\n", name, available, len(records))
		}
		return nil
	},
}

var providerTestCmd = &cobra.Command{
	Use:   "test <provider>",
	Short: "Probe one provider's model listing",
	Args:  cobra.ExactArgs(1),
	RunE:  authTestCmd.RunE,
}

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Inspect the model catalog",
}

var modelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached models",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		records := a.catalog.All()
		if len(records) == 0 {
			fmt.Println("catalog is empty; run `zeke doctor` to populate it")
			return nil
		}
		for _, rec := range records {
			fmt.Printf("%-40s ctx=%-7d caps=%-26s $%.4f/$%.4f per 1k\n",
				rec.ID, rec.ContextLength, rec.Capabilities, rec.CostInPer1K, rec.CostOutPer1K)
		}
		return nil
	},
}

var modelRecommendCmd = &cobra.Command{
	Use:   "recommend <need>",
	Short: "Recommend models for a described need",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		need := strings.Join(args, " ")
		records := a.catalog.All()
		haystack := make([]string, len(records))
		for i, rec := range records {
			haystack[i] = rec.ID + " " + rec.DisplayName + " " + rec.Capabilities.String()
		}
		matches := fuzzy.Find(need, haystack)
		if len(matches) == 0 {
			// Fall back to capability matching on the parsed intent.
			intent := llm.ParseIntent(need)
			for _, rec := range a.catalog.Candidates(intent) {
				fmt.Println(rec.ID)
			}
			return nil
		}
		sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
		for i, m := range matches {
			if i >= 5 {
				break
			}
			fmt.Println(records[m.Index].ID)
		}
		return nil
	},
}

func init() {
	providerCmd.AddCommand(providerListCmd, providerStatusCmd, providerTestCmd)
	modelCmd.AddCommand(modelListCmd, modelRecommendCmd)
	rootCmd.AddCommand(providerCmd, modelCmd)
}
