package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ghostkellz/zeke/internal/llm"
	"github.com/ghostkellz/zeke/internal/router"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Probe every configured provider and refresh the model catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		healthy := 0
		for _, name := range a.router.Providers() {
			p, _ := a.router.Provider(name)
			start := time.Now()
			records, err := p.ListModels(cmd.Context())
			if err != nil {
				fmt.Printf("%-10s FAIL  %v\n", name, err)
				continue
			}
			for _, rec := range records {
				if err := a.catalog.Put(rec); err != nil {
					continue
				}
				_ = a.db.UpsertModel(rec)
			}
			healthy++
			fmt.Printf("%-10s OK    %d models in %s\n", name, len(records), time.Since(start).Round(time.Millisecond))
		}
		if healthy == 0 {
			return fmt.Errorf("%w: no provider passed its probe", router.ErrNoProviders)
		}
		return nil
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <path>",
	Short: "Analyze a project's manifest, dependencies and health",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		analysis, err := a.analyzer.Analyze(args[0])
		if err != nil {
			return err
		}
		info := analysis.ProjectInfo
		fmt.Printf("%s (%s)\n", info.Name, info.Kind)
		fmt.Printf("  modules:      %d\n", info.ModuleCount)
		fmt.Printf("  dependencies: %d\n", len(analysis.Dependencies))
		fmt.Printf("  health:       %.0f/100 (%s)\n", analysis.Summary.HealthScore, analysis.Summary.Readiness)
		for _, issue := range analysis.BuildIssues {
			fmt.Printf("  issue: %s\n", issue)
		}
		for _, rec := range analysis.Summary.Recommendations {
			fmt.Printf("  recommend: %s\n", rec)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the zeke version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("zeke " + llm.Version)
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd, analyzeCmd, versionCmd)
}
