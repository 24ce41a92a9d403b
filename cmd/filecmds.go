package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ghostkellz/zeke/internal/llm"
	"github.com/ghostkellz/zeke/internal/tools"
)

var flagDryRun bool

var explainCmd = &cobra.Command{
	Use:   "explain <file>",
	Short: "Explain what a source file does",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := readFileArg(args[0])
		if err != nil {
			return err
		}
		req := llm.ChatRequest{
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: "Explain the given source file clearly and concisely."},
				{Role: llm.RoleUser, Content: fmt.Sprintf("File %s:\n\n%s", args[0], content)},
			},
			Tags: llm.Tags{Intent: string(llm.IntentExplain), Language: languageOf(args[0])},
		}
		return runChat(cmd.Context(), req, true)
	},
}

var fixCmd = &cobra.Command{
	Use:   "fix <file>",
	Short: "Suggest fixes for a source file",
	Args:  cobra.ExactArgs(1),
	RunE:  makeFileIntentRun("Find bugs in the given file and show corrected code.", llm.IntentCode),
}

var testCmd = &cobra.Command{
	Use:   "test <file>",
	Short: "Generate tests for a source file",
	Args:  cobra.ExactArgs(1),
	RunE:  makeFileIntentRun("Write thorough unit tests for the given file, in the project's existing test style.", llm.IntentTests),
}

var refactorCmd = &cobra.Command{
	Use:   "refactor <instruction>",
	Short: "Ask for a refactoring of the current project",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := llm.ChatRequest{
			Prompt: joinArgs(args),
			Tags:   llm.Tags{Intent: string(llm.IntentRefactor)},
		}
		return runChat(cmd.Context(), req, true)
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <file> <instruction>",
	Short: "Apply an AI-drafted edit to a file, with diff preview",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		path := args[0]
		content, err := readFileArg(path)
		if err != nil {
			return err
		}
		req := llm.ChatRequest{
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: "Rewrite the file per the instruction. Reply with the complete new file content only, no fences, no commentary."},
				{Role: llm.RoleUser, Content: fmt.Sprintf("Instruction: %s\n\nFile %s:\n\n%s", joinArgs(args[1:]), path, content)},
			},
			Tags: llm.Tags{Intent: string(llm.IntentRefactor), Language: languageOf(path)},
		}
		resp, _, err := a.router.Complete(cmd.Context(), req, projectID())
		if err != nil {
			return err
		}

		result, err := a.registry.Execute(cmd.Context(), "file_preview", map[string]any{
			"file_path": path,
			"content":   resp.Content,
		}, "cli")
		if err != nil {
			return err
		}
		fmt.Println(string(result.Output))

		if flagDryRun {
			return nil
		}
		if _, err := a.registry.Execute(cmd.Context(), "file_write", map[string]any{
			"file_path":     path,
			"content":       resp.Content,
			"create_backup": true,
		}, "cli"); err != nil {
			return err
		}
		fmt.Printf("applied edit to %s\n", path)
		return nil
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate (function|test) <description>",
	Short: "Generate a function or a test from a description",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := args[0]
		if kind != "function" && kind != "test" {
			return tools.NewErrorf(tools.ErrInvalidParams, "generate expects function or test, got %q", kind)
		}
		intent := llm.IntentCode
		if kind == "test" {
			intent = llm.IntentTests
		}
		req := llm.ChatRequest{
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: "Generate a single " + kind + " matching the description. Reply with code only."},
				{Role: llm.RoleUser, Content: joinArgs(args[1:])},
			},
			Tags: llm.Tags{Intent: string(intent)},
		}
		return runChat(cmd.Context(), req, true)
	},
}

func init() {
	editCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Preview the diff without writing")
	rootCmd.AddCommand(explainCmd, fixCmd, testCmd, refactorCmd, editCmd, generateCmd)
}

func makeFileIntentRun(system string, intent llm.Intent) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		content, err := readFileArg(args[0])
		if err != nil {
			return err
		}
		req := llm.ChatRequest{
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: system},
				{Role: llm.RoleUser, Content: fmt.Sprintf("File %s:\n\n%s", args[0], content)},
			},
			Tags: llm.Tags{Intent: string(intent), Language: languageOf(args[0])},
		}
		return runChat(cmd.Context(), req, true)
	}
}

func joinArgs(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}

func languageOf(path string) string {
	switch filepath.Ext(path) {
	case ".go":
		return "go"
	case ".rs":
		return "rust"
	case ".ts", ".tsx":
		return "typescript"
	case ".js", ".jsx":
		return "javascript"
	case ".py":
		return "python"
	case ".zig":
		return "zig"
	default:
		return ""
	}
}
