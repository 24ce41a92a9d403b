package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ghostkellz/zeke/internal/llm"
)

var flagStream bool

var chatCmd = &cobra.Command{
	Use:   "chat <prompt>",
	Short: "Send a prompt through the smart router",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := llm.ChatRequest{
			Prompt:   strings.Join(args, " "),
			Provider: flagProvider,
			Model:    flagModel,
			Tags:     llm.Tags{Intent: string(llm.IntentCode)},
		}
		return runChat(cmd.Context(), req, flagStream)
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question (chat without streaming)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := llm.ChatRequest{
			Prompt: strings.Join(args, " "),
			Tags:   llm.Tags{Intent: string(llm.IntentExplain)},
		}
		return runChat(cmd.Context(), req, false)
	},
}

func init() {
	chatCmd.Flags().StringVar(&flagProvider, "provider", "", "Pin a provider (openai, anthropic, google, xai, azure, ollama, copilot, proxy)")
	chatCmd.Flags().StringVar(&flagModel, "model", "", "Pin a model")
	chatCmd.Flags().BoolVar(&flagStream, "stream", false, "Stream the response as it is generated")
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(askCmd)
}

func runChat(ctx context.Context, req llm.ChatRequest, stream bool) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if !stream {
		resp, _, err := a.router.Complete(ctx, req, projectID())
		if err != nil {
			return err
		}
		fmt.Println(resp.Content)
		return nil
	}

	s, _, err := a.router.StreamChat(ctx, req, projectID())
	if err != nil {
		return err
	}
	defer s.Close()
	for {
		delta, err := s.Recv()
		if err == io.EOF {
			fmt.Println()
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Print(delta.Text)
		if delta.Finished {
			fmt.Println()
			return nil
		}
	}
}

// readFileArg loads a file named on the command line, bounded so a
// stray binary does not blow the prompt.
func readFileArg(path string) (string, error) {
	const maxPromptFile = 256 * 1024
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if len(data) > maxPromptFile {
		data = data[:maxPromptFile]
	}
	return string(data), nil
}
