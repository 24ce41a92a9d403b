package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/ghostkellz/zeke/internal/jsonrpc"
	"github.com/ghostkellz/zeke/internal/llm"
	"github.com/ghostkellz/zeke/internal/rpc"
)

// rpcStdio serves JSON-RPC on stdin/stdout for editor plugins that
// spawn zeke directly instead of connecting to the daemon. No auth
// handshake: the parent process owns both pipes.
var rpcStdioCmd = &cobra.Command{
	Use:    "rpc",
	Short:  "Serve JSON-RPC requests on stdin/stdout",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStdioRPC(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(rpcStdioCmd)
	// --rpc on the root command is the documented spelling.
	rootCmd.PersistentFlags().Bool("rpc", false, "Read JSON-RPC requests on stdin, write responses on stdout")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if ok, _ := cmd.Flags().GetBool("rpc"); ok {
			if err := runStdioRPC(cmd.Context()); err != nil {
				return err
			}
			os.Exit(exitOK)
		}
		return nil
	}
}

func runStdioRPC(ctx context.Context) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	server := rpc.NewServer(rpc.Deps{
		Router:    a.router,
		Tools:     a.registry,
		Approvals: a.approvals,
		Analyzer:  a.analyzer,
		Store:     a.store,
		DB:        a.db,
		Version:   llm.Version,
	})
	framing := jsonrpc.NewLineFraming(os.Stdin, os.Stdout)
	return server.ServeFraming(ctx, framing)
}
