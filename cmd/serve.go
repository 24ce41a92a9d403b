package cmd

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ghostkellz/zeke/internal/llm"
	"github.com/ghostkellz/zeke/internal/rpc"
	"github.com/ghostkellz/zeke/internal/ws"
)

var (
	flagServePort int
	flagServeWS   int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Zeke daemon (JSON-RPC socket + WebSocket stream)",
	RunE: func(cmd *cobra.Command, args []string) error {
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

		socketPath := a.cfg.RPC.Socket
		if socketPath == "" {
			socketPath = filepath.Join(a.stateDir, "zeke.sock")
		}
		port := flagServePort
		if port == 0 {
			port = a.cfg.RPC.Port
		}
		listener, addr, err := rpc.Listen(socketPath, port)
		if err != nil {
			return err
		}

		lockName := uuid.NewString()
		if port > 0 {
			lockName = fmt.Sprintf("%d", port)
		}
		if _, err := rpc.WriteLockFile(a.stateDir, lockName, rpc.LockFile{
			PID:          os.Getpid(),
			SocketOrPort: addr,
			AuthToken:    server.AuthToken(),
		}); err != nil {
			return err
		}
		defer rpc.RemoveLockFile(a.stateDir, lockName)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// WebSocket endpoint on its own loopback port when requested.
		if flagServeWS > 0 {
			wsServer := ws.NewServer(a.router, server.AuthToken())
			mux := http.NewServeMux()
			mux.Handle("/stream", wsServer)
			httpServer := &http.Server{
				Addr:    fmt.Sprintf("127.0.0.1:%d", flagServeWS),
				Handler: mux,
			}
			go func() {
				<-ctx.Done()
				httpServer.Close()
			}()
			go httpServer.ListenAndServe()
			fmt.Printf("websocket stream on ws://127.0.0.1:%d/stream\n", flagServeWS)
		}

		fmt.Printf("zeke daemon listening on %s\n", addr)
		return server.Serve(ctx, listener)
	},
}

func init() {
	serveCmd.Flags().IntVar(&flagServePort, "port", 0, "Listen on loopback TCP instead of the Unix socket")
	serveCmd.Flags().IntVar(&flagServeWS, "ws-port", 0, "Also serve WebSocket streaming on this loopback port")
	rootCmd.AddCommand(serveCmd)
}
