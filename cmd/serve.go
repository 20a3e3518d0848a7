package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/haestore/internal/api"
	"github.com/Zerofisher/haestore/internal/app"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the message history over HTTP",
	Long: `Start an HTTP API for listing, reading, recording and deleting messages.
OpenAPI documentation is served at /docs.`,
	Example: `  haestore serve
  haestore serve --addr 127.0.0.1:9000`,
	GroupID: "query",
	RunE:    runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from serve.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, cleanup, err := openApp(cmd, app.Options{})
	if err != nil {
		return err
	}
	defer cleanup()

	addr := a.Config.Serve.Addr
	if cmd.Flags().Changed("addr") {
		addr = serveAddr
	}

	h := api.NewServer(a.Store,
		api.WithRecorder(a.Recorder),
		api.WithRefresher(a.Coordinator),
		api.WithLogger(a.Log),
	)
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		a.Log.Info("haestore listening", "addr", addr, "docs", "http://"+addr+"/docs", "db", a.Store.DatabaseLocation())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
	}

	a.Log.Info("shutdown signal received")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		a.Log.Error("shutdown failed", "error", err)
	}
	return nil
}
