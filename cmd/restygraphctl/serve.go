package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	bridge "github.com/hanpama/restygraph/internal/bridge"
	ffi "github.com/hanpama/restygraph/internal/ffi"
	"github.com/hanpama/restygraph/internal/logging"
	server "github.com/hanpama/restygraph/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	serveAddr     string
	servePretty   bool
	serveTimeout  time.Duration
	serveMaxBody  int64
	serveCORS     []string
	serveSchemas  []string
	serveShutdown time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP front door",
	Long: `Serve the bridge over HTTP.

Routes:
  POST   /schemas               create a schema (JSON or YAML body)
  DELETE /schemas/{id}          close a schema
  GET    /schemas/{id}/graphql  query a schema
  POST   /schemas/{id}/graphql  query a schema (single or batched)
  POST   /tasks                 submit a raw task envelope

Examples:
  restygraphctl serve --addr :8080
  restygraphctl serve --schema library.yaml --pretty`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "HTTP listen address")
	serveCmd.Flags().BoolVar(&servePretty, "pretty", false, "pretty-print JSON responses")
	serveCmd.Flags().DurationVar(&serveTimeout, "timeout", 10*time.Second, "per-request timeout")
	serveCmd.Flags().Int64Var(&serveMaxBody, "max-body", 1<<20, "maximum request body in bytes, 0 for unlimited")
	serveCmd.Flags().StringSliceVar(&serveCORS, "cors", nil, "allowed CORS origins")
	serveCmd.Flags().StringSliceVar(&serveSchemas, "schema", nil, "schema configuration to create at startup, repeatable")
	serveCmd.Flags().DurationVar(&serveShutdown, "shutdown-timeout", 10*time.Second, "grace period for in-flight requests")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	host := ffi.NewMemHost()
	b, err := bridge.StartConfig(cfg, host, host.Queue())
	if err != nil {
		return err
	}
	log := logging.Logger()

	for _, path := range serveSchemas {
		id, err := createFromFile(host, path)
		if err != nil {
			host.Close()
			_ = b.Wait(context.Background())
			return fmt.Errorf("schema %s: %w", path, err)
		}
		log.Info("schema created", zap.String("file", path), zap.Int64("schema", id))
	}

	opts := []server.Option{server.WithTimeout(serveTimeout), server.WithMaxBodyBytes(serveMaxBody)}
	if servePretty {
		opts = append(opts, server.WithPretty())
	}
	if len(serveCORS) > 0 {
		opts = append(opts, server.WithCORS(serveCORS...))
	}
	srv := &http.Server{
		Addr:              serveAddr,
		Handler:           server.New(host, opts...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", serveAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err = <-errc:
	case <-ctx.Done():
		log.Info("shutting down")
	}

	sctx, cancel := context.WithTimeout(context.Background(), serveShutdown)
	defer cancel()
	return errors.Join(err, srv.Shutdown(sctx), stopBridge(sctx, host, b))
}

func stopBridge(ctx context.Context, host *ffi.MemHost, b *bridge.Bridge) error {
	host.Close()
	return b.Wait(ctx)
}
