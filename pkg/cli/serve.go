package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/topperstoolkit/doubts/pkg/httpapi"
	"github.com/topperstoolkit/doubts/pkg/observability"
	"github.com/topperstoolkit/doubts/pkg/service/mcp"
	"github.com/topperstoolkit/doubts/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func serveCommand() *cli.Command {
	var (
		cfg            config
		addr           string
		allowAnyOrigin bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "Listen address",
			Value:       "127.0.0.1:8080",
			Sources:     cli.EnvVars("DOUBTS_ADDR"),
			Destination: &addr,
		},
		&cli.BoolFlag{
			Name:        "allow-any-origin",
			Usage:       "Accept websocket connections from any origin",
			Sources:     cli.EnvVars("DOUBTS_ALLOW_ANY_ORIGIN"),
			Destination: &allowAnyOrigin,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the HTTP and websocket API",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)
			cfg.metrics = observability.NewMetrics(metricsNamespace)

			kb, err := cfg.newKnowledge()
			if err != nil {
				return err
			}
			orchestrator, err := cfg.newOrchestrator(ctx, kb)
			if err != nil {
				return err
			}
			uc, closer, err := cfg.newConversationWith(ctx, orchestrator)
			if err != nil {
				return err
			}
			defer closer()

			info, err := cfg.newPlatformTool(kb)
			if err != nil {
				return err
			}

			opts := []httpapi.Option{
				httpapi.WithMetrics(cfg.metrics),
				httpapi.WithMCPHandler(mcp.Handler(mcp.NewServer(info, version))),
			}
			if allowAnyOrigin {
				opts = append(opts, httpapi.WithAllowAnyOrigin())
			}
			srv := httpapi.New(uc, info, opts...)

			httpServer := &http.Server{
				Addr:              addr,
				Handler:           srv.Router(),
				ReadHeaderTimeout: 10 * time.Second,
				BaseContext:       func(_ net.Listener) context.Context { return ctx },
			}

			errCh := make(chan error, 1)
			go func() {
				logging.From(ctx).Info("listening", "addr", addr, "store", cfg.store, "llm", cfg.llm)
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return goerr.Wrap(err, "failed to serve", goerr.V("addr", addr))
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return goerr.Wrap(err, "failed to shutdown server")
			}
			return nil
		},
	}
}
