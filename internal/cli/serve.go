package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lucasnoah/postfactory/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Serve POST /v1/generate, run lookups, /healthz and Prometheus /metrics.

When rules come from a file (FACTORY_RULES_SOURCE=file) the file is watched and
edits take effect on the next validation without a restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		g, err := e.newGenerator(ctx, reg)
		if err != nil {
			return err
		}

		addr := e.settings.HTTP.Addr
		if v, _ := cmd.Flags().GetString("addr"); v != "" {
			addr = v
		}
		maxInFlight, _ := cmd.Flags().GetInt("max-in-flight")
		grace, _ := cmd.Flags().GetDuration("shutdown-grace")

		srv := web.NewServer(g.orch,
			web.WithRunLog(g.db),
			web.WithRunStore(g.store),
			web.WithGatherer(reg),
			web.WithLogger(e.logger),
			web.WithMaxInFlight(maxInFlight),
		)

		group, gctx := errgroup.WithContext(ctx)
		group.Go(func() error {
			return srv.ListenAndServe(gctx, addr, grace)
		})
		if g.rulesSrc != nil {
			group.Go(func() error {
				return g.rulesSrc.Watch(gctx, func() {
					g.provider.Invalidate()
					warmRules(gctx, g, e.logger)
				})
			})
		}
		e.logger.Info("serving",
			zap.String("addr", addr),
			zap.String("rules", g.provider.SourceName()),
			zap.String("config", e.cfgPath))
		return group.Wait()
	},
}

// warmRules refetches after a file change so a broken edit is reported now
// rather than on the next request.
func warmRules(ctx context.Context, g *generator, logger *zap.Logger) {
	set, err := g.provider.Get(ctx)
	if err != nil {
		logger.Error("reloading rules", zap.Error(err))
		return
	}
	logger.Info("rules reloaded", zap.String("version", set.Version), zap.Int("rules", set.Count()))
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default FACTORY_HTTP_ADDR or :8080)")
	serveCmd.Flags().Int("max-in-flight", web.DefaultMaxInFlight, "maximum concurrent generate requests")
	serveCmd.Flags().Duration("shutdown-grace", 30*time.Second, "time allowed for in-flight requests on shutdown")
}
