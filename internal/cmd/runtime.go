package cmd

import (
	"context"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/felixgeelhaar/bodega/internal/api"
	"github.com/felixgeelhaar/bodega/internal/config"
	"github.com/felixgeelhaar/bodega/internal/credential"
	"github.com/felixgeelhaar/bodega/internal/log"
	"github.com/felixgeelhaar/bodega/internal/metrics"
	"github.com/felixgeelhaar/bodega/internal/session"
	"github.com/felixgeelhaar/bodega/internal/telemetry"
	"github.com/felixgeelhaar/bodega/internal/token"
	"github.com/felixgeelhaar/bodega/internal/version"
)

// runtime is everything one command invocation needs: the loaded
// configuration plus the credential store, API client and session manager
// built from it.
type runtime struct {
	ctx      context.Context
	cfg      *config.Config
	logger   *log.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	store    credential.Store
	client   *api.Client
	session  *session.Manager
	span     trace.Span
	closers  []func()
}

type runtimeOptions struct {
	// logToFile sends logs to the configured log file instead of stderr
	logToFile bool
}

// loadConfig reads the configuration and applies flag overrides
func loadConfig(cc *CommandContext) (*config.Config, error) {
	cfg, err := config.Load(cc.ConfigPath)
	if err != nil {
		return nil, err
	}

	if cc.APIURL != "" {
		cfg.APIURL = cc.APIURL
	}
	if cc.LogLevel != "" {
		cfg.Log.Level = cc.LogLevel
	}
	if cc.Verbose {
		cfg.Log.Level = "debug"
	}
	if cc.Ephemeral {
		cfg.Credentials.Backend = credential.BackendMemory
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newRuntime(cmd *cobra.Command, cc *CommandContext, opts runtimeOptions) (rt *runtime, err error) {
	cfg, err := loadConfig(cc)
	if err != nil {
		return nil, err
	}

	rt = &runtime{ctx: cmd.Context(), cfg: cfg}
	if rt.ctx == nil {
		rt.ctx = context.Background()
	}
	defer func() {
		if err != nil {
			rt.Finish(err)
		}
	}()

	var out io.Writer = cmd.ErrOrStderr()
	if opts.logToFile {
		f, ferr := log.OpenFile(cfg.Log.File)
		if ferr != nil {
			return rt, ferr
		}
		rt.closers = append(rt.closers, func() { _ = f.Close() })
		out = f
	}
	rt.logger = log.New(cfg.LogConfig(out))
	log.SetDefaultLogger(rt.logger)

	info := version.GetInfo()
	shutdown, terr := telemetry.InitProvider(rt.ctx, cfg.TelemetryConfig(info.Version))
	if terr != nil {
		// tracing is optional; carry on without it
		rt.logger.WithError(terr).Warn("Failed to initialize telemetry")
	} else {
		rt.closers = append(rt.closers, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				rt.logger.WithError(err).Warn("Failed to flush telemetry")
			}
		})
	}
	rt.ctx, rt.span = telemetry.StartCommandSpan(rt.ctx, commandName(cmd))

	rt.registry, rt.metrics = metrics.NewRegistry()
	if cfg.MetricsAddr != "" {
		metricsCtx, cancel := context.WithCancel(rt.ctx)
		rt.closers = append(rt.closers, cancel)
		addr, serr := metrics.Serve(metricsCtx, cfg.MetricsAddr, rt.registry)
		if serr != nil {
			rt.logger.WithError(serr).Warn("Failed to expose metrics", "addr", cfg.MetricsAddr)
		} else {
			rt.logger.Debug("Serving metrics", "addr", addr.String())
		}
	}

	store, closer, err := credential.Open(rt.ctx, cfg.CredentialOptions())
	if err != nil {
		return rt, err
	}
	rt.store = store
	rt.closers = append(rt.closers, func() { _ = closer.Close() })

	rt.client, err = api.NewClient(cfg.APIURL, store,
		api.WithLogger(rt.logger),
		api.WithMetrics(rt.metrics),
		api.WithTimeout(cfg.RequestTimeout),
	)
	if err != nil {
		return rt, err
	}

	var decoderOpts []token.Option
	if cfg.CheckExpiry {
		decoderOpts = append(decoderOpts, token.WithExpiryCheck(cfg.ExpiryLeeway))
	}

	logger := rt.logger
	rt.session = session.NewManager(store, rt.client,
		session.WithDecoder(token.NewDecoder(decoderOpts...)),
		session.WithLogger(logger),
		session.WithMetrics(rt.metrics),
		session.WithOnEnded(func(reason session.EndReason) {
			logger.Info("Session ended", "reason", reason.String())
		}),
	)
	rt.client.SetInvalidator(rt.session)

	return rt, nil
}

// Finish records the command outcome on its span and releases resources in
// reverse order of acquisition
func (rt *runtime) Finish(err error) {
	if rt.span != nil {
		if err != nil {
			telemetry.RecordError(rt.span, err)
		} else {
			telemetry.RecordSuccess(rt.span)
		}
		rt.span.End()
	}
	if rt.session != nil {
		rt.session.Wait()
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

// commandName returns the dotted path below the root, e.g. "auth.login"
func commandName(cmd *cobra.Command) string {
	name := cmd.Name()
	for p := cmd.Parent(); p != nil && p.HasParent(); p = p.Parent() {
		name = p.Name() + "." + name
	}
	return name
}

// withRuntime wraps a RunE body with runtime setup and teardown
func withRuntime(opts runtimeOptions, run func(cmd *cobra.Command, args []string, cc *CommandContext, rt *runtime) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		cc, err := NewCommandContext(cmd)
		if err != nil {
			return err
		}
		rt, err := newRuntime(cmd, cc, opts)
		if err != nil {
			return err
		}
		defer func() { rt.Finish(err) }()

		return run(cmd, args, cc, rt)
	}
}

