package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	vkdispatch "github.com/oriys/vkdispatch"
	"github.com/oriys/vkdispatch/internal/audit"
	"github.com/oriys/vkdispatch/internal/logging"
	"github.com/oriys/vkdispatch/internal/metrics"
	"github.com/oriys/vkdispatch/internal/observability"
)

func newRunCommand() *cobra.Command {
	var method string
	var params []string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit one method call through a dispatcher built from the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if method == "" {
				return fmt.Errorf("--method is required")
			}
			return runOnce(cmd.Context(), method, params)
		},
	}
	cmd.Flags().StringVar(&method, "method", "", "VK method name, e.g. users.get")
	cmd.Flags().StringArrayVar(&params, "param", nil, "method parameter as key=value, may be repeated")
	return cmd
}

func runOnce(ctx context.Context, methodName string, rawParams []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, cleanup, err := buildDispatcher(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	params, err := parseParams(rawParams)
	if err != nil {
		return err
	}
	m, err := vkdispatch.NewMethod(methodName, params...)
	if err != nil {
		return fmt.Errorf("build method: %w", err)
	}

	call, err := d.Submit(ctx, m)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	value, err := call.Result(ctx)
	if err != nil {
		return fmt.Errorf("dispatch failed: %w", err)
	}

	var pretty interface{}
	if err := json.Unmarshal(value, &pretty); err == nil {
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Println(string(out))
	} else {
		fmt.Println(string(value))
	}
	return nil
}

func parseParams(raw []string) ([]vkdispatch.Param, error) {
	params := make([]vkdispatch.Param, 0, len(raw))
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q, expected key=value", kv)
		}
		params = append(params, vkdispatch.Param{Key: key, Value: value})
	}
	return params, nil
}

// buildDispatcher assembles a Dispatcher from cfg, wiring in metrics,
// tracing, and an audit sink according to what the config enables. The
// returned cleanup function closes the dispatcher (and with it the audit
// sink), then the metrics server, then tracing.
func buildDispatcher(ctx context.Context, cfg *Config) (*vkdispatch.Dispatcher, func(), error) {
	var opts []vkdispatch.Option
	var collector *metrics.Collector
	var metricsServer *http.Server

	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector("vkdispatch")
		opts = append(opts, vkdispatch.WithMetrics(collector))

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Op().Error("metrics server stopped", "error", err)
			}
		}()
	}

	if cfg.Tracing.Enabled {
		if err := observability.Init(ctx, observability.Config{
			Enabled:     true,
			Exporter:    cfg.Tracing.Exporter,
			Endpoint:    cfg.Tracing.Endpoint,
			ServiceName: cfg.Tracing.ServiceName,
			SampleRate:  cfg.Tracing.SampleRate,
		}); err != nil {
			return nil, nil, fmt.Errorf("init tracing: %w", err)
		}
		opts = append(opts, vkdispatch.WithTracing())
	}

	var auditSink audit.Sink
	if cfg.Audit.Enabled {
		sink, err := audit.NewPostgresSink(ctx, cfg.Audit.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("init audit sink: %w", err)
		}
		auditSink = sink
		opts = append(opts, vkdispatch.WithAuditSink(auditSink, cfg.Audit.batcherConfig()))
	}

	credentials := make([]vkdispatch.Credential, len(cfg.Credentials))
	for i, cc := range cfg.Credentials {
		token, err := resolveToken(ctx, cc.Token)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve credential %d token: %w", i, err)
		}
		var credOpts []vkdispatch.CredentialOption
		if cc.Endpoint != "" {
			credOpts = append(credOpts, vkdispatch.WithEndpoint(cc.Endpoint))
		}
		if cc.APIVersion != "" {
			credOpts = append(credOpts, vkdispatch.WithAPIVersion(cc.APIVersion))
		}
		if cc.IntervalMs > 0 {
			credOpts = append(credOpts, vkdispatch.WithInterval(time.Duration(cc.IntervalMs)*time.Millisecond))
		}
		cred, err := vkdispatch.NewCredential(token, credOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("build credential %d: %w", i, err)
		}
		credentials[i] = cred
	}

	d, err := vkdispatch.New(credentials, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("build dispatcher: %w", err)
	}

	cleanup := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := d.Close(closeCtx); err != nil {
			logging.Op().Error("dispatcher close failed", "error", err)
		}
		if metricsServer != nil {
			_ = metricsServer.Shutdown(closeCtx)
		}
		if cfg.Tracing.Enabled {
			_ = observability.Shutdown(closeCtx)
		}
	}
	return d, cleanup, nil
}
