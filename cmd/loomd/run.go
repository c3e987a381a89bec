// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	"golang.org/x/sync/errgroup"

	"loom/internal/config"
	"loom/internal/dispatch"
	"loom/internal/engine"
	"loom/internal/notify"
	"loom/internal/store"
	"loom/internal/telemetry"
	"loom/internal/template"
	"loom/internal/worker"
)

// attachable is a dispatcher that reports back to the engine it is
// attached to.
type attachable interface {
	engine.Dispatcher
	Attach(r dispatch.Reporter)
	Wait()
}

func newRunCmd(load func() (*config.Config, error)) *cobra.Command {
	var templatePath, inputsPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a template to completion",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			tmpl, err := template.Load(templatePath)
			if err != nil {
				return err
			}
			values := map[string]any{}
			if inputsPath != "" {
				if values, err = template.LoadInputs(inputsPath); err != nil {
					return err
				}
			}
			return runTemplate(cmd.Context(), cmd.OutOrStdout(), cfg, tmpl, values)
		},
	}
	cmd.Flags().StringVarP(&templatePath, "template", "t", "", "workflow or step template (YAML)")
	cmd.Flags().StringVarP(&inputsPath, "inputs", "i", "", "YAML file with input values")
	_ = cmd.MarkFlagRequired("template")
	return cmd
}

func runTemplate(ctx context.Context, out io.Writer, cfg *config.Config, tmpl *template.Template, values map[string]any) error {
	logger := cfg.Logging.NewLogger()

	if cfg.Telemetry.Enabled {
		tp, err := telemetry.NewTracerProvider(ctx, cfg.TelemetryConfig())
		if err != nil {
			return err
		}
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.Warn("tracer shutdown failed", "error", err)
			}
		}()
	}

	d, closeDispatcher, err := newDispatcher(cfg, logger)
	if err != nil {
		return err
	}
	defer closeDispatcher()

	eng := engine.New(cfg.EngineConfig(), store.NewMemory(), d, notify.New(cfg.Notification.WebhookURL), logger)
	d.Attach(eng)

	g, gctx := errgroup.WithContext(ctx)
	monitorCtx, stopMonitor := context.WithCancel(gctx)

	g.Go(func() error {
		return eng.MonitorHeartbeats(monitorCtx)
	})

	var final engine.Run
	g.Go(func() error {
		defer stopMonitor()

		run, err := template.Start(gctx, eng, tmpl, values)
		if err != nil {
			if run.ID != "" {
				_ = eng.Kill(context.Background(), run.ID, "start failed")
			}
			return err
		}
		logger.Info("run started", "run_id", run.ID, "name", run.Name)

		final, err = eng.Wait(gctx, run.ID)
		if err != nil {
			_ = eng.Kill(context.Background(), run.ID, "interrupted")
			return err
		}
		return nil
	})

	err = g.Wait()
	d.Wait()
	if err != nil {
		return err
	}

	printRun(out, final)
	if final.Status != engine.RunSucceeded {
		return fmt.Errorf("run %s %s: %s", final.ID, final.Status, final.Reason)
	}
	return nil
}

func newDispatcher(cfg *config.Config, logger *slog.Logger) (attachable, func(), error) {
	switch cfg.Dispatcher.Type {
	case config.DispatcherTemporal:
		c, err := dialTemporal(cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		t, err := dispatch.NewTemporal(c, cfg.TemporalDispatch(), logger)
		if err != nil {
			c.Close()
			return nil, nil, err
		}
		return t, c.Close, nil
	default:
		exec := worker.NewExecutor(cfg.Dispatcher.WorkingRoot, cfg.Engine.HeartbeatInterval, logger)
		return dispatch.NewLocal(exec, cfg.Dispatcher.MaxConcurrent, logger), func() {}, nil
	}
}

func dialTemporal(cfg *config.Config, logger *slog.Logger) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Dispatcher.Temporal.HostPort,
		Namespace: cfg.Dispatcher.Temporal.Namespace,
		Logger:    tlog.NewStructuredLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create Temporal client: %w", err)
	}
	return c, nil
}

func printRun(w io.Writer, r engine.Run) {
	fmt.Fprintf(w, "run %s (%s): %s\n", r.ID, r.Name, r.Status)
	if r.FailedTaskID != "" {
		fmt.Fprintf(w, "  failed task %s (%s)\n", r.FailedTaskID, r.FailureKind)
	}
	for _, o := range r.Outputs {
		for _, leaf := range o.Data.ReadySubtrees(0) {
			obj, ok := o.Data.Value(leaf.Node)
			if !ok {
				continue
			}
			fmt.Fprintf(w, "  %s%s = %v\n", o.Channel, leaf.Path, obj.Value())
		}
	}
}
