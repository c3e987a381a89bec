// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package main

import (
	"github.com/spf13/cobra"

	"loom/internal/config"
	"loom/internal/dispatch"
	"loom/internal/worker"
)

func newWorkerCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Execute attempts delivered through Temporal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logger := cfg.Logging.NewLogger()

			c, err := dialTemporal(cfg, logger)
			if err != nil {
				return err
			}
			defer c.Close()

			// Activity heartbeats must land well inside the heartbeat timeout.
			exec := worker.NewExecutor(cfg.Dispatcher.WorkingRoot, dispatch.DefaultHeartbeatTimeout/4, logger)
			w, err := dispatch.NewTemporalWorker(c, dispatch.NewActivities(exec), dispatch.WorkerOptions{
				TaskQueue:     cfg.Dispatcher.Temporal.TaskQueue,
				MaxConcurrent: cfg.Dispatcher.MaxConcurrent,
			})
			if err != nil {
				return err
			}
			if err := w.Start(); err != nil {
				return err
			}
			logger.Info("worker listening", "task_queue", cfg.Dispatcher.Temporal.TaskQueue)

			<-cmd.Context().Done()
			logger.Info("shutdown signal received")
			w.Stop()
			return nil
		},
	}
}
