package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	vkdispatch "github.com/oriys/vkdispatch"
	"github.com/oriys/vkdispatch/internal/logging"
	"github.com/oriys/vkdispatch/internal/queue"
)

// newEnqueueCommand pushes one method call onto the configured Redis
// queue for some other process's `worker` command to pick up. This is
// the producer side of the distributed queue: it never builds a
// dispatcher or touches VK itself.
func newEnqueueCommand() *cobra.Command {
	var method string
	var params []string

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Push one method call onto the configured Redis queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			if method == "" {
				return fmt.Errorf("--method is required")
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if !cfg.Queue.Enabled {
				return fmt.Errorf("queue.enabled is false in %s", configPath)
			}

			parsed, err := parseParams(params)
			if err != nil {
				return err
			}
			payload, err := jobParams(parsed)
			if err != nil {
				return fmt.Errorf("encode params: %w", err)
			}

			client := redis.NewClient(&redis.Options{Addr: cfg.Queue.RedisURL})
			defer client.Close()
			q := queue.NewRedisQueue(client, cfg.Queue.Name)

			job := queue.Job{Method: method, Params: payload}
			if err := q.Push(cmd.Context(), job); err != nil {
				return fmt.Errorf("push job: %w", err)
			}
			fmt.Printf("enqueued %s onto %q\n", method, cfg.Queue.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&method, "method", "", "VK method name, e.g. users.get")
	cmd.Flags().StringArrayVar(&params, "param", nil, "method parameter as key=value, may be repeated")
	return cmd
}

// newWorkerCommand runs a dispatcher whose calls come from the Redis
// queue rather than the command line: it pops one Job at a time, submits
// it, logs the outcome, and pops the next, until interrupted. Multiple
// `worker` processes can run against the same queue and credential
// config; Redis load-balances jobs across them.
func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Continuously pop method calls from the Redis queue and dispatch them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if !cfg.Queue.Enabled {
				return fmt.Errorf("queue.enabled is false in %s", configPath)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d, cleanup, err := buildDispatcher(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			client := redis.NewClient(&redis.Options{Addr: cfg.Queue.RedisURL})
			defer client.Close()
			q := queue.NewRedisQueue(client, cfg.Queue.Name)

			logger := logging.Op()
			logger.Info("worker listening on redis queue", "queue", cfg.Queue.Name)
			for {
				job, err := q.Pop(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					logger.Warn("pop failed", "error", err)
					continue
				}
				if err := dispatchJob(ctx, d, job); err != nil {
					logger.Warn("dispatch failed", "method", job.Method, "error", err)
				}
			}
		},
	}
}

func dispatchJob(ctx context.Context, d *vkdispatch.Dispatcher, job queue.Job) error {
	var raw map[string]string
	if len(job.Params) > 0 {
		if err := json.Unmarshal(job.Params, &raw); err != nil {
			return fmt.Errorf("decode job params: %w", err)
		}
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	params := make([]vkdispatch.Param, 0, len(keys))
	for _, k := range keys {
		params = append(params, vkdispatch.Param{Key: k, Value: raw[k]})
	}

	m, err := vkdispatch.NewMethod(job.Method, params...)
	if err != nil {
		return fmt.Errorf("build method: %w", err)
	}
	call, err := d.Submit(ctx, m)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	value, err := call.Result(ctx)
	if err != nil {
		return fmt.Errorf("result: %w", err)
	}
	logging.Op().Info("job dispatched", "method", job.Method, "bytes", len(value))
	return nil
}

func jobParams(params []vkdispatch.Param) (json.RawMessage, error) {
	raw := make(map[string]string, len(params))
	for _, p := range params {
		raw[p.Key] = p.Value
	}
	return json.Marshal(raw)
}
