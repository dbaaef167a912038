package cli

import (
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/gridbill/gridbill/jobs"
)

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage background jobs",
	}
	cmd.AddCommand(newJobsTriggerCmd())
	return cmd
}

func newJobsTriggerCmd() *cobra.Command {
	var (
		asOf      string
		redisAddr string
	)

	cmd := &cobra.Command{
		Use:   "trigger <overdue-sweep|debt-sync|report-warmup>",
		Short: "Enqueue a scheduled job for immediate execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskType, err := jobs.TaskTypeForName(args[0])
			if err != nil {
				return err
			}
			payload := jobs.RunPayload{AsOf: asOf}
			if _, err := payload.Date(time.Now()); err != nil {
				return err
			}
			if redisAddr == "" {
				cfg, err := loadConfig()
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				redisAddr = cfg.RedisAddr
			}

			client := jobs.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
			defer func() { _ = client.Close() }()

			info, err := client.Enqueue(cmd.Context(), taskType, payload)
			if err != nil {
				return fmt.Errorf("enqueue %s: %w", taskType, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
			return nil
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "run date override (YYYY-MM-DD)")
	cmd.Flags().StringVar(&redisAddr, "redis", "", "Redis address (defaults to REDIS_ADDR)")
	return cmd
}
