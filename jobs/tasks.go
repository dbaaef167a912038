package jobs

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskOverdueSweep flags overdue invoices and installments and defaults stale plans.
	TaskOverdueSweep = "billing:overdue_sweep"
	// TaskDebtSync creates and refreshes debts from past-due invoices.
	TaskDebtSync = "debt:sync"
	// TaskReportWarmup preloads the report cache.
	TaskReportWarmup = "reporting:warmup"
)

const asOfLayout = "2006-01-02"

// RunPayload is shared by the scheduled tasks. AsOf (YYYY-MM-DD) overrides the run date.
type RunPayload struct {
	AsOf string `json:"as_of,omitempty"`
}

// Date resolves the effective run date, falling back to now.
func (p RunPayload) Date(now time.Time) (time.Time, error) {
	if strings.TrimSpace(p.AsOf) == "" {
		return now.UTC(), nil
	}
	t, err := time.Parse(asOfLayout, strings.TrimSpace(p.AsOf))
	if err != nil {
		return time.Time{}, fmt.Errorf("jobs: invalid as_of %q: %w", p.AsOf, err)
	}
	return t, nil
}

// NewTask builds one of the scheduled task types.
func NewTask(taskType string, payload RunPayload) (*asynq.Task, error) {
	switch taskType {
	case TaskOverdueSweep, TaskDebtSync, TaskReportWarmup:
	default:
		return nil, fmt.Errorf("jobs: unknown task type %q", taskType)
	}
	if _, err := payload.Date(time.Now()); err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, data), nil
}

// TaskTypeForName maps the operator-facing job names to task types.
func TaskTypeForName(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "overdue-sweep":
		return TaskOverdueSweep, nil
	case "debt-sync":
		return TaskDebtSync, nil
	case "report-warmup":
		return TaskReportWarmup, nil
	default:
		return "", fmt.Errorf("jobs: unknown job %q (want overdue-sweep, debt-sync or report-warmup)", name)
	}
}

func decodePayload(t *asynq.Task) (RunPayload, error) {
	var payload RunPayload
	if len(t.Payload()) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, err
	}
	return payload, nil
}
