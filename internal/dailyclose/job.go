package dailyclose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/fairway-pms/fairway/internal/jobs"
	"github.com/fairway-pms/fairway/internal/shared"
	"github.com/fairway-pms/fairway/jobs"
)

type noShowRunner interface {
	AutoNoShow(ctx context.Context, date BusinessDate, operator shared.Operator) (NoShowResult, error)
}

// NoShowJob processes dailyclose:noshow tasks.
type NoShowJob struct {
	service noShowRunner
	clubID  int64
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewNoShowJob constructs a job handler bound to one club.
func NewNoShowJob(service noShowRunner, clubID int64, logger *slog.Logger, metrics *jobmetrics.Metrics) *NoShowJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoShowJob{service: service, clubID: clubID, logger: logger, metrics: metrics}
}

// Handle fulfils the asynq.HandlerFunc contract. Malformed tasks and dates
// that are already closed are not retried.
func (j *NoShowJob) Handle(ctx context.Context, task *asynq.Task) (err error) {
	tracker := j.metrics.Track(jobs.TaskDailyCloseNoShow)
	defer func() { err = tracker.End(err) }()

	var payload jobs.DailyCloseNoShowPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.ClubID != j.clubID {
		return fmt.Errorf("club %d not served by this worker: %w", payload.ClubID, asynq.SkipRetry)
	}
	date, err := ParseBusinessDate(payload.Date)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	operator := shared.Operator{ID: payload.OperatorID, Name: payload.OperatorName}
	result, err := j.service.AutoNoShow(ctx, date, operator)
	if err != nil {
		if errors.Is(err, ErrAlreadyClosed) {
			j.logger.InfoContext(ctx, "no-show skipped, date closed", slog.String("date", date.String()))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		j.logger.ErrorContext(ctx, "no-show job", slog.String("date", date.String()), slog.Any("error", err))
		return err
	}
	j.logger.InfoContext(ctx, "no-show job complete",
		slog.String("date", date.String()),
		slog.Int("marked", result.MarkedCount),
		slog.Int("failed", len(result.FailedIDs)))
	return nil
}
