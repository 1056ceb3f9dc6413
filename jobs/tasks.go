package jobs

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskDailyCloseNoShow resolves overdue bookings of a business date.
	TaskDailyCloseNoShow = "dailyclose:noshow"
)

// noShowUniqueTTL collapses duplicate enqueues of the same date.
const noShowUniqueTTL = time.Minute

// DailyCloseNoShowPayload identifies the business date to resolve.
type DailyCloseNoShowPayload struct {
	ClubID       int64  `json:"club_id"`
	Date         string `json:"date"`
	OperatorID   int64  `json:"operator_id,omitempty"`
	OperatorName string `json:"operator_name,omitempty"`
}

// Validate ensures the payload names a club and a date.
func (p DailyCloseNoShowPayload) Validate() error {
	if p.ClubID <= 0 {
		return errors.New("jobs: no-show payload requires club_id")
	}
	if p.Date == "" {
		return errors.New("jobs: no-show payload requires date")
	}
	return nil
}

// NewDailyCloseNoShowTask constructs an Asynq task.
func NewDailyCloseNoShowTask(payload DailyCloseNoShowPayload) (*asynq.Task, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDailyCloseNoShow, data,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(5),
		asynq.Unique(noShowUniqueTTL),
		asynq.Timeout(2*time.Minute),
	), nil
}
