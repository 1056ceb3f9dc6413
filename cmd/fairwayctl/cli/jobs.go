package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fairway-pms/fairway/jobs"
)

// Enqueuer submits no-show tasks.
type Enqueuer interface {
	EnqueueDailyCloseNoShow(ctx context.Context, payload jobs.DailyCloseNoShowPayload) (*asynq.TaskInfo, error)
}

// QueueReader reads queue state.
type QueueReader interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// JobsCLI wraps manual management helpers for the daily close jobs.
type JobsCLI struct {
	queue     Enqueuer
	inspector QueueReader
	clubID    int64
	now       func() time.Time
	loc       *time.Location
}

// NewJobsCLI binds the helpers to one club. Dates default to today in loc.
func NewJobsCLI(queue Enqueuer, inspector QueueReader, clubID int64, loc *time.Location) (*JobsCLI, error) {
	if queue == nil || inspector == nil {
		return nil, errors.New("jobs cli: queue and inspector are required")
	}
	if clubID <= 0 {
		return nil, errors.New("jobs cli: club id required")
	}
	if loc == nil {
		loc = time.UTC
	}
	return &JobsCLI{queue: queue, inspector: inspector, clubID: clubID, now: time.Now, loc: loc}, nil
}

// NoShowOptions defines flags for the noshow command.
type NoShowOptions struct {
	Date       string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// NoShowOutcome describes the JSON response of the noshow command.
type NoShowOutcome struct {
	Date      string `json:"date"`
	TaskID    string `json:"task_id,omitempty"`
	Queue     string `json:"queue"`
	Duplicate bool   `json:"duplicate"`
}

// NoShowCommand enqueues a no-show resolution for a business date.
func (c *JobsCLI) NoShowCommand(ctx context.Context, opts NoShowOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	date := strings.TrimSpace(opts.Date)
	if date == "" {
		date = c.now().In(c.loc).Format(time.DateOnly)
	}
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		_, _ = fmt.Fprintf(stderr, "noshow: invalid date %q (expected YYYY-MM-DD)\n", opts.Date)
		return 1
	}
	info, err := c.queue.EnqueueDailyCloseNoShow(ctx, jobs.DailyCloseNoShowPayload{ClubID: c.clubID, Date: date})
	outcome := NoShowOutcome{Date: date, Queue: jobs.QueueDefault}
	switch {
	case errors.Is(err, asynq.ErrDuplicateTask):
		outcome.Duplicate = true
	case err != nil:
		_, _ = fmt.Fprintf(stderr, "noshow: %v\n", err)
		return 1
	default:
		outcome.TaskID = info.ID
		outcome.Queue = info.Queue
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(stdout).Encode(outcome); err != nil {
			_, _ = fmt.Fprintf(stderr, "noshow: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	if outcome.Duplicate {
		_, _ = fmt.Fprintf(stdout, "no-show for %s already queued\n", date)
		return 0
	}
	_, _ = fmt.Fprintf(stdout, "queued no-show for %s as %s on %s\n", date, outcome.TaskID, outcome.Queue)
	return 0
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
}

// InspectQueue reports the metrics of the default queue.
func (c *JobsCLI) InspectQueue() (QueueStats, error) {
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Archived = info.Archived
	}
	return stats, nil
}

// QueueCommand prints the queue state.
func (c *JobsCLI) QueueCommand(jsonOutput bool, stdout, stderr io.Writer) int {
	stdout, stderr = writers(stdout, stderr)
	stats, err := c.InspectQueue()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "queue: %v\n", err)
		return 1
	}
	if jsonOutput {
		if err := json.NewEncoder(stdout).Encode(stats); err != nil {
			_, _ = fmt.Fprintf(stderr, "queue: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	_, _ = fmt.Fprintf(stdout, "%s: pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
		stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
	return 0
}

func writers(stdout, stderr io.Writer) (io.Writer, io.Writer) {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return stdout, stderr
}
