package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/hibiken/asynq"

	"github.com/fairway-pms/fairway/cmd/fairwayctl/cli"
	"github.com/fairway-pms/fairway/internal/app"
	"github.com/fairway-pms/fairway/jobs"
)

const usage = `usage: fairwayctl <command> [flags]

commands:
  noshow [-date YYYY-MM-DD] [-json]   queue no-show resolution for a business date
  queue [-json]                       show the job queue state
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(os.Stderr, usage)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		return 1
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	client, err := jobs.NewClient(redisOpts)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "init job client: %v\n", err)
		return 1
	}
	defer client.Close()
	inspector := asynq.NewInspector(redisOpts)
	defer inspector.Close()

	ops, err := cli.NewJobsCLI(client, inspector, cfg.ClubID, cfg.Location())
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		return 1
	}

	switch args[0] {
	case "noshow":
		fs := flag.NewFlagSet("noshow", flag.ContinueOnError)
		date := fs.String("date", "", "business date, defaults to today in the club time zone")
		asJSON := fs.Bool("json", false, "print JSON")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		return ops.NoShowCommand(ctx, cli.NoShowOptions{Date: *date, JSONOutput: *asJSON})
	case "queue":
		fs := flag.NewFlagSet("queue", flag.ContinueOnError)
		asJSON := fs.Bool("json", false, "print JSON")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		return ops.QueueCommand(*asJSON, nil, nil)
	default:
		_, _ = fmt.Fprint(os.Stderr, usage)
		return 2
	}
}
