// sstrace-stop asks a running sstrace to stop by setting the termination
// flag of its run in Redis.
package main

import (
	"context"
	"flag"
	"time"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/rtx"
	"github.com/m-lab/go/warnonerror"

	"github.com/m-lab/sstrace/logging"
	"github.com/m-lab/sstrace/redis"
)

var (
	redisAddr = flag.String("redis.addr", "localhost:6379", "The Redis server watched by sstrace")
	runID     = flag.String("run-id", "", "The run to stop")
	reset     = flag.Bool("clear", false, "Reset the flag instead of setting it")
	timeout   = flag.Duration("timeout", 5*time.Second, "Maximum time to reach Redis")
)

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from env")
	if *runID == "" {
		logging.Logger.Fatal("-run-id is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	c := redis.NewClient(*redisAddr)
	defer warnonerror.Close(c, "Could not close Redis client")

	rtx.Must(apply(ctx, c, *runID, *reset), "Could not update termination flag")
}

type flagStore interface {
	SetTerminationFlag(ctx context.Context, runID string, flag int) error
	ClearTerminationFlag(ctx context.Context, runID string) error
}

// apply sets the termination flag of runID, or removes it when reset is true.
func apply(ctx context.Context, s flagStore, runID string, reset bool) error {
	if reset {
		if err := s.ClearTerminationFlag(ctx, runID); err != nil {
			return err
		}
		logging.Logger.WithField("run_id", runID).Info("termination flag cleared")
		return nil
	}
	if err := s.SetTerminationFlag(ctx, runID, 1); err != nil {
		return err
	}
	logging.Logger.WithField("run_id", runID).Info("termination flag set")
	return nil
}
