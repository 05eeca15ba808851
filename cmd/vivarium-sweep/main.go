// Command vivarium-sweep purges trashed records whose retention window has
// elapsed. It is meant to be run from cron or a scheduled job.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"vivarium/internal/app"
	"vivarium/internal/config"
	"vivarium/internal/core"
)

var exitFunc = os.Exit

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	exitFunc(code)
}

func cli(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("vivarium-sweep", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var actor string
	fs.StringVar(&actor, "actor", core.SystemActorID, "actor id recorded on audit rows")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	a, err := app.New(ctx, cfg, "vivarium-sweep")
	if err != nil {
		fmt.Fprintf(stderr, "startup: %v\n", err)
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(stderr, "shutdown: %v\n", err)
		}
	}()

	report, err := a.Service.Sweep(ctx, actor)
	if err != nil {
		a.Logger.Error("sweep failed", zap.Error(err))
		return 1
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		fmt.Fprintf(stderr, "write report: %v\n", err)
		return 1
	}
	return 0
}
