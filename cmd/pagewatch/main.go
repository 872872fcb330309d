// Command pagewatch opens one page in Chrome, records its network traffic
// for a fixed window and writes screenshots plus the recorded events.
//
// Usage: go run ./cmd/pagewatch [-variant filtered|unfiltered] [-duration 10s] [-serve 127.0.0.1:8080]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/raysh454/pagewatch/internal/artifacts"
	"github.com/raysh454/pagewatch/internal/browser"
	"github.com/raysh454/pagewatch/internal/cli"
	"github.com/raysh454/pagewatch/internal/logging"
	"github.com/raysh454/pagewatch/internal/server"
	"github.com/raysh454/pagewatch/internal/session"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	parsed, err := cli.ParseArgs(args)
	if errors.Is(err, flag.ErrHelp) {
		fmt.Fprintln(os.Stderr, "usage: pagewatch [-variant filtered|unfiltered] [-config file.yaml] [-target url] [-duration 10s] [-filter a,b] [-headless=bool] [-serve addr] [-log-level info] [-chrome path]")
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "pagewatch: %v\n", err)
		return 2
	}
	cfg, err := parsed.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pagewatch: %v\n", err)
		return 2
	}

	logger, err := logging.New(cfg.Log, "pagewatch")
	if err != nil {
		fmt.Fprintf(os.Stderr, "pagewatch: %v\n", err)
		return 2
	}
	defer logger.Close()

	store, err := artifacts.NewStore(cfg.ScreenshotDir, cfg.Naming)
	if err != nil {
		logger.Error("preparing screenshot directory", logging.F("error", err))
		return 1
	}
	launcher := browser.NewChromeLauncher(browser.ChromeOptions{
		Headless:  cfg.Headless,
		ExecPath:  cfg.ChromePath,
		IdleAfter: cfg.IdleAfter,
	}, logger)
	sess := session.New(cfg, launcher, store, logger)

	logger.Info("starting run",
		logging.F("variant", string(cfg.Variant)),
		logging.F("target", cfg.TargetURL),
		logging.F("duration", cfg.MonitorDuration.String()),
		logging.F("filter", cfg.Filter))

	// the monitoring window always runs to completion
	ctx := context.Background()

	var (
		res    *session.Result
		runErr error
	)
	if cfg.ServeAddr == "" {
		res, runErr = sess.Run(ctx)
	} else {
		srv := server.NewServer(server.Config{ListenAddr: cfg.ServeAddr, Logger: logger}, sess)
		g, gctx := errgroup.WithContext(ctx)
		serveCtx, stopServe := context.WithCancel(gctx)
		g.Go(func() error {
			defer stopServe()
			res, runErr = sess.Run(ctx)
			return nil
		})
		g.Go(func() error {
			return srv.Run(serveCtx)
		})
		if err := g.Wait(); err != nil {
			logger.Error("live view failed", logging.F("error", err))
		}
	}

	if runErr != nil {
		logger.Error("run failed", logging.F("error", runErr))
	}
	if res != nil {
		logger.Info("run summary",
			logging.F("run_id", res.RunID),
			logging.F("state", res.State.String()),
			logging.F("events", res.EventCount),
			logging.F("screenshots", res.Screenshots),
			logging.F("events_file", res.EventsFile))
	}
	return session.ExitCode(runErr)
}
