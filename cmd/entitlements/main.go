/*
main.go - Command line entry point

PURPOSE:
  Runs entitlement calculations, period recalculations, brought-forward
  expiry and the background worker against the configured CRM and ledger.

STARTUP SEQUENCE:
  1. Parse global flags and load config (YAML, .env, LEAVE_* variables)
  2. Open the CRM and validate its option values
  3. Open the ledger store (memory, sqlite or postgres)
  4. Run the subcommand

COMMANDS:
  calculate    -contract -period -type [-save -override N -comment -author]
  balance      -contract -period -type
  recalculate  -period
  expire       [-date YYYY-MM-DD]
  runs         [-period]
  demo         -scenario ID | -list
  worker       recalculate the current period and expire on an interval

GLOBAL FLAGS:
  -config   YAML config file (optional)
  -today    Fix today's date (YYYY-MM-DD), defaults to the system clock

GRACEFUL SHUTDOWN:
  SIGINT/SIGTERM cancel the running command. The worker stops its
  scheduler, waits for the current tick and closes the stores.

EXAMPLES:
  entitlements -config leave.yaml calculate -contract 10 -period 2 -type 1
  entitlements recalculate -period 2
  LEAVE_DB_DRIVER=memory entitlements demo -scenario carry-forward

SEE ALSO:
  - app.go: wiring
  - commands.go: subcommands
  - config/: configuration
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/leave"
)

type command func(ctx context.Context, app *app, args []string) error

var commands = map[string]command{
	"calculate":   runCalculate,
	"balance":     runBalance,
	"recalculate": runRecalculate,
	"expire":      runExpire,
	"runs":        runRuns,
	"worker":      runWorker,
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	global := flag.NewFlagSet("entitlements", flag.ContinueOnError)
	configPath := global.String("config", "", "YAML config file")
	today := global.String("today", "", "fix today's date (YYYY-MM-DD)")
	global.Usage = usage(global)
	if err := global.Parse(args); err != nil {
		return 2
	}
	if global.NArg() == 0 {
		global.Usage()
		return 2
	}
	name, rest := global.Arg(0), global.Args()[1:]

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Error("Failed to load config")
		return 1
	}
	log := cfg.Log.NewLogger()

	clock := leave.SystemClock()
	if *today != "" {
		d, err := leave.ParseDate(*today)
		if err != nil {
			log.WithError(err).Error("Invalid -today")
			return 2
		}
		clock = leave.FixedClock(d)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if name == "demo" {
		err = runDemo(ctx, log, rest)
	} else {
		cmd, ok := commands[name]
		if !ok {
			fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
			global.Usage()
			return 2
		}
		err = withApp(ctx, cfg, clock, log, func(a *app) error {
			return cmd(ctx, a, rest)
		})
	}
	if err != nil {
		log.WithError(err).Errorf("%s failed", name)
		return 1
	}
	return 0
}

func usage(fs *flag.FlagSet) func() {
	return func() {
		fmt.Fprintf(os.Stderr, `Usage: entitlements [flags] <command> [command flags]

Commands:
  calculate     show (and optionally save) the entitlement of one contract
  balance       show a stored balance and its ledger
  recalculate   rebuild every balance of a period
  expire        expire brought forward days
  runs          list recalculation runs
  demo          run a built-in scenario in memory
  worker        run the scheduler until interrupted

Flags:
`)
		fs.PrintDefaults()
	}
}
