// Command migrate applies the postgres ledger schema.
//
//	migrate [-config leave.yaml] [-dsn postgres://...] [up|down|drop|version]
package main

import (
	"flag"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/store/postgres"
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML config file")
		dsn        = flag.String("dsn", "", "postgres DSN (defaults to ledger.dsn)")
	)
	flag.Parse()

	action := "up"
	if flag.NArg() > 0 {
		action = flag.Arg(0)
	}

	target := *dsn
	if target == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to load config")
		}
		if cfg.Ledger.Driver != "postgres" {
			logrus.Fatalf("ledger driver is %q, migrations only apply to postgres", cfg.Ledger.Driver)
		}
		target = cfg.Ledger.DSN
	}

	log := logrus.WithField("action", action)
	version, err := postgres.Migrate(target, action)
	if err != nil {
		log.WithError(err).Error("Migration failed")
		os.Exit(1)
	}
	switch {
	case version == nil:
		log.Info("Migration completed")
	case version.None:
		log.Info("No migration applied")
	default:
		log.WithFields(logrus.Fields{"version": version.Version, "dirty": version.Dirty}).Info("Schema version")
	}
}
