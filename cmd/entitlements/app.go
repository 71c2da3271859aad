package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/warp/leave-engine/batch"
	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/crm"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/leave/store"
	"github.com/warp/leave-engine/store/postgres"
	"github.com/warp/leave-engine/store/sqlite"
)

// app holds everything a command needs.
type app struct {
	cfg     *config.Config
	log     logrus.FieldLogger
	clock   leave.Clock
	crm     *crm.CRM
	ledger  leave.TxStore
	runs    batch.RunStore
	options *leave.OptionRegistry
	service *leave.Service
	runner  *batch.Runner
	closers []func() error
}

func withApp(ctx context.Context, cfg *config.Config, clock leave.Clock, log logrus.FieldLogger, fn func(*app) error) (err error) {
	a, err := newApp(ctx, cfg, clock, log)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.close())
	}()
	return fn(a)
}

func newApp(ctx context.Context, cfg *config.Config, clock leave.Clock, log logrus.FieldLogger) (*app, error) {
	a := &app{cfg: cfg, log: log, clock: clock}

	c, err := crm.Open(cfg.CRM.Driver, cfg.CRM.DSN, log)
	if err != nil {
		return nil, err
	}
	a.crm = c
	a.closers = append(a.closers, c.Close)

	if err := c.Options.Seed(ctx, leave.DefaultOptionValues()); err != nil {
		return nil, errors.Join(fmt.Errorf("seed option values: %w", err), a.close())
	}
	if a.options, err = c.Options.Registry(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("validate option values: %w", err), a.close())
	}

	if err := a.openLedger(ctx); err != nil {
		return nil, errors.Join(err, a.close())
	}

	a.service = leave.NewService(a.ledger, clock, log)
	a.runner = batch.NewRunner(a.service, c.Dependencies(a.ledger, clock), c, a.runs, log)

	log.WithFields(logrus.Fields{
		"crm_driver":    cfg.CRM.Driver,
		"ledger_driver": cfg.Ledger.Driver,
	}).Debug("Engine ready")
	return a, nil
}

func (a *app) openLedger(ctx context.Context) error {
	switch a.cfg.Ledger.Driver {
	case "memory":
		a.ledger = store.NewTxMemory()
		a.runs = batch.NewMemoryRunStore()
	case "sqlite":
		st, err := sqlite.New(a.cfg.Ledger.DSN)
		if err != nil {
			return err
		}
		a.ledger, a.runs = st, st
		a.closers = append(a.closers, st.Close)
	case "postgres":
		pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
			DSN:             a.cfg.Ledger.DSN,
			MaxConns:        a.cfg.Ledger.MaxConns,
			MinConns:        a.cfg.Ledger.MinConns,
			ConnMaxLifetime: a.cfg.Ledger.ConnMaxLifetime,
			ConnMaxIdleTime: a.cfg.Ledger.ConnMaxIdleTime,
		})
		if err != nil {
			return err
		}
		st := postgres.NewStore(pool)
		a.ledger, a.runs = st, st
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
	default:
		return fmt.Errorf("unsupported ledger driver %q", a.cfg.Ledger.Driver)
	}
	return nil
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// calculation resolves the reference data of a triple.
func (a *app) calculation(ctx context.Context, contractID, periodID, typeID int64) (*leave.Calculation, error) {
	period, err := a.crm.Periods.Period(ctx, periodID)
	if err != nil {
		return nil, err
	}
	if period == nil {
		return nil, fmt.Errorf("%w: absence period %d", leave.ErrNotFound, periodID)
	}
	absenceType, err := a.crm.Types.Get(ctx, typeID)
	if err != nil {
		return nil, err
	}
	if absenceType == nil {
		return nil, fmt.Errorf("%w: absence type %d", leave.ErrNotFound, typeID)
	}
	details, err := a.crm.Contracts.ContractDetails(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if details == nil {
		return nil, fmt.Errorf("%w: contract %d", leave.ErrNotFound, contractID)
	}
	deps := a.crm.Dependencies(a.ledger, a.clock)
	return leave.NewCalculation(deps, *period, leave.Contract{ID: contractID}, *absenceType), nil
}
