/*
Package crm reads the reference data the leave engine calculates against.

PURPOSE:
  Absence periods, absence types, public holidays, job contracts, job leave
  and option values belong to the surrounding CRM. This package maps them
  with GORM and exposes them through the provider interfaces of the leave
  package and the Directory of the batch package.

DRIVERS:
  "sqlite" (default) or "postgres". Tables are created with AutoMigrate;
  the engine never writes reference data outside of seeding and imports.

SEE ALSO:
  - leave/providers.go: the interfaces implemented here
  - factory/: JSON datasets loaded through the repositories
*/
package crm

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/leave-engine/batch"
	"github.com/warp/leave-engine/leave"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var _ batch.Directory = (*CRM)(nil)

// CRM bundles the repositories over one database.
type CRM struct {
	DB        *gorm.DB
	Periods   *PeriodRepository
	Holidays  *HolidayRepository
	Contracts *ContractRepository
	Types     *AbsenceTypeRepository
	Options   *OptionRepository
}

// Open connects to the CRM database and migrates its tables. A nil logger
// means the logrus standard logger.
func Open(driver, dsn string, log logrus.FieldLogger) (*CRM, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	var dialector gorm.Dialector
	switch driver {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("crm: unsupported driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger: logger.New(log, logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("crm: connect: %w", err)
	}

	// Each connection to :memory: opens its own empty database.
	if dsn == ":memory:" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return New(db)
}

// New migrates the CRM tables on db and builds the repositories.
func New(db *gorm.DB) (*CRM, error) {
	if err := db.AutoMigrate(allModels()...); err != nil {
		return nil, fmt.Errorf("crm: migrate: %w", err)
	}
	holidays := NewHolidayRepository(db)
	return &CRM{
		DB:        db,
		Periods:   NewPeriodRepository(db, holidays),
		Holidays:  holidays,
		Contracts: NewContractRepository(db),
		Types:     NewAbsenceTypeRepository(db),
		Options:   NewOptionRepository(db),
	}, nil
}

// Close releases the underlying connection pool.
func (c *CRM) Close() error {
	sqlDB, err := c.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Dependencies wires the repositories into a calculation's dependencies.
func (c *CRM) Dependencies(balances leave.BalanceReader, clock leave.Clock) leave.Dependencies {
	return leave.Dependencies{
		Periods:   c.Periods,
		Holidays:  c.Holidays,
		JobLeaves: c.Contracts,
		Contracts: c.Contracts,
		Balances:  balances,
		Clock:     clock,
	}
}

// =============================================================================
// DIRECTORY - What a period-wide run iterates over
// =============================================================================

func (c *CRM) Period(ctx context.Context, id int64) (*leave.AbsencePeriod, error) {
	return c.Periods.Period(ctx, id)
}

func (c *CRM) CurrentPeriod(ctx context.Context, on leave.Date) (*leave.AbsencePeriod, error) {
	return c.Periods.CurrentPeriod(ctx, on)
}

func (c *CRM) ContractsInPeriod(ctx context.Context, p leave.AbsencePeriod) ([]leave.Contract, error) {
	return c.Contracts.InPeriod(ctx, p)
}

func (c *CRM) AbsenceTypes(ctx context.Context) ([]leave.AbsenceType, error) {
	return c.Types.Active(ctx)
}
