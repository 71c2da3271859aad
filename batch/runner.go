/*
Package batch recalculates entitlements for a whole absence period.

PURPOSE:
  When a period opens, or when contracts or absence types change, every
  (contract, absence type) pair active in the period needs its balance
  rebuilt. The Runner does that one triple at a time and records the run.

FAILURE HANDLING:
  A failing triple never stops the run. Its error is logged with the
  triple's ids, counted, and the runner moves on to the next one. The run
  ends as completed, completed_with_errors or failed (nothing saved).

OVERRIDES:
  Balances with an overridden entitlement were set by a person. The runner
  leaves them alone and counts them as skipped.

SEE ALSO:
  - scheduler.go: runs the Runner periodically
  - leave/service.go: the save itself
*/
package batch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/warp/leave-engine/leave"
)

// maxRecordedErrors bounds the error summary stored on a run.
const maxRecordedErrors = 5

// Directory lists what a period-wide run iterates over.
type Directory interface {
	Period(ctx context.Context, id int64) (*leave.AbsencePeriod, error)
	CurrentPeriod(ctx context.Context, on leave.Date) (*leave.AbsencePeriod, error)
	ContractsInPeriod(ctx context.Context, p leave.AbsencePeriod) ([]leave.Contract, error)
	AbsenceTypes(ctx context.Context) ([]leave.AbsenceType, error)
}

// Runner recalculates every triple of a period.
type Runner struct {
	Service   *leave.Service
	Deps      leave.Dependencies
	Directory Directory
	Runs      RunStore
	Log       logrus.FieldLogger

	now func() time.Time
}

// NewRunner creates a runner. A nil logger means the logrus standard logger.
func NewRunner(service *leave.Service, deps leave.Dependencies, dir Directory, runs RunStore, log logrus.FieldLogger) *Runner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Runner{
		Service:   service,
		Deps:      deps,
		Directory: dir,
		Runs:      runs,
		Log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RecalculatePeriod rebuilds every non-overridden balance of the period.
// The returned error covers setup failures only; per-triple failures are
// reported through the Run.
func (r *Runner) RecalculatePeriod(ctx context.Context, periodID int64) (*Run, error) {
	period, err := r.Directory.Period(ctx, periodID)
	if err != nil {
		return nil, fmt.Errorf("load period %d: %w", periodID, err)
	}
	if period == nil {
		return nil, fmt.Errorf("%w: absence period %d", leave.ErrNotFound, periodID)
	}

	contracts, err := r.Directory.ContractsInPeriod(ctx, *period)
	if err != nil {
		return nil, fmt.Errorf("list contracts: %w", err)
	}
	types, err := r.Directory.AbsenceTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list absence types: %w", err)
	}

	run := Run{ID: uuid.NewString(), PeriodID: period.ID, Status: RunRunning, StartedAt: r.now()}
	if err := r.Runs.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("record run: %w", err)
	}
	log := r.Log.WithFields(logrus.Fields{"run_id": run.ID, "period_id": period.ID})
	log.WithFields(logrus.Fields{
		"contracts":     len(contracts),
		"absence_types": len(types),
	}).Info("Recalculation started")

	var failures []string
	for _, c := range contracts {
		for _, t := range types {
			if err := ctx.Err(); err != nil {
				failures = append(failures, err.Error())
				run.Failed++
				return r.finish(ctx, log, run, failures)
			}
			err := r.recalculate(ctx, *period, c, t, &run)
			if err == nil {
				continue
			}
			run.Failed++
			failures = append(failures, err.Error())
			log.WithFields(logrus.Fields{
				"contract_id":     c.ID,
				"absence_type_id": t.ID,
			}).WithError(err).Error("Failed to recalculate balance")
		}
	}
	return r.finish(ctx, log, run, failures)
}

func (r *Runner) recalculate(ctx context.Context, period leave.AbsencePeriod, c leave.Contract, t leave.AbsenceType, run *Run) error {
	calc := leave.NewCalculation(r.Deps, period, c, t)
	overridden, err := calc.IsCurrentPeriodEntitlementOverridden(ctx)
	if err != nil {
		return err
	}
	if overridden {
		run.Skipped++
		return nil
	}
	if _, err := r.Service.SaveFromCalculation(ctx, leave.SaveInput{Calculation: calc}); err != nil {
		return err
	}
	run.Saved++
	return nil
}

func (r *Runner) finish(ctx context.Context, log logrus.FieldLogger, run Run, failures []string) (*Run, error) {
	completed := r.now()
	run.CompletedAt = &completed
	switch {
	case run.Failed == 0:
		run.Status = RunCompleted
	case run.Saved > 0 || run.Skipped > 0:
		run.Status = RunPartial
	default:
		run.Status = RunFailed
	}
	if len(failures) > maxRecordedErrors {
		failures = append(failures[:maxRecordedErrors], fmt.Sprintf("and %d more", len(failures)-maxRecordedErrors))
	}
	run.Error = strings.Join(failures, "; ")

	// The run outcome is recorded even when the caller's context is done.
	saveCtx := ctx
	if ctx.Err() != nil {
		saveCtx = context.WithoutCancel(ctx)
	}
	if err := r.Runs.SaveRun(saveCtx, run); err != nil {
		return &run, fmt.Errorf("record run: %w", err)
	}

	log.WithFields(logrus.Fields{
		"status":  run.Status,
		"saved":   run.Saved,
		"skipped": run.Skipped,
		"failed":  run.Failed,
	}).Info("Recalculation finished")
	return &run, nil
}
