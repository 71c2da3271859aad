package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/leave-engine/batch"
	"github.com/warp/leave-engine/crm"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/leave/store"
	"github.com/warp/leave-engine/scenario"
)

var out io.Writer = os.Stdout

type tripleFlags struct {
	contract, period, absenceType *int64
}

func addTripleFlags(fs *flag.FlagSet) tripleFlags {
	return tripleFlags{
		contract:    fs.Int64("contract", 0, "job contract id"),
		period:      fs.Int64("period", 0, "absence period id"),
		absenceType: fs.Int64("type", 0, "absence type id"),
	}
}

func (t tripleFlags) key() leave.BalanceKey {
	return leave.BalanceKey{ContractID: *t.contract, PeriodID: *t.period, AbsenceTypeID: *t.absenceType}
}

// =============================================================================
// CALCULATE
// =============================================================================

func runCalculate(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("calculate", flag.ContinueOnError)
	triple := addTripleFlags(fs)
	save := fs.Bool("save", false, "save the result as the current balance")
	override := fs.String("override", "", "override the entitlement with this many days (implies -save)")
	comment := fs.String("comment", "", "comment stored on the balance")
	author := fs.Int64("author", 0, "contact id of the comment author")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key := triple.key()
	if err := key.Validate(); err != nil {
		return err
	}

	calc, err := a.calculation(ctx, key.ContractID, key.PeriodID, key.AbsenceTypeID)
	if err != nil {
		return err
	}
	if err := printCalculation(ctx, calc); err != nil {
		return err
	}

	in := leave.SaveInput{Calculation: calc, Comment: *comment, CommentAuthorID: *author}
	if *override != "" {
		v, err := decimal.NewFromString(*override)
		if err != nil {
			return fmt.Errorf("invalid -override %q: %w", *override, err)
		}
		in.Override = &v
		*save = true
	}
	if !*save {
		return nil
	}

	b, err := a.service.SaveFromCalculation(ctx, in)
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	printBalance(out, a.options, b)
	return nil
}

func printCalculation(ctx context.Context, calc *leave.Calculation) error {
	breakdown, err := calc.Breakdown(ctx)
	if err != nil {
		return err
	}
	overridden, err := calc.IsCurrentPeriodEntitlementOverridden(ctx)
	if err != nil {
		return err
	}
	prev, err := calc.PreviousPeriodProposedEntitlement(ctx)
	if err != nil {
		return err
	}
	taken, err := calc.NumberOfDaysTakenOnThePreviousPeriod(ctx)
	if err != nil {
		return err
	}
	remaining, err := calc.NumberOfDaysRemainingInThePreviousPeriod(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Contract\t%d\n", calc.Contract().ID)
	fmt.Fprintf(w, "Period\t%s (%s - %s)\n", calc.Period().Title, calc.Period().StartDate, calc.Period().EndDate)
	fmt.Fprintf(w, "Absence type\t%s\n", calc.AbsenceType().Title)
	fmt.Fprintf(w, "Calculation\t%s\n", breakdown)
	fmt.Fprintf(w, "Previous period entitlement\t%s\n", prev)
	fmt.Fprintf(w, "Previous period taken\t%s\n", taken)
	fmt.Fprintf(w, "Previous period remaining\t%s\n", remaining)
	if exp := calc.BroughtForwardExpirationDate(); exp != nil {
		fmt.Fprintf(w, "Brought forward expires\t%s\n", exp)
	}
	if overridden {
		comment, err := calc.CurrentPeriodEntitlementComment(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Overridden\tyes (%s)\n", comment)
	}
	return w.Flush()
}

// =============================================================================
// BALANCE
// =============================================================================

func runBalance(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("balance", flag.ContinueOnError)
	triple := addTripleFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	b, err := a.service.Balance(ctx, triple.key())
	if err != nil {
		return err
	}
	printBalance(out, a.options, b)
	return nil
}

func printBalance(w io.Writer, options *leave.OptionRegistry, b *leave.LeaveBalance) {
	fmt.Fprintf(w, "Balance %d (contract %d, period %d, absence type %d)\n",
		b.ID, b.Key.ContractID, b.Key.PeriodID, b.Key.AbsenceTypeID)
	fmt.Fprintf(w, "  entitlement: %s  balance: %s  requests: %s  overridden: %t\n",
		b.Entitlement(), b.Balance(), b.LeaveRequestBalance(), b.Overridden)
	if b.Comment != "" {
		fmt.Fprintf(w, "  comment: %q by %d on %s\n", b.Comment, b.CommentAuthorID, b.CommentDate)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  ID\tTYPE\tAMOUNT\tSOURCE\tSTATUS\tEXPIRES")
	for _, c := range b.Changes {
		typ := string(c.Type)
		if options != nil {
			typ = fmt.Sprintf("%s (%s)", c.Type, options.ChangeTypeValue(c.Type))
		}
		source, status, expires := "-", "-", "-"
		if c.SourceID != nil {
			source = fmt.Sprintf("%s:%d", c.SourceType, *c.SourceID)
			status = string(c.SourceStatus)
		}
		if c.ExpiryDate != nil {
			expires = c.ExpiryDate.String()
		}
		if c.ExpiredBalanceChangeID != nil {
			expires = fmt.Sprintf("expires #%d", *c.ExpiredBalanceChangeID)
		}
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\t%s\t%s\n", c.ID, typ, c.Amount, source, status, expires)
	}
	tw.Flush()
}

// =============================================================================
// RECALCULATE / EXPIRE / RUNS
// =============================================================================

func runRecalculate(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("recalculate", flag.ContinueOnError)
	period := fs.Int64("period", 0, "absence period id (defaults to the current period)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	id := *period
	if id == 0 {
		current, err := a.crm.CurrentPeriod(ctx, a.clock.Today())
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("%w: no absence period contains %s", leave.ErrNotFound, a.clock.Today())
		}
		id = current.ID
	}

	run, err := a.runner.RecalculatePeriod(ctx, id)
	if err != nil {
		return err
	}
	printRuns(out, []batch.Run{*run})
	if run.Status == batch.RunFailed {
		return errors.New(run.Error)
	}
	return nil
}

func runExpire(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("expire", flag.ContinueOnError)
	date := fs.String("date", "", "expire entries whose expiry date is on or before this date (default today)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	asOf := a.clock.Today()
	if *date != "" {
		d, err := leave.ParseDate(*date)
		if err != nil {
			return err
		}
		asOf = d
	}
	n, err := a.service.ExpireBroughtForward(ctx, asOf)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Expired %d brought forward entries as of %s\n", n, asOf)
	return nil
}

func runRuns(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	period := fs.Int64("period", 0, "only runs of this absence period")
	if err := fs.Parse(args); err != nil {
		return err
	}
	runs, err := a.runs.ListRuns(ctx, *period)
	if err != nil {
		return err
	}
	printRuns(out, runs)
	return nil
}

func printRuns(w io.Writer, runs []batch.Run) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tPERIOD\tSTATUS\tSAVED\tSKIPPED\tFAILED\tSTARTED\tERRORS")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%d\t%d\t%s\t%s\n",
			r.ID, r.PeriodID, r.Status, r.Saved, r.Skipped, r.Failed,
			r.StartedAt.Format(time.RFC3339), r.Error)
	}
	tw.Flush()
}

// =============================================================================
// WORKER
// =============================================================================

func runWorker(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	interval := fs.Duration("interval", a.cfg.Scheduler.Interval, "time between runs")
	if err := fs.Parse(args); err != nil {
		return err
	}

	scheduler := batch.NewScheduler(a.runner, a.service, a.clock, a.log)
	scheduler.Interval = *interval
	scheduler.Enabled = *a.cfg.Scheduler.Enabled
	if !scheduler.Enabled {
		a.log.Warn("Scheduler disabled by configuration, nothing to do")
		return nil
	}

	scheduler.Start()
	<-ctx.Done()
	a.log.Info("Shutting down worker...")
	scheduler.Stop()
	return nil
}

// =============================================================================
// DEMO
// =============================================================================

// runDemo loads a scenario into an in-memory CRM and ledger, recalculates
// every period in order and prints the balances of the scenario's period.
func runDemo(ctx context.Context, log logrus.FieldLogger, args []string) error {
	fs := flag.NewFlagSet("demo", flag.ContinueOnError)
	id := fs.String("scenario", "", "scenario id")
	list := fs.Bool("list", false, "list the scenarios")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *list || *id == "" {
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, s := range scenario.List() {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", s.ID, s.Name, s.Description)
		}
		return tw.Flush()
	}

	c, err := crm.Open("sqlite", ":memory:", log)
	if err != nil {
		return err
	}
	defer c.Close()

	s, loaded, err := scenario.Load(ctx, c, *id)
	if err != nil {
		return err
	}
	clock, err := s.Clock()
	if err != nil {
		return err
	}
	options, err := c.Options.Registry(ctx)
	if err != nil {
		return err
	}

	ledger := store.NewTxMemory()
	deps := c.Dependencies(ledger, clock)
	service := leave.NewService(ledger, clock, log)
	runner := batch.NewRunner(service, deps, c, batch.NewMemoryRunStore(), log)

	periods, err := c.Periods.List(ctx)
	if err != nil {
		return err
	}
	var runs []batch.Run
	for _, p := range periods {
		run, err := runner.RecalculatePeriod(ctx, p.ID)
		if err != nil {
			return err
		}
		runs = append(runs, *run)
	}
	fmt.Fprintf(out, "%s: %s (today is %s)\n\n", s.Name, s.Description, s.Today)
	printRuns(out, runs)

	target, err := c.Periods.Period(ctx, loaded.Periods[s.Period])
	if err != nil {
		return err
	}
	if target == nil {
		return fmt.Errorf("%w: period %q", leave.ErrNotFound, s.Period)
	}
	types, err := c.AbsenceTypes(ctx)
	if err != nil {
		return err
	}
	for _, contract := range loaded.Contracts {
		for _, t := range types {
			calc := leave.NewCalculation(deps, *target, contract, t)
			fmt.Fprintln(out)
			if err := printCalculation(ctx, calc); err != nil {
				return err
			}
			b, err := ledger.FindBalance(ctx, calc.Key())
			if err != nil {
				return err
			}
			if b != nil {
				printBalance(out, options, b)
			}
		}
	}
	return nil
}
