/*
Package scenario provides demo datasets for trying out the engine.

PURPOSE:
  Each scenario is a JSON dataset (see factory/) with a "today" date and
  the period to recalculate. Loading one fills an empty CRM with periods,
  absence types, 2016 UK bank holidays and a handful of contracts.

AVAILABLE SCENARIOS:
  new-employee:   Contract starting in March, 28 days pro-rated
  bank-holidays:  Full-year contract with public holidays added
  carry-forward:  Two periods, days brought forward and expiring
  leaver:         Contract ending mid-year

NOTE:
  Scenarios expect an empty CRM. Only use in development/demo environments.

SEE ALSO:
  - factory/dataset.go: the JSON schema
  - cmd/entitlements: the demo subcommand
*/
package scenario

import (
	"context"
	"fmt"
	"sort"

	"github.com/warp/leave-engine/crm"
	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/leave"
)

// Scenario is a named demo dataset.
type Scenario struct {
	ID          string
	Name        string
	Description string
	Today       string // date the demo clock is fixed to
	Period      string // title of the period to recalculate
	Dataset     string
}

const ukBankHolidays2016 = `[
    {"title": "New Year's Day", "date": "2016-01-01"},
    {"title": "Good Friday", "date": "2016-03-25"},
    {"title": "Easter Monday", "date": "2016-03-28"},
    {"title": "Early May bank holiday", "date": "2016-05-02"},
    {"title": "Spring bank holiday", "date": "2016-05-30"},
    {"title": "Summer bank holiday", "date": "2016-08-29"},
    {"title": "Boxing Day", "date": "2016-12-26"},
    {"title": "Christmas Day (substitute day)", "date": "2016-12-27"}
  ]`

const period2016 = `{"title": "2016", "start_date": "2016-01-01", "end_date": "2016-12-31"}`

var scenarios = []Scenario{
	{
		ID:          "new-employee",
		Name:        "New Employee",
		Description: "Contract starting 1 March 2016 with 28 days of annual leave",
		Today:       "2016-03-01",
		Period:      "2016",
		Dataset: fmt.Sprintf(`{
  "periods": [%s],
  "absence_types": [{"title": "Annual Leave"}],
  "public_holidays": %s,
  "contracts": [
    {"contact_id": 1, "start_date": "2016-03-01", "leave": [{"absence_type": "Annual Leave", "amount": 28}]}
  ]
}`, period2016, ukBankHolidays2016),
	},
	{
		ID:          "bank-holidays",
		Name:        "Bank Holidays",
		Description: "Full-year contract whose entitlement includes the 8 bank holidays",
		Today:       "2016-01-04",
		Period:      "2016",
		Dataset: fmt.Sprintf(`{
  "periods": [%s],
  "absence_types": [{"title": "Annual Leave"}],
  "public_holidays": %s,
  "contracts": [
    {"contact_id": 2, "start_date": "2015-09-01", "leave": [{"absence_type": "Annual Leave", "amount": 20, "add_public_holidays": true}]}
  ]
}`, period2016, ukBankHolidays2016),
	},
	{
		ID:          "carry-forward",
		Name:        "Carry Forward",
		Description: "Unused 2015 days brought into 2016, capped at 5 and expiring on 31 March",
		Today:       "2016-02-01",
		Period:      "2016",
		Dataset: fmt.Sprintf(`{
  "periods": [
    {"title": "2015", "start_date": "2015-01-01", "end_date": "2015-12-31"},
    %s
  ],
  "absence_types": [
    {
      "title": "Annual Leave",
      "allow_carry_forward": true,
      "max_carry_forward": 5,
      "expiry": {"rule": "fixed_date", "month": 3, "day": 31}
    },
    {"title": "Sick"}
  ],
  "public_holidays": %s,
  "contracts": [
    {
      "contact_id": 3,
      "start_date": "2014-01-01",
      "leave": [
        {"absence_type": "Annual Leave", "amount": 25},
        {"absence_type": "Sick", "amount": 10}
      ]
    }
  ]
}`, period2016, ukBankHolidays2016),
	},
	{
		ID:          "leaver",
		Name:        "Leaver",
		Description: "Contract ending 30 June 2016, entitlement pro-rated to the leaving date",
		Today:       "2016-06-01",
		Period:      "2016",
		Dataset: fmt.Sprintf(`{
  "periods": [%s],
  "absence_types": [{"title": "Annual Leave"}],
  "public_holidays": %s,
  "contracts": [
    {"contact_id": 4, "start_date": "2012-04-01", "end_date": "2016-06-30", "leave": [{"absence_type": "Annual Leave", "amount": 28}]}
  ]
}`, period2016, ukBankHolidays2016),
	},
}

// List returns the available scenarios sorted by id.
func List() []Scenario {
	out := make([]Scenario, len(scenarios))
	copy(out, scenarios)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns the scenario with the given id.
func Get(id string) (Scenario, error) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, nil
		}
	}
	return Scenario{}, fmt.Errorf("%w: scenario %q", leave.ErrNotFound, id)
}

// Clock returns a clock fixed to the scenario's today.
func (s Scenario) Clock() (leave.Clock, error) {
	today, err := leave.ParseDate(s.Today)
	if err != nil {
		return nil, err
	}
	return leave.FixedClock(today), nil
}

// Load parses the scenario's dataset and writes it into c.
func Load(ctx context.Context, c *crm.CRM, id string) (Scenario, *factory.Loaded, error) {
	s, err := Get(id)
	if err != nil {
		return s, nil, err
	}
	f := factory.NewDatasetFactory()
	ds, err := f.ParseDataset(s.Dataset)
	if err != nil {
		return s, nil, fmt.Errorf("scenario %s: %w", id, err)
	}
	loaded, err := f.Load(ctx, c, ds)
	if err != nil {
		return s, nil, fmt.Errorf("scenario %s: %w", id, err)
	}
	return s, loaded, nil
}
