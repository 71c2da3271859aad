/*
Package factory provides JSON to Go reference data conversion.

PURPOSE:
  Converts JSON dataset documents into the leave package's reference types
  and loads them into the CRM. Periods, absence types, public holidays,
  contracts and their job leave can be set up without code changes.

JSON SCHEMA:
  {
    "periods": [
      {"title": "2016", "start_date": "2016-01-01", "end_date": "2016-12-31"}
    ],
    "absence_types": [
      {
        "title": "Annual Leave",
        "allow_carry_forward": true,
        "max_carry_forward": 5,
        "expiry": {"rule": "duration", "duration": 3, "unit": "month"}
      }
    ],
    "public_holidays": [{"title": "Boxing Day", "date": "2016-12-26"}],
    "contracts": [
      {
        "contact_id": 1,
        "start_date": "2016-03-01",
        "leave": [{"absence_type": "Annual Leave", "amount": 28, "add_public_holidays": true}]
      }
    ],
    "options": [{"group": "...", "name": "approved", "value": "1"}]
  }

DEFAULTS:
  - Period weights follow document order when omitted
  - Expiry rule is "never" when omitted
  - Options default to leave.DefaultOptionValues()

SEE ALSO:
  - crm/: where the data is stored
  - scenario/: built-in datasets
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/crm"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// DatasetJSON is the JSON representation of a reference dataset.
type DatasetJSON struct {
	Periods        []PeriodJSON      `json:"periods"`
	AbsenceTypes   []AbsenceTypeJSON `json:"absence_types"`
	PublicHolidays []HolidayJSON     `json:"public_holidays,omitempty"`
	Contracts      []ContractJSON    `json:"contracts,omitempty"`
	Options        []OptionJSON      `json:"options,omitempty"`
}

type PeriodJSON struct {
	Title     string `json:"title"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Weight    int    `json:"weight,omitempty"`
}

type AbsenceTypeJSON struct {
	Title             string              `json:"title"`
	AllowCarryForward bool                `json:"allow_carry_forward,omitempty"`
	MaxCarryForward   decimal.NullDecimal `json:"max_carry_forward"`
	Expiry            *ExpiryJSON         `json:"expiry,omitempty"`
}

// ExpiryJSON represents the carry forward expiry rule.
type ExpiryJSON struct {
	Rule     string `json:"rule"` // never, fixed_date, duration
	Month    int    `json:"month,omitempty"`
	Day      int    `json:"day,omitempty"`
	Duration int    `json:"duration,omitempty"`
	Unit     string `json:"unit,omitempty"` // day, month, year
}

type HolidayJSON struct {
	Title string `json:"title"`
	Date  string `json:"date"`
}

type ContractJSON struct {
	ContactID int64          `json:"contact_id"`
	StartDate string         `json:"start_date"`
	EndDate   string         `json:"end_date,omitempty"` // empty = open-ended
	Leave     []JobLeaveJSON `json:"leave,omitempty"`
}

// JobLeaveJSON references its absence type by title.
type JobLeaveJSON struct {
	AbsenceType       string          `json:"absence_type"`
	Amount            decimal.Decimal `json:"amount"`
	AddPublicHolidays bool            `json:"add_public_holidays,omitempty"`
}

type OptionJSON struct {
	Group string `json:"group"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

// =============================================================================
// DATASET
// =============================================================================

// Dataset is a parsed, validated dataset ready to load.
type Dataset struct {
	Periods        []leave.AbsencePeriod
	AbsenceTypes   []leave.AbsenceType
	PublicHolidays []leave.PublicHoliday
	Contracts      []ContractData
	Options        []leave.OptionValue
}

// ContractData is a contract with its dates and job leave. JobLeave entries
// carry no ids yet; LeaveTypes holds the absence type title of each one.
type ContractData struct {
	Contract   leave.Contract
	Details    leave.ContractDetails
	JobLeave   []leave.JobLeave
	LeaveTypes []string
}

// Loaded maps the titles of a loaded dataset to the ids the CRM assigned.
type Loaded struct {
	Periods      map[string]int64
	AbsenceTypes map[string]int64
	Contracts    []leave.Contract
}

// =============================================================================
// DATASET FACTORY
// =============================================================================

// DatasetFactory converts JSON datasets to reference data.
type DatasetFactory struct{}

// NewDatasetFactory creates a new dataset factory.
func NewDatasetFactory() *DatasetFactory {
	return &DatasetFactory{}
}

// ParseDataset parses a JSON string into a Dataset.
func (f *DatasetFactory) ParseDataset(jsonStr string) (*Dataset, error) {
	var dj DatasetJSON
	if err := json.Unmarshal([]byte(jsonStr), &dj); err != nil {
		return nil, fmt.Errorf("failed to parse dataset JSON: %w", err)
	}
	return f.FromJSON(dj)
}

// FromJSON validates dj and converts it to a Dataset.
func (f *DatasetFactory) FromJSON(dj DatasetJSON) (*Dataset, error) {
	ds := &Dataset{}

	for i, pj := range dj.Periods {
		p, err := parsePeriod(pj, i)
		if err != nil {
			return nil, err
		}
		ds.Periods = append(ds.Periods, p)
	}

	types := make(map[string]bool, len(dj.AbsenceTypes))
	for _, tj := range dj.AbsenceTypes {
		t, err := parseAbsenceType(tj)
		if err != nil {
			return nil, err
		}
		if types[t.Title] {
			return nil, fmt.Errorf("duplicate absence type %q: %w", t.Title, leave.ErrInvalidInput)
		}
		types[t.Title] = true
		ds.AbsenceTypes = append(ds.AbsenceTypes, t)
	}

	for _, hj := range dj.PublicHolidays {
		d, err := leave.ParseDate(hj.Date)
		if err != nil {
			return nil, fmt.Errorf("public holiday %q: %w", hj.Title, err)
		}
		ds.PublicHolidays = append(ds.PublicHolidays, leave.PublicHoliday{Title: hj.Title, Date: d})
	}

	for i, cj := range dj.Contracts {
		c, err := parseContract(cj, types)
		if err != nil {
			return nil, fmt.Errorf("contract %d: %w", i, err)
		}
		ds.Contracts = append(ds.Contracts, c)
	}

	if len(dj.Options) == 0 {
		ds.Options = leave.DefaultOptionValues()
	} else {
		for _, oj := range dj.Options {
			ds.Options = append(ds.Options, leave.OptionValue{Group: oj.Group, Name: oj.Name, Value: oj.Value})
		}
	}
	if _, err := leave.NewOptionRegistry(ds.Options); err != nil {
		return nil, err
	}
	return ds, nil
}

// Load writes ds into the CRM and returns the ids it was given.
func (f *DatasetFactory) Load(ctx context.Context, c *crm.CRM, ds *Dataset) (*Loaded, error) {
	loaded := &Loaded{
		Periods:      make(map[string]int64, len(ds.Periods)),
		AbsenceTypes: make(map[string]int64, len(ds.AbsenceTypes)),
	}

	if err := c.Options.Seed(ctx, ds.Options); err != nil {
		return nil, fmt.Errorf("seed options: %w", err)
	}
	for _, p := range ds.Periods {
		if err := c.Periods.Create(ctx, &p); err != nil {
			return nil, fmt.Errorf("create period %q: %w", p.Title, err)
		}
		loaded.Periods[p.Title] = p.ID
	}
	for _, t := range ds.AbsenceTypes {
		if err := c.Types.Create(ctx, &t); err != nil {
			return nil, fmt.Errorf("create absence type %q: %w", t.Title, err)
		}
		loaded.AbsenceTypes[t.Title] = t.ID
	}
	if err := c.Holidays.BulkCreate(ctx, ds.PublicHolidays); err != nil {
		return nil, fmt.Errorf("create public holidays: %w", err)
	}

	for _, cd := range ds.Contracts {
		contract := cd.Contract
		if err := c.Contracts.Create(ctx, &contract, cd.Details); err != nil {
			return nil, fmt.Errorf("create contract for contact %d: %w", contract.ContactID, err)
		}
		for i, jl := range cd.JobLeave {
			jl.ContractID = contract.ID
			jl.AbsenceTypeID = loaded.AbsenceTypes[cd.LeaveTypes[i]]
			if err := c.Contracts.SaveJobLeave(ctx, jl); err != nil {
				return nil, fmt.Errorf("save job leave for contract %d: %w", contract.ID, err)
			}
		}
		loaded.Contracts = append(loaded.Contracts, contract)
	}
	return loaded, nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parsePeriod(pj PeriodJSON, index int) (leave.AbsencePeriod, error) {
	start, err := leave.ParseDate(pj.StartDate)
	if err != nil {
		return leave.AbsencePeriod{}, fmt.Errorf("period %q: %w", pj.Title, err)
	}
	end, err := leave.ParseDate(pj.EndDate)
	if err != nil {
		return leave.AbsencePeriod{}, fmt.Errorf("period %q: %w", pj.Title, err)
	}
	if end.Before(start) {
		return leave.AbsencePeriod{}, &leave.ValidationError{Field: "end_date", Message: fmt.Sprintf("period %q ends before it starts", pj.Title)}
	}
	weight := pj.Weight
	if weight == 0 {
		weight = index + 1
	}
	return leave.AbsencePeriod{Title: pj.Title, StartDate: start, EndDate: end, Weight: weight}, nil
}

func parseAbsenceType(tj AbsenceTypeJSON) (leave.AbsenceType, error) {
	t := leave.AbsenceType{Title: tj.Title, AllowCarryForward: tj.AllowCarryForward}
	if tj.Title == "" {
		return t, &leave.ValidationError{Field: "title", Message: "absence type title is required"}
	}
	if tj.MaxCarryForward.Valid {
		limit := tj.MaxCarryForward.Decimal
		t.MaxDaysCarryForward = &limit
	}

	t.CarryForwardExpiry.Rule = leave.ExpiryNever
	if tj.Expiry == nil {
		return t, nil
	}
	exp := leave.CarryForwardExpiry{Month: tj.Expiry.Month, Day: tj.Expiry.Day, Duration: tj.Expiry.Duration}
	var err error
	if exp.Rule, err = leave.ParseExpiryRule(tj.Expiry.Rule); err != nil {
		return t, fmt.Errorf("absence type %q: %w", tj.Title, err)
	}
	if exp.Rule == leave.ExpiryDuration {
		if exp.Unit, err = leave.ParseDurationUnit(tj.Expiry.Unit); err != nil {
			return t, fmt.Errorf("absence type %q: %w", tj.Title, err)
		}
	}
	t.CarryForwardExpiry = exp
	return t, nil
}

func parseContract(cj ContractJSON, types map[string]bool) (ContractData, error) {
	cd := ContractData{Contract: leave.Contract{ContactID: cj.ContactID}}
	var err error
	if cd.Details.StartDate, err = leave.ParseDate(cj.StartDate); err != nil {
		return cd, err
	}
	if cj.EndDate != "" {
		if cd.Details.EndDate, err = leave.ParseDate(cj.EndDate); err != nil {
			return cd, err
		}
	}
	for _, lj := range cj.Leave {
		if !types[lj.AbsenceType] {
			return cd, fmt.Errorf("%w: absence type %q", leave.ErrNotFound, lj.AbsenceType)
		}
		cd.JobLeave = append(cd.JobLeave, leave.JobLeave{
			LeaveAmount:           lj.Amount,
			IncludePublicHolidays: lj.AddPublicHolidays,
		})
		cd.LeaveTypes = append(cd.LeaveTypes, lj.AbsenceType)
	}
	return cd, nil
}
