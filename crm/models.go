package crm

import (
	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/leave"
)

// Dates are stored as 2006-01-02 strings so range filters compare correctly
// as text on both SQLite and PostgreSQL.

type AbsencePeriod struct {
	ID        int64  `gorm:"primaryKey" json:"id"`
	Title     string `gorm:"type:varchar(127);not null;uniqueIndex" json:"title"`
	StartDate string `gorm:"type:varchar(10);not null;index" json:"start_date"`
	EndDate   string `gorm:"type:varchar(10);not null;index" json:"end_date"`
	Weight    int    `gorm:"not null;uniqueIndex" json:"weight"`
}

func (AbsencePeriod) TableName() string {
	return "absence_periods"
}

type AbsenceType struct {
	ID                int64               `gorm:"primaryKey" json:"id"`
	Title             string              `gorm:"type:varchar(127);not null;uniqueIndex" json:"title"`
	Weight            int                 `gorm:"not null;default:0" json:"weight"`
	IsActive          bool                `gorm:"not null;default:true" json:"is_active"`
	AllowCarryForward bool                `gorm:"not null;default:false" json:"allow_carry_forward"`
	MaxCarryForward   decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"max_number_of_days_to_carry_forward"`
	ExpiryRule        string              `gorm:"type:varchar(20)" json:"carry_forward_expiration_rule"` // never, fixed_date, duration
	ExpiryMonth       int                 `json:"carry_forward_expiration_month"`
	ExpiryDay         int                 `json:"carry_forward_expiration_day"`
	ExpiryDuration    int                 `json:"carry_forward_expiration_duration"`
	ExpiryUnit        string              `gorm:"type:varchar(10)" json:"carry_forward_expiration_unit"` // day, month, year
}

func (AbsenceType) TableName() string {
	return "absence_types"
}

type PublicHoliday struct {
	ID       int64  `gorm:"primaryKey" json:"id"`
	Title    string `gorm:"type:varchar(127);not null" json:"title"`
	Date     string `gorm:"type:varchar(10);not null;uniqueIndex" json:"date"`
	IsActive bool   `gorm:"not null;default:true" json:"is_active"`
}

func (PublicHoliday) TableName() string {
	return "public_holidays"
}

type JobContract struct {
	ID        int64 `gorm:"primaryKey" json:"id"`
	ContactID int64 `gorm:"not null;index" json:"contact_id"`

	Details *JobContractDetails `gorm:"foreignKey:ContractID" json:"details"`
}

func (JobContract) TableName() string {
	return "job_contracts"
}

// JobContractDetails holds the contract dates. An empty EndDate means the
// contract is open-ended.
type JobContractDetails struct {
	ID         int64  `gorm:"primaryKey" json:"id"`
	ContractID int64  `gorm:"not null;uniqueIndex" json:"contract_id"`
	StartDate  string `gorm:"type:varchar(10);not null" json:"period_start_date"`
	EndDate    string `gorm:"type:varchar(10)" json:"period_end_date"`
}

func (JobContractDetails) TableName() string {
	return "job_contract_details"
}

type JobLeave struct {
	ID                int64           `gorm:"primaryKey" json:"id"`
	ContractID        int64           `gorm:"not null;uniqueIndex:idx_job_leave_contract_type" json:"contract_id"`
	AbsenceTypeID     int64           `gorm:"not null;uniqueIndex:idx_job_leave_contract_type" json:"leave_type"`
	LeaveAmount       decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"leave_amount"`
	AddPublicHolidays bool            `gorm:"not null;default:false" json:"add_public_holidays"`
}

func (JobLeave) TableName() string {
	return "job_leaves"
}

// OptionValue is one entry of a CRM option group.
type OptionValue struct {
	ID       int64  `gorm:"primaryKey" json:"id"`
	Group    string `gorm:"column:option_group;type:varchar(64);not null;uniqueIndex:idx_option_group_name" json:"option_group"`
	Name     string `gorm:"type:varchar(64);not null;uniqueIndex:idx_option_group_name" json:"name"`
	Value    string `gorm:"type:varchar(64);not null" json:"value"`
	IsActive bool   `gorm:"not null;default:true" json:"is_active"`
}

func (OptionValue) TableName() string {
	return "option_values"
}

func allModels() []any {
	return []any{
		&AbsencePeriod{}, &AbsenceType{}, &PublicHoliday{},
		&JobContract{}, &JobContractDetails{}, &JobLeave{}, &OptionValue{},
	}
}

// =============================================================================
// CONVERSION - Models to domain types
// =============================================================================

func (m AbsencePeriod) toDomain() (leave.AbsencePeriod, error) {
	start, err := leave.ParseDate(m.StartDate)
	if err != nil {
		return leave.AbsencePeriod{}, err
	}
	end, err := leave.ParseDate(m.EndDate)
	if err != nil {
		return leave.AbsencePeriod{}, err
	}
	return leave.AbsencePeriod{ID: m.ID, Title: m.Title, StartDate: start, EndDate: end, Weight: m.Weight}, nil
}

func periodModel(p leave.AbsencePeriod) AbsencePeriod {
	return AbsencePeriod{
		ID:        p.ID,
		Title:     p.Title,
		StartDate: p.StartDate.String(),
		EndDate:   p.EndDate.String(),
		Weight:    p.Weight,
	}
}

func (m AbsenceType) toDomain() (leave.AbsenceType, error) {
	t := leave.AbsenceType{
		ID:                m.ID,
		Title:             m.Title,
		AllowCarryForward: m.AllowCarryForward,
	}
	if m.MaxCarryForward.Valid {
		limit := m.MaxCarryForward.Decimal
		t.MaxDaysCarryForward = &limit
	}

	rule := leave.ExpiryNever
	if m.ExpiryRule != "" {
		var err error
		if rule, err = leave.ParseExpiryRule(m.ExpiryRule); err != nil {
			return t, err
		}
	}
	t.CarryForwardExpiry = leave.CarryForwardExpiry{
		Rule:     rule,
		Month:    m.ExpiryMonth,
		Day:      m.ExpiryDay,
		Duration: m.ExpiryDuration,
	}
	if m.ExpiryUnit != "" {
		unit, err := leave.ParseDurationUnit(m.ExpiryUnit)
		if err != nil {
			return t, err
		}
		t.CarryForwardExpiry.Unit = unit
	}
	return t, nil
}

func absenceTypeModel(t leave.AbsenceType) AbsenceType {
	m := AbsenceType{
		ID:                t.ID,
		Title:             t.Title,
		IsActive:          true,
		AllowCarryForward: t.AllowCarryForward,
		ExpiryRule:        string(t.CarryForwardExpiry.Rule),
		ExpiryMonth:       t.CarryForwardExpiry.Month,
		ExpiryDay:         t.CarryForwardExpiry.Day,
		ExpiryDuration:    t.CarryForwardExpiry.Duration,
		ExpiryUnit:        string(t.CarryForwardExpiry.Unit),
	}
	if t.MaxDaysCarryForward != nil {
		m.MaxCarryForward = decimal.NewNullDecimal(*t.MaxDaysCarryForward)
	}
	return m
}

func (m PublicHoliday) toDomain() (leave.PublicHoliday, error) {
	d, err := leave.ParseDate(m.Date)
	if err != nil {
		return leave.PublicHoliday{}, err
	}
	return leave.PublicHoliday{ID: m.ID, Title: m.Title, Date: d}, nil
}

func (m JobContractDetails) toDomain() (leave.ContractDetails, error) {
	d := leave.ContractDetails{ContractID: m.ContractID}
	var err error
	if d.StartDate, err = leave.ParseDate(m.StartDate); err != nil {
		return d, err
	}
	if m.EndDate != "" {
		if d.EndDate, err = leave.ParseDate(m.EndDate); err != nil {
			return d, err
		}
	}
	return d, nil
}

func (m JobLeave) toDomain() leave.JobLeave {
	return leave.JobLeave{
		ContractID:            m.ContractID,
		AbsenceTypeID:         m.AbsenceTypeID,
		LeaveAmount:           m.LeaveAmount,
		IncludePublicHolidays: m.AddPublicHolidays,
	}
}
