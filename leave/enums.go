package leave

import "fmt"

// =============================================================================
// BALANCE CHANGE TYPE
// =============================================================================

type BalanceChangeType string

const (
	ChangeLeave          BalanceChangeType = "leave"           // Pro-rata or overridden entitlement
	ChangeBroughtForward BalanceChangeType = "brought_forward" // Carried from the previous period
	ChangePublicHoliday  BalanceChangeType = "public_holiday"  // Public holidays added to the entitlement
	ChangeDebit          BalanceChangeType = "debit"           // Day taken by a request
	ChangeCredit         BalanceChangeType = "credit"          // Day given back (TOIL, cancellations)
)

var balanceChangeTypes = []BalanceChangeType{
	ChangeLeave, ChangeBroughtForward, ChangePublicHoliday, ChangeDebit, ChangeCredit,
}

func (t BalanceChangeType) Valid() bool { return contains(balanceChangeTypes, t) }

// IsBreakdown reports whether entries of this type form the entitlement breakdown.
func (t BalanceChangeType) IsBreakdown() bool {
	return t == ChangeLeave || t == ChangeBroughtForward || t == ChangePublicHoliday
}

func ParseBalanceChangeType(s string) (BalanceChangeType, error) {
	return parseEnum(balanceChangeTypes, s, "balance change type")
}

// =============================================================================
// LEAVE REQUEST STATUS
// =============================================================================

type RequestStatus string

const (
	StatusApproved                RequestStatus = "approved"
	StatusAdminApproved           RequestStatus = "admin_approved"
	StatusWaitingApproval         RequestStatus = "waiting_approval"
	StatusMoreInformationRequired RequestStatus = "more_information_required"
	StatusRejected                RequestStatus = "rejected"
	StatusCancelled               RequestStatus = "cancelled"
)

var requestStatuses = []RequestStatus{
	StatusApproved, StatusAdminApproved, StatusWaitingApproval,
	StatusMoreInformationRequired, StatusRejected, StatusCancelled,
}

func (s RequestStatus) Valid() bool { return contains(requestStatuses, s) }

// IsApproved reports whether days of a request in this status count against the balance.
func (s RequestStatus) IsApproved() bool {
	return s == StatusApproved || s == StatusAdminApproved
}

func ParseRequestStatus(s string) (RequestStatus, error) {
	return parseEnum(requestStatuses, s, "leave request status")
}

// =============================================================================
// DATE TYPE
// =============================================================================

type DateType string

const (
	DateAllDay    DateType = "all_day"
	DateHalfDayAM DateType = "half_day_am"
	DateHalfDayPM DateType = "half_day_pm"
)

var dateTypes = []DateType{DateAllDay, DateHalfDayAM, DateHalfDayPM}

func (d DateType) Valid() bool { return contains(dateTypes, d) }

func ParseDateType(s string) (DateType, error) {
	return parseEnum(dateTypes, s, "date type")
}

// =============================================================================
// SOURCE TYPE
// =============================================================================

type SourceType string

const (
	SourceNone            SourceType = ""
	SourceLeaveRequestDay SourceType = "leave_request_day"
	SourceTOILRequest     SourceType = "toil_request"
)

// =============================================================================
// CARRY FORWARD EXPIRY
// =============================================================================

type ExpiryRule string

const (
	ExpiryNever     ExpiryRule = "never"
	ExpiryFixedDate ExpiryRule = "fixed_date"
	ExpiryDuration  ExpiryRule = "duration"
)

var expiryRules = []ExpiryRule{ExpiryNever, ExpiryFixedDate, ExpiryDuration}

func (r ExpiryRule) Valid() bool { return contains(expiryRules, r) }

func ParseExpiryRule(s string) (ExpiryRule, error) {
	return parseEnum(expiryRules, s, "expiry rule")
}

type DurationUnit string

const (
	UnitDay   DurationUnit = "day"
	UnitMonth DurationUnit = "month"
	UnitYear  DurationUnit = "year"
)

var durationUnits = []DurationUnit{UnitDay, UnitMonth, UnitYear}

func (u DurationUnit) Valid() bool { return contains(durationUnits, u) }

func ParseDurationUnit(s string) (DurationUnit, error) {
	return parseEnum(durationUnits, s, "duration unit")
}

// =============================================================================
// HELPERS
// =============================================================================

func contains[T comparable](values []T, v T) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

func parseEnum[T ~string](values []T, s, what string) (T, error) {
	for _, v := range values {
		if string(v) == s {
			return v, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("%w: unknown %s %q", ErrInvalidOption, what, s)
}
