package leave

import (
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// OPTION REGISTRY - Maps CRM option values onto the closed enums
// =============================================================================
//
// The CRM stores balance change types, request statuses and day types as
// option values (group, name, value) that administrators can edit. The
// engine only works with the closed enums, so the mapping is resolved once
// at startup and any gap is a startup failure rather than a runtime surprise.

const (
	GroupBalanceChangeType = "hrleaveandabsences_leave_balance_change_type"
	GroupRequestStatus     = "hrleaveandabsences_leave_request_status"
	GroupRequestDayType    = "hrleaveandabsences_leave_request_day_type"
)

// OptionValue is one row of a CRM option group.
type OptionValue struct {
	Group string
	Name  string
	Value string
}

// OptionRegistry is an immutable mapping from enums to option values.
type OptionRegistry struct {
	changeTypes map[BalanceChangeType]string
	statuses    map[RequestStatus]string
	dateTypes   map[DateType]string
}

// NewOptionRegistry builds the registry. It fails when an option name in a
// known group isn't an enum member, or when an enum member has no option.
// Rows from other groups are ignored.
func NewOptionRegistry(values []OptionValue) (*OptionRegistry, error) {
	r := &OptionRegistry{
		changeTypes: make(map[BalanceChangeType]string),
		statuses:    make(map[RequestStatus]string),
		dateTypes:   make(map[DateType]string),
	}

	for _, v := range values {
		switch v.Group {
		case GroupBalanceChangeType:
			t, err := ParseBalanceChangeType(v.Name)
			if err != nil {
				return nil, fmt.Errorf("option group %s: %w", v.Group, err)
			}
			r.changeTypes[t] = v.Value
		case GroupRequestStatus:
			s, err := ParseRequestStatus(v.Name)
			if err != nil {
				return nil, fmt.Errorf("option group %s: %w", v.Group, err)
			}
			r.statuses[s] = v.Value
		case GroupRequestDayType:
			d, err := ParseDateType(v.Name)
			if err != nil {
				return nil, fmt.Errorf("option group %s: %w", v.Group, err)
			}
			r.dateTypes[d] = v.Value
		}
	}

	var missing []string
	missing = appendMissing(missing, GroupBalanceChangeType, balanceChangeTypes, r.changeTypes)
	missing = appendMissing(missing, GroupRequestStatus, requestStatuses, r.statuses)
	missing = appendMissing(missing, GroupRequestDayType, dateTypes, r.dateTypes)
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: no option value for %s", ErrInvalidOption, strings.Join(missing, ", "))
	}
	return r, nil
}

func appendMissing[T ~string](missing []string, group string, members []T, mapped map[T]string) []string {
	for _, m := range members {
		if _, ok := mapped[m]; !ok {
			missing = append(missing, group+"."+string(m))
		}
	}
	return missing
}

func (r *OptionRegistry) ChangeTypeValue(t BalanceChangeType) string { return r.changeTypes[t] }
func (r *OptionRegistry) StatusValue(s RequestStatus) string       { return r.statuses[s] }
func (r *OptionRegistry) DateTypeValue(d DateType) string          { return r.dateTypes[d] }

// DefaultOptionValues returns the option values a fresh CRM installation ships with.
func DefaultOptionValues() []OptionValue {
	return []OptionValue{
		{GroupBalanceChangeType, string(ChangeLeave), "1"},
		{GroupBalanceChangeType, string(ChangeBroughtForward), "2"},
		{GroupBalanceChangeType, string(ChangePublicHoliday), "3"},
		{GroupBalanceChangeType, string(ChangeCredit), "4"},
		{GroupBalanceChangeType, string(ChangeDebit), "5"},

		{GroupRequestStatus, string(StatusApproved), "1"},
		{GroupRequestStatus, string(StatusAdminApproved), "2"},
		{GroupRequestStatus, string(StatusWaitingApproval), "3"},
		{GroupRequestStatus, string(StatusMoreInformationRequired), "4"},
		{GroupRequestStatus, string(StatusRejected), "5"},
		{GroupRequestStatus, string(StatusCancelled), "6"},

		{GroupRequestDayType, string(DateAllDay), "1"},
		{GroupRequestDayType, string(DateHalfDayAM), "2"},
		{GroupRequestDayType, string(DateHalfDayPM), "3"},
	}
}
