package leave

import "github.com/shopspring/decimal"

// =============================================================================
// LEAVE BALANCE - Validation and ledger queries
// =============================================================================
//
// A balance never stores a number. Every figure is a sum over its
// BalanceChange entries:
//
//	Balance()             everything unsourced + days of approved requests
//	Entitlement()         unsourced leave/brought_forward/public_holiday,
//	                      excluding expiry entries
//	LeaveRequestBalance() days of approved requests only
//
// Entries whose request is still waiting, rejected or cancelled don't count.

// Validate enforces the comment rules: comment, author and date are either
// all present or all absent.
func (b *LeaveBalance) Validate() error {
	if b.Comment != "" {
		if b.CommentAuthorID == 0 {
			return &InvalidLeaveBalanceError{Reason: "The author of the comment cannot be null"}
		}
		if b.CommentDate == nil {
			return &InvalidLeaveBalanceError{Reason: "The date of the comment cannot be null"}
		}
		return nil
	}
	if b.CommentAuthorID != 0 {
		return &InvalidLeaveBalanceError{Reason: "The author of the comment should be null if the comment is empty"}
	}
	if b.CommentDate != nil {
		return &InvalidLeaveBalanceError{Reason: "The date of the comment should be null if the comment is empty"}
	}
	return nil
}

// Balance returns the days currently available.
func (b *LeaveBalance) Balance() decimal.Decimal {
	return b.sum(func(c BalanceChange) bool {
		return !c.HasSource() || c.SourceStatus.IsApproved()
	})
}

// Entitlement returns the days granted for the period.
func (b *LeaveBalance) Entitlement() decimal.Decimal {
	return b.sum(func(c BalanceChange) bool {
		return !c.HasSource() && !c.IsExpiry() && c.Type.IsBreakdown()
	})
}

// LeaveRequestBalance returns the (usually negative) total of approved
// request days.
func (b *LeaveBalance) LeaveRequestBalance() decimal.Decimal {
	return b.sum(func(c BalanceChange) bool {
		return c.HasSource() && c.SourceStatus.IsApproved()
	})
}

// ChangesOfType returns the entries of one type, in ledger order.
func (b *LeaveBalance) ChangesOfType(t BalanceChangeType) []BalanceChange {
	var out []BalanceChange
	for _, c := range b.Changes {
		if c.Type == t {
			out = append(out, c)
		}
	}
	return out
}

func (b *LeaveBalance) sum(include func(BalanceChange) bool) decimal.Decimal {
	total := decimal.Zero
	for _, c := range b.Changes {
		if include(c) {
			total = total.Add(c.Amount)
		}
	}
	return total
}
