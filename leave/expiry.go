package leave

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// =============================================================================
// BROUGHT FORWARD EXPIRY
// =============================================================================
//
// Brought-forward days carry an expiry date. From that date on, whatever is
// left of them is taken back with a negative entry of the same type, linked
// to the original through ExpiredBalanceChangeID:
//
//	expired = min(brought forward, max(0, balance))
//
// Days already used stay used. The expiry entry lowers Balance() but not
// Entitlement(). An entry expires once: candidates with an expiry entry are
// skipped by the store.

// ExpireBroughtForward expires every brought-forward entry whose expiry date
// is on or before asOf and returns how many were expired.
func (s *Service) ExpireBroughtForward(ctx context.Context, asOf Date) (int, error) {
	var expired []BalanceChange
	var keys []BalanceKey

	err := s.store.WithTx(ctx, func(st Store) error {
		expired, keys = nil, nil
		candidates, err := st.ExpiredCandidates(ctx, asOf)
		if err != nil {
			return fmt.Errorf("load expiry candidates: %w", err)
		}
		for _, c := range candidates {
			amount := c.Change.Amount
			if available := decimal.Max(c.Balance, decimal.Zero); available.LessThan(amount) {
				amount = available
			}
			originalID := c.Change.ID
			entry := BalanceChange{
				BalanceID:              c.Change.BalanceID,
				Type:                   c.Change.Type,
				Amount:                 amount.Neg(),
				ExpiryDate:             c.Change.ExpiryDate,
				ExpiredBalanceChangeID: &originalID,
			}
			if err := st.AppendChange(ctx, &entry); err != nil {
				return fmt.Errorf("append expiry of change %d: %w", originalID, err)
			}
			expired = append(expired, entry)
			keys = append(keys, c.Key)
		}
		return nil
	})
	if err != nil {
		s.log.WithError(err).Error("Failed to expire brought forward")
		return 0, fmt.Errorf("%w: expire brought forward: %w", ErrTransactionFailed, err)
	}

	for i, e := range expired {
		s.fields(keys[i]).WithFields(logrus.Fields{
			"balance_id": e.BalanceID,
			"amount":     e.Amount.String(),
		}).Info("Expired brought forward")
	}
	return len(expired), nil
}
