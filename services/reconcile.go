package services

import (
	"context"
	"fmt"
)

// BalanceDrift is a user whose cached balance disagrees with the ledger.
type BalanceDrift struct {
	UserID string `json:"user_id"`
	Cached int64  `json:"cached"`
	Ledger int64  `json:"ledger"`
}

// Reconcile lists every user whose cached petal balance is not the sum of
// their ledger deltas. An empty result means the projection is consistent.
func (s *LedgerService) Reconcile(ctx context.Context) ([]BalanceDrift, error) {
	drift := []BalanceDrift{}
	err := s.DB.WithContext(ctx).Raw(`
		SELECT u.id AS user_id, u.petal_balance AS cached, COALESCE(SUM(e.delta), 0) AS ledger
		FROM users u
		LEFT JOIN petal_ledger_entries e ON e.user_id = u.id
		GROUP BY u.id, u.petal_balance
		HAVING u.petal_balance <> COALESCE(SUM(e.delta), 0)
		ORDER BY u.id
	`).Scan(&drift).Error
	if err != nil {
		return nil, fmt.Errorf("reconcile balances: %w", err)
	}
	return drift, nil
}
