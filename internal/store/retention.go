package store

import (
	"context"
	"fmt"
)

// RunRetention keeps only the newest `keep` snapshots. The action audit trail
// is never pruned. keep <= 0 disables pruning.
func (s *Store) RunRetention(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM progress_snapshots WHERE id NOT IN (SELECT id FROM progress_snapshots ORDER BY id DESC LIMIT ?)`,
		keep,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Debug().Int64("pruned", n).Int("keep", keep).Msg("snapshot retention")
	}
	return n, nil
}
