package store

import (
	"context"
	"fmt"
	"time"
)

// TryAcquire marks key as held by owner. It succeeds only when the key is
// clear, or when the current holder's lease is older than staleAfter.
// The check and the write are a single statement, so two callers can never
// both observe the guard as clear.
func (s *Store) TryAcquire(ctx context.Context, key, owner string, now time.Time, staleAfter time.Duration) (bool, error) {
	if owner == "" {
		return false, fmt.Errorf("acquire %q: empty owner", key)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		WHERE settings.value = '' OR settings.updated_at < ?`,
		key, owner, now.UnixNano(), now.Add(-staleAfter).UnixNano())
	if err != nil {
		return false, fmt.Errorf("acquire %q: %w", key, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire %q: %w", key, err)
	}
	return n == 1, nil
}

// Release clears key if it is still held by owner. Releasing a guard that
// was taken over after going stale is a no-op.
func (s *Store) Release(ctx context.Context, key, owner string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE settings SET value = '', updated_at = ? WHERE key = ? AND value = ?`,
		time.Now().UnixNano(), key, owner)
	if err != nil {
		return fmt.Errorf("release %q: %w", key, err)
	}
	return nil
}
