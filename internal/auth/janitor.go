package auth

import (
	"context"
	"fmt"
	"log"
	"time"
)

const DefaultTokenCleanupInterval = time.Hour

// StartTokenJanitor periodically deletes expired token records until ctx is done.
func (s *Service) StartTokenJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultTokenCleanupInterval
	}
	go s.cleanupLoop(ctx, interval)
}

func (s *Service) cleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.PurgeExpired(ctx); err != nil {
				log.Printf("cleanup tokens error: %v", err)
			} else if n > 0 {
				log.Printf("purged %d expired tokens", n)
			}
		}
	}
}

// PurgeExpired removes token records past their expiry and reports how many were deleted.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM user_tokens WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge rows affected: %w", err)
	}
	return n, nil
}
