package jobs

import (
	"context"
	"log"
	"time"

	"noesis/internal/attendance"
	"noesis/internal/qrtoken"
)

// StartSweepJob periodically evicts expired QR tokens and closes sessions
// past their end time, marking absent students. Closing runs in the worker
// so API instances never race each other on the same sweep.
func StartSweepJob(ctx context.Context, interval time.Duration, issuer *qrtoken.Issuer, repo *attendance.Repository, closeSessions bool) {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tickCtx, cancel := context.WithTimeout(ctx, 10*time.Second)

				if evicted, err := issuer.SweepExpired(tickCtx); err != nil {
					log.Printf("token sweep error: %v", err)
				} else if evicted > 0 {
					log.Printf("token sweep evicted %d expired tokens", evicted)
				}

				if closeSessions {
					now := time.Now().UTC()
					if closed, err := repo.CloseExpiredSessions(tickCtx, now); err != nil {
						log.Printf("session close error: %v", err)
					} else if closed > 0 {
						log.Printf("closed %d expired sessions", closed)
					}
				}

				cancel()
			}
		}
	}()
}
