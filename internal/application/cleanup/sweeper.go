package cleanup

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/otp-auth-api/internal/pkg/metrics"
	"github.com/robfig/cron/v3"
)

// ExpiredCodeStore is the slice of the code store the sweeper needs.
type ExpiredCodeStore interface {
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// Sweeper periodically evicts expired, unconsumed one-time codes. Failures
// are logged and never propagated: eviction is best-effort, verification
// correctness does not depend on it (expiry is checked at verify time and the
// store deletes conditionally).
type Sweeper struct {
	cron  *cron.Cron
	store ExpiredCodeStore
}

func NewSweeper(store ExpiredCodeStore, interval time.Duration) (*Sweeper, error) {
	cronLogger := cron.PrintfLogger(log.Default())
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))
	s := &Sweeper{cron: c, store: store}

	if _, err := c.AddFunc(fmt.Sprintf("@every %s", interval), s.sweep); err != nil {
		return nil, fmt.Errorf("schedule cleanup sweep: %w", err)
	}
	return s, nil
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := s.store.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		slog.Warn("cleanup sweep failed", "err", err)
		return
	}
	metrics.CodesSwept.Add(float64(n))
	if n > 0 {
		slog.Info("cleanup sweep removed expired codes", "count", n)
	}
}

// Start begins the periodic sweeps.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts scheduling and returns a context that is done once any in-flight
// sweep has finished. Called on process shutdown.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}
