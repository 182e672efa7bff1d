package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/flexprice/dealpay/internal/config"
	ierr "github.com/flexprice/dealpay/internal/errors"
	"github.com/flexprice/dealpay/internal/logger"
)

// Purposes serialized by the lock service
const (
	PurposeCheckout = "checkout"
	PurposeRefund   = "refund"
)

// ErrLockHeld is returned by a Locker when another holder owns the key
var ErrLockHeld = errors.New("lock is held by another owner")

// Locker is a TTL bound exclusive lock backend. Acquire must not block when the
// key is held; it returns ErrLockHeld instead.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (*Handle, error)
	Release(ctx context.Context, handle *Handle) error
}

// Handle identifies one acquired lock. Only the token owner can release it.
type Handle struct {
	Key        string
	Token      string
	TTL        time.Duration
	AcquiredAt time.Time
}

// Options tune a single WithLock call. Zero values fall back to the configured defaults.
type Options struct {
	TTL        time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// Service serializes work per deal and purpose
type Service struct {
	locker   Locker
	prefix   string
	defaults Options
	logger   *logger.Logger
}

func NewService(locker Locker, cfg *config.Configuration, logger *logger.Logger) *Service {
	return &Service{
		locker: locker,
		prefix: cfg.Lock.KeyPrefix,
		defaults: Options{
			TTL:        cfg.Lock.TTL,
			MaxRetries: cfg.Lock.MaxRetries,
			RetryDelay: cfg.Lock.RetryDelay,
		},
		logger: logger,
	}
}

// Key builds the lock key of a deal and purpose
func (s *Service) Key(dealID, purpose string) string {
	if s.prefix == "" {
		return fmt.Sprintf("%s:%s", purpose, dealID)
	}
	return fmt.Sprintf("%s:%s:%s", s.prefix, purpose, dealID)
}

func (s *Service) withDefaults(opts Options) Options {
	if opts.TTL <= 0 {
		opts.TTL = s.defaults.TTL
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = s.defaults.MaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = s.defaults.RetryDelay
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 100 * time.Millisecond
	}
	return opts
}

func (s *Service) newBackOff(opts Options) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.RetryDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxInterval = opts.RetryDelay * 16
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(opts.MaxRetries))
}

// WithLock runs fn while holding the lock of (dealID, purpose). Acquisition is
// retried with exponential backoff at most MaxRetries times; exhaustion returns
// an error marked ierr.ErrLockAcquisitionFailed and fn is not called.
// The lock is released when fn returns, or expires after TTL if the process dies.
func (s *Service) WithLock(ctx context.Context, dealID, purpose string, fn func(ctx context.Context) error, opts Options) error {
	opts = s.withDefaults(opts)
	key := s.Key(dealID, purpose)

	handle, err := s.acquire(ctx, key, opts)
	if err != nil {
		return ierr.WithError(err).
			WithHintf("Another process is working on deal %s, retry on the next run", dealID).
			WithReportableDetails(map[string]any{
				"deal_id":     dealID,
				"purpose":     purpose,
				"max_retries": opts.MaxRetries,
			}).
			Mark(ierr.ErrLockAcquisitionFailed)
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.locker.Release(releaseCtx, handle); err != nil {
			s.logger.Warnw("failed to release lock", "key", key, "error", err)
		}
	}()

	s.logger.Debugw("lock acquired", "key", key, "ttl", opts.TTL)
	return fn(ctx)
}

func (s *Service) acquire(ctx context.Context, key string, opts Options) (*Handle, error) {
	bo := s.newBackOff(opts)
	attempt := 0
	for {
		attempt++
		handle, err := s.locker.Acquire(ctx, key, opts.TTL)
		if err == nil {
			return handle, nil
		}
		if !errors.Is(err, ErrLockHeld) {
			s.logger.Warnw("lock backend error", "key", key, "attempt", attempt, "error", err)
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return nil, fmt.Errorf("lock %s not acquired after %d attempts: %w", key, attempt, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
