package redisclient

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/clinicdesk/clinic-scheduling/internal/apperr"
)

// ErrLockNotAcquired is returned when the doctor lock stays taken until the
// caller's deadline.
var ErrLockNotAcquired = fmt.Errorf("doctor lock not acquired: %w", apperr.ErrBusy)

const (
	minBackoff = 10 * time.Millisecond
	maxBackoff = 200 * time.Millisecond
)

// DoctorLocker serialises bookings per doctor across api-server instances
// with a SETNX key holding a random token.
type DoctorLocker struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewDoctorLocker returns a locker whose keys expire after ttl, so a crashed
// holder cannot block a doctor forever. ttl must exceed the booking timeout.
func NewDoctorLocker(client *redis.Client, ttl time.Duration, logger *zap.Logger) *DoctorLocker {
	return &DoctorLocker{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func lockKey(doctorID uuid.UUID) string {
	return fmt.Sprintf("lock:doctor:%s", doctorID.String())
}

func (l *DoctorLocker) WithDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	key := lockKey(doctorID)
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}

	defer func() {
		// The caller's context may already be done; release regardless.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := l.release(releaseCtx, key, token); err != nil {
			l.logger.Warn("release doctor lock", zap.String("key", key), zap.Error(err))
		}
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

// acquire retries SETNX with jittered exponential backoff until ctx is done.
func (l *DoctorLocker) acquire(ctx context.Context, key, token string) error {
	backoff := minBackoff
	for attempt := 1; ; attempt++ {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return ErrLockNotAcquired
			}
			return fmt.Errorf("acquire doctor lock: %w", err)
		}
		if ok {
			if attempt > 1 {
				l.logger.Debug("doctor lock acquired after retry", zap.String("key", key), zap.Int("attempts", attempt))
			}
			return nil
		}

		wait := backoff/2 + rand.N(backoff/2+1)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ErrLockNotAcquired
		case <-timer.C:
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *DoctorLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release doctor lock: %w", err)
	}
	return nil
}
