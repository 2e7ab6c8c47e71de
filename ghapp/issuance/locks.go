package issuance

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/distribution-auth/ghapp/ghapp/metrics"
)

// Defaults for StripedLock.
const (
	DefaultLockStripes = 8
	DefaultLockTimeout = 30 * time.Second
)

// StripedLock serializes work on the same build ID using a fixed number of lock stripes.
//
// Different builds may share a stripe.
// Acquire never fails: when the lock cannot be acquired in time the caller proceeds without it.
type StripedLock struct {
	stripes []*semaphore.Weighted
	timeout time.Duration
	logger  *zap.Logger
}

// NewStripedLock returns a new StripedLock.
func NewStripedLock(stripes int, timeout time.Duration, logger *zap.Logger) *StripedLock {
	if stripes <= 0 {
		stripes = DefaultLockStripes
	}

	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	l := &StripedLock{
		stripes: make([]*semaphore.Weighted, stripes),
		timeout: timeout,
		logger:  logger,
	}

	for i := range l.stripes {
		l.stripes[i] = semaphore.NewWeighted(1)
	}

	return l
}

func (l *StripedLock) stripe(buildID int64) *semaphore.Weighted {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(buildID))

	h := fnv.New64a()
	_, _ = h.Write(b[:])

	return l.stripes[h.Sum64()%uint64(len(l.stripes))]
}

// Acquire locks the stripe of a build and returns a function releasing it.
//
// If the stripe cannot be acquired within the timeout (or ctx is canceled first)
// Acquire logs a warning and returns a release function that does nothing.
// The caller then runs unprotected and may race with the lock holder.
func (l *StripedLock) Acquire(ctx context.Context, buildID int64) func() {
	sem := l.stripe(buildID)

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if err := sem.Acquire(ctx, 1); err != nil {
		metrics.IncrementLockTimeouts()

		l.logger.Warn(
			"failed to acquire build lock, proceeding without it",
			zap.Int64("build_id", buildID),
			zap.Duration("timeout", l.timeout),
			zap.Error(err),
		)

		return func() {}
	}

	var once sync.Once

	return func() {
		once.Do(func() {
			sem.Release(1)
		})
	}
}
