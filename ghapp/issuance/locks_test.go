package issuance

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/distribution-auth/ghapp/ghapp/metrics"
)

func TestStripedLock(t *testing.T) {
	lock := NewStripedLock(1, time.Second, nil)

	release := lock.Acquire(context.Background(), 1)

	acquired := make(chan struct{})

	go func() {
		defer close(acquired)

		lock.Acquire(context.Background(), 1)()
	}()

	select {
	case <-acquired:
		t.Fatal("lock acquired while held")
	case <-time.After(50 * time.Millisecond):
	}

	release()

	// releasing twice is harmless
	release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock not acquired after release")
	}
}

func TestStripedLock_Timeout(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)

	lock := NewStripedLock(1, 20*time.Millisecond, zap.New(core))

	release := lock.Acquire(context.Background(), 1)
	defer release()

	before := testutil.ToFloat64(metrics.LockTimeoutsTotal)

	start := time.Now()

	// proceeds without the lock
	lock.Acquire(context.Background(), 1)()

	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.LockTimeoutsTotal))
	assert.Equal(t, 1, logs.FilterMessage("failed to acquire build lock, proceeding without it").Len())
}

func TestStripedLock_Stripes(t *testing.T) {
	lock := NewStripedLock(DefaultLockStripes, time.Second, nil)

	assert.Len(t, lock.stripes, DefaultLockStripes)
	assert.Same(t, lock.stripe(42), lock.stripe(42))

	used := make(map[any]bool)
	for buildID := int64(0); buildID < 100; buildID++ {
		used[lock.stripe(buildID)] = true
	}

	assert.Greater(t, len(used), 1)
}
