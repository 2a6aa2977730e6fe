package workerpool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	_, err := New(&Config{Workers: 0}, zap.NewNop())
	assert.Error(t, err)

	p, err := New(nil, nil)
	require.NoError(t, err)
	defer p.Shutdown()
	assert.Equal(t, 16, p.Free())
}

func TestSubmit(t *testing.T) {
	p, err := New(&Config{Workers: 4, ReleaseTimeout: time.Second}, zap.NewNop())
	require.NoError(t, err)

	var wg sync.WaitGroup
	var sum atomic.Int64
	for i := 1; i <= 100; i++ {
		wg.Add(1)
		n := int64(i)
		require.NoError(t, p.Submit(func() {
			defer wg.Done()
			sum.Add(n)
		}))
	}
	wg.Wait()

	assert.Equal(t, int64(5050), sum.Load())
	p.Shutdown()

	stats := p.Stats()
	assert.Equal(t, int64(100), stats.Submitted)
	assert.Equal(t, int64(100), stats.Completed)
	assert.Equal(t, int64(0), stats.Running)

	assert.ErrorIs(t, p.Submit(func() {}), ErrPoolClosed)
	assert.Equal(t, int64(100), p.Stats().Submitted)
}

func TestSubmit_Nonblocking(t *testing.T) {
	p, err := New(&Config{Workers: 1, Nonblocking: true, ReleaseTimeout: time.Second}, zap.NewNop())
	require.NoError(t, err)
	defer p.Shutdown()

	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(func() {
		close(started)
		<-block
	}))
	<-started

	assert.ErrorIs(t, p.Submit(func() {}), ErrPoolFull)
	assert.Equal(t, 1, p.Running())
	close(block)
}

func TestSubmit_Panic(t *testing.T) {
	p, err := New(&Config{Workers: 1, ReleaseTimeout: time.Second}, zap.NewNop())
	require.NoError(t, err)

	done := make(chan struct{})
	require.NoError(t, p.Submit(func() {
		defer close(done)
		panic("boom")
	}))
	<-done
	p.Shutdown()

	assert.Eventually(t, func() bool { return p.Stats().Panicked == 1 }, time.Second, 10*time.Millisecond)
}
