// SPDX-License-Identifier: AGPL-3.0-only

package hybrid

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterPool_ProcessesSubmittedJobs(t *testing.T) {
	var processed int32
	p := newWriterPool(0, 2, 8, false, func(job *writeJob) error {
		atomic.AddInt32(&processed, 1)
		return nil
	})
	defer p.shutdown()

	for i := 0; i < 5; i++ {
		job := &writeJob{payload: []byte("x"), done: make(chan error, 1)}
		require.NoError(t, p.submit(context.Background(), job))
		require.NoError(t, <-job.done)
	}

	assert.Equal(t, int32(5), atomic.LoadInt32(&processed))
}

func TestWriterPool_NonBlockingAdmissionFailsWhenBudgetExhausted(t *testing.T) {
	block := make(chan struct{})
	p := newWriterPool(4, 1, 1, true, func(job *writeJob) error {
		<-block
		return nil
	})
	defer func() {
		close(block)
		p.shutdown()
	}()

	first := &writeJob{payload: make([]byte, 4), done: make(chan error, 1)}
	require.NoError(t, p.submit(context.Background(), first))

	second := &writeJob{payload: make([]byte, 4), done: make(chan error, 1)}
	err := p.submit(context.Background(), second)
	assert.Error(t, err)
}

func TestWriterPool_BlockingAdmissionWaitsForBudget(t *testing.T) {
	release := make(chan struct{})
	p := newWriterPool(4, 1, 1, false, func(job *writeJob) error {
		<-release
		return nil
	})
	defer p.shutdown()

	first := &writeJob{payload: make([]byte, 4), done: make(chan error, 1)}
	require.NoError(t, p.submit(context.Background(), first))

	submitted := make(chan error, 1)
	second := &writeJob{payload: make([]byte, 4), done: make(chan error, 1)}
	go func() { submitted <- p.submit(context.Background(), second) }()

	select {
	case <-submitted:
		t.Fatal("submit should block while budget is exhausted")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-submitted)
}

func TestWriterPool_SubmitAfterShutdownFails(t *testing.T) {
	p := newWriterPool(0, 1, 1, false, func(job *writeJob) error { return nil })
	p.shutdown()

	err := p.submit(context.Background(), &writeJob{payload: []byte("x"), done: make(chan error, 1)})
	assert.Error(t, err)
}
