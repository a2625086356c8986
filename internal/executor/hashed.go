// Package executor provides a hash-bucketed task executor.
//
// Tasks submitted with the same key always run on the same single-goroutine
// bucket, in submission order. Tasks with different keys may run in parallel.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/routemesh-go/internal/queue"
)

// ErrShutdown is returned when submitting to an executor that was shut down
var ErrShutdown = errors.New("executor is shut down")

// DefaultBuckets returns the bucket count used when a non-positive count is configured.
func DefaultBuckets() int {
	return runtime.NumCPU()
}

// HashedExecutor is an array of N single-goroutine FIFO work queues.
// The bucket for a key is murmur3(key) mod N.
type HashedExecutor struct {
	name    string
	logger  *zap.Logger
	buckets []*queue.FIFO[func()]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	shutdown bool
}

// NewHashedExecutor creates and starts an executor with the given number of buckets.
// A non-positive count selects DefaultBuckets().
func NewHashedExecutor(name string, buckets int, logger *zap.Logger) *HashedExecutor {
	if buckets <= 0 {
		buckets = DefaultBuckets()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &HashedExecutor{
		name:    name,
		logger:  logger.With(zap.String("executor", name)),
		buckets: make([]*queue.FIFO[func()], buckets),
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := range e.buckets {
		e.buckets[i] = queue.New[func()]()
		e.wg.Add(1)
		go e.run(i)
	}
	return e
}

// Buckets returns the number of buckets.
func (e *HashedExecutor) Buckets() int {
	return len(e.buckets)
}

// BucketFor returns the bucket index a key is routed to.
func (e *HashedExecutor) BucketFor(key string) int {
	return int(murmur3.Sum32([]byte(key)) % uint32(len(e.buckets)))
}

// Execute queues task on the bucket selected by key.
func (e *HashedExecutor) Execute(key string, task func()) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.shutdown {
		return fmt.Errorf("%s: %w", e.name, ErrShutdown)
	}
	e.buckets[e.BucketFor(key)].Push(task)
	return nil
}

// Pending returns the number of queued, not yet started tasks across all buckets.
func (e *HashedExecutor) Pending() int {
	n := 0
	for _, b := range e.buckets {
		n += b.Len()
	}
	return n
}

// Shutdown stops every bucket. Queued tasks are discarded; a task already
// running is allowed to finish. Idempotent.
func (e *HashedExecutor) Shutdown() {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return
	}
	e.shutdown = true
	e.mu.Unlock()

	e.cancel()
	for _, b := range e.buckets {
		b.Close()
	}
	e.wg.Wait()
}

func (e *HashedExecutor) run(bucket int) {
	defer e.wg.Done()
	q := e.buckets[bucket]
	for {
		task, err := q.Pop(e.ctx)
		if err != nil {
			return
		}
		e.safeRun(bucket, task)
	}
}

func (e *HashedExecutor) safeRun(bucket int, task func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("task panicked",
				zap.Int("bucket", bucket),
				zap.Any("panic", r))
		}
	}()
	task()
}
