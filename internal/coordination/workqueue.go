package coordination

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/rmacdonaldsmith/routemesh-go/pkg/coordination"
)

var (
	// ErrQueueClosed is returned when the queue has been closed
	ErrQueueClosed = errors.New("work queue is closed")
	// ErrAlreadyProcessing is returned when a processor is already registered
	ErrAlreadyProcessing = errors.New("task processor already registered")
	// ErrInvalidParallelism is returned for a non-positive parallelism
	ErrInvalidParallelism = errors.New("parallelism must be positive")
)

// BadgerWorkQueue is a durable pull-based queue stored in badger.
//
// Items are keyed by a badger sequence so they are pulled in insertion order.
// An item is deleted only after its processor returns nil. In-flight claims
// live in memory with a lease; after a restart, or once a lease expires, the
// item is delivered again.
type BadgerWorkQueue struct {
	config QueueConfig
	db     *badger.DB
	seq    *badger.Sequence
	prefix []byte
	logger *zap.Logger

	mu        sync.Mutex
	status    coordination.QueueStatus
	inflight  map[string]claim
	nextClaim uint64
	stop      context.CancelFunc
	dispatch  chan struct{}
	closed    bool

	wake chan struct{}

	// tasks outlive StopProcessing and are cancelled only by Close
	taskCtx    context.Context
	taskCancel context.CancelFunc
	tasks      sync.WaitGroup

	listenerMu sync.Mutex
	listeners  map[int]func(coordination.QueueStatus)
	nextID     int
}

type claim struct {
	id       uint64
	deadline time.Time
}

// OpenBadgerWorkQueue opens (or creates) a queue.
func OpenBadgerWorkQueue(config QueueConfig) (*BadgerWorkQueue, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid work queue config: %w", err)
	}

	opts := badger.DefaultOptions(config.Dir).
		WithLoggingLevel(badger.ERROR)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open work queue store: %w", err)
	}

	seq, err := db.GetSequence([]byte("wq-seq/"+config.Name), 64)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to create work queue sequence: %w", err), db.Close())
	}

	taskCtx, taskCancel := context.WithCancel(context.Background())
	return &BadgerWorkQueue{
		config:     config,
		db:         db,
		seq:        seq,
		prefix:     []byte("wq/" + config.Name + "/"),
		logger:     config.Logger.Named("workqueue").With(zap.String("queue", config.Name)),
		status:     coordination.QueueActive,
		inflight:   make(map[string]claim),
		wake:       make(chan struct{}, 1),
		taskCtx:    taskCtx,
		taskCancel: taskCancel,
		listeners:  make(map[int]func(coordination.QueueStatus)),
	}, nil
}

// AddOne durably enqueues item.
func (q *BadgerWorkQueue) AddOne(ctx context.Context, item string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrQueueClosed
	}

	n, err := q.seq.Next()
	if err != nil {
		return fmt.Errorf("failed to allocate work item sequence: %w", err)
	}
	value, err := proto.Marshal(wrapperspb.String(item))
	if err != nil {
		return fmt.Errorf("failed to encode work item: %w", err)
	}
	key := binary.BigEndian.AppendUint64(slices.Clone(q.prefix), n)
	if err := q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	}); err != nil {
		return fmt.Errorf("failed to store work item: %w", err)
	}

	q.signal()
	return nil
}

// RegisterTaskProcessor starts a dispatcher running fn on at most parallelism items at once.
func (q *BadgerWorkQueue) RegisterTaskProcessor(fn coordination.TaskProcessor, parallelism int) error {
	if parallelism <= 0 {
		return ErrInvalidParallelism
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if q.stop != nil {
		return ErrAlreadyProcessing
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	q.stop = cancel
	q.dispatch = done
	go q.run(ctx, done, fn, parallelism)
	return nil
}

// StopProcessing stops pulling new items and waits for the dispatcher to exit.
// Tasks already running continue.
func (q *BadgerWorkQueue) StopProcessing() error {
	q.mu.Lock()
	stop, done := q.stop, q.dispatch
	q.stop, q.dispatch = nil, nil
	q.mu.Unlock()

	if stop == nil {
		return nil
	}
	stop()
	<-done
	return nil
}

// Status returns the current status
func (q *BadgerWorkQueue) Status() coordination.QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.status
}

// AddStatusListener registers a status change callback.
func (q *BadgerWorkQueue) AddStatusListener(fn func(coordination.QueueStatus)) func() {
	q.listenerMu.Lock()
	defer q.listenerMu.Unlock()
	id := q.nextID
	q.nextID++
	q.listeners[id] = fn
	return func() {
		q.listenerMu.Lock()
		defer q.listenerMu.Unlock()
		delete(q.listeners, id)
	}
}

// Suspend reports loss of the queue's quorum to status listeners.
func (q *BadgerWorkQueue) Suspend() {
	q.setStatus(coordination.QueueSuspended)
}

// Resume reports regained quorum to status listeners.
func (q *BadgerWorkQueue) Resume() {
	q.setStatus(coordination.QueueActive)
}

// Len returns the number of stored items, in flight or not.
func (q *BadgerWorkQueue) Len() (int, error) {
	n := 0
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = q.prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(q.prefix); it.ValidForPrefix(q.prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Close stops processing, cancels running tasks, waits for them and closes the store. Idempotent.
func (q *BadgerWorkQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	err := q.StopProcessing()
	q.taskCancel()
	q.tasks.Wait()

	err = multierr.Append(err, q.seq.Release())
	err = multierr.Append(err, q.db.Close())
	q.setStatus(coordination.QueueInactive)
	return err
}

func (q *BadgerWorkQueue) setStatus(status coordination.QueueStatus) {
	q.mu.Lock()
	if q.status == status || q.status == coordination.QueueInactive {
		q.mu.Unlock()
		return
	}
	q.status = status
	q.mu.Unlock()

	q.logger.Info("work queue status changed", zap.Stringer("status", status))

	q.listenerMu.Lock()
	ids := make([]int, 0, len(q.listeners))
	for id := range q.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(coordination.QueueStatus), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, q.listeners[id])
	}
	q.listenerMu.Unlock()

	for _, fn := range fns {
		fn(status)
	}
}

func (q *BadgerWorkQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *BadgerWorkQueue) run(ctx context.Context, done chan struct{}, fn coordination.TaskProcessor, parallelism int) {
	defer close(done)

	slots := semaphore.NewWeighted(int64(parallelism))
	ticker := q.config.Clock.Ticker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		if err := slots.Acquire(ctx, 1); err != nil {
			return
		}

		key, item, id, ok, err := q.claim()
		if err != nil {
			q.logger.Warn("failed to scan work queue", zap.Error(err))
		}
		if !ok {
			slots.Release(1)
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
			case <-ticker.C:
			}
			continue
		}

		q.tasks.Add(1)
		go func() {
			defer q.tasks.Done()
			defer slots.Release(1)
			q.execute(fn, key, item, id)
		}()
	}
}

// claim finds the oldest item that is not leased and leases it.
func (q *BadgerWorkQueue) claim() (key []byte, item string, id uint64, ok bool, err error) {
	now := q.config.Clock.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	err = q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = q.prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(q.prefix); it.ValidForPrefix(q.prefix); it.Next() {
			k := it.Item().Key()
			if c, leased := q.inflight[string(k)]; leased && now.Before(c.deadline) {
				continue
			}
			var value wrapperspb.StringValue
			if err := it.Item().Value(func(val []byte) error {
				return proto.Unmarshal(val, &value)
			}); err != nil {
				return fmt.Errorf("failed to decode work item: %w", err)
			}
			key = it.Item().KeyCopy(nil)
			item = value.GetValue()
			ok = true
			return nil
		}
		return nil
	})
	if err != nil || !ok {
		return nil, "", 0, false, err
	}

	q.nextClaim++
	id = q.nextClaim
	q.inflight[string(key)] = claim{id: id, deadline: now.Add(q.config.LeaseTimeout)}
	return key, item, id, true, nil
}

func (q *BadgerWorkQueue) execute(fn coordination.TaskProcessor, key []byte, item string, id uint64) {
	err := q.safeProcess(fn, item)
	if err != nil {
		q.logger.Warn("work item failed, will be redelivered", zap.String("item", item), zap.Error(err))
		q.retryLater(key, id)
		return
	}

	if err := q.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	}); err != nil {
		q.logger.Warn("failed to acknowledge work item", zap.String("item", item), zap.Error(err))
	}
	q.release(key, id)
}

func (q *BadgerWorkQueue) safeProcess(fn coordination.TaskProcessor, item string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(q.taskCtx, item)
}

// retryLater keeps the item leased for one poll interval so a failing item
// is not retried in a tight loop.
func (q *BadgerWorkQueue) retryLater(key []byte, id uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if c, ok := q.inflight[string(key)]; ok && c.id == id {
		q.inflight[string(key)] = claim{id: id, deadline: q.config.Clock.Now().Add(q.config.PollInterval)}
	}
}

// release drops the claim unless a newer claim replaced it after lease expiry.
func (q *BadgerWorkQueue) release(key []byte, id uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if c, ok := q.inflight[string(key)]; ok && c.id == id {
		delete(q.inflight, string(key))
	}
}

var _ coordination.WorkQueue = (*BadgerWorkQueue)(nil)
