// Package coordination provides the contracts of the cluster coordination primitives
// used by the route reaper: a bounded mutual-exclusion lock and a durable work queue.
//
// Only the usage contract is specified here. Any consensus-backed coordination
// service can supply the implementation.
package coordination

import (
	"context"
	"io"
	"time"
)

// Lock is a cluster-wide mutual-exclusion lock.
type Lock interface {
	// TryLock attempts to acquire the lock, waiting at most timeout.
	// It returns false without error when the lock could not be acquired in time.
	TryLock(ctx context.Context, timeout time.Duration) (bool, error)

	// Unlock releases the lock if this process holds it. Releasing an unheld lock is a no-op.
	Unlock(ctx context.Context) error
}

// QueueStatus represents the processing status of a work queue member
type QueueStatus int

const (
	// QueueActive means this process pulls and processes work
	QueueActive QueueStatus = iota

	// QueueSuspended means this process lost quorum on the queue; no new items are pulled
	QueueSuspended

	// QueueInactive means the queue was shut down
	QueueInactive
)

func (s QueueStatus) String() string {
	switch s {
	case QueueActive:
		return "ACTIVE"
	case QueueSuspended:
		return "SUSPENDED"
	case QueueInactive:
		return "INACTIVE"
	default:
		return "UNKNOWN"
	}
}

// TaskProcessor handles one work item. Returning an error, or not returning at
// all because the process died, leaves the item queued for redelivery.
type TaskProcessor func(ctx context.Context, item string) error

// WorkQueue is a durable, cluster-wide, pull-based queue with at-least-once processing.
type WorkQueue interface {
	io.Closer

	// AddOne durably enqueues an item.
	AddOne(ctx context.Context, item string) error

	// RegisterTaskProcessor starts pulling items and handing them to fn with at most
	// parallelism concurrent tasks. An item is acknowledged only after fn returns nil.
	RegisterTaskProcessor(fn TaskProcessor, parallelism int) error

	// StopProcessing stops pulling new items. In-flight tasks are left to finish.
	StopProcessing() error

	// Status returns the current status of this queue member.
	Status() QueueStatus

	// AddStatusListener registers a status change callback and returns a function removing it.
	AddStatusListener(fn func(QueueStatus)) (remove func())
}
