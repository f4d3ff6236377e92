// Package access guards a configuration value behind one of three
// disciplines: no lock, one exclusive lock, or a reader/writer lock.
//
// Read and write access are scoped: every successful acquisition returns a
// Release that must be called exactly once. Use Read and Write to run a
// function under access; they release on every exit path and poison the
// discipline when a panic unwinds through a write.
package access

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/artpar/choices/core/schema"
	"golang.org/x/sync/semaphore"
)

// ErrPoisoned is returned once a writer panicked while holding access.
var ErrPoisoned = errors.New("access poisoned by an earlier panic")

// Op names an acquisition.
type Op string

const (
	OpRead  Op = "read"
	OpWrite Op = "write"
)

// Error reports a failed acquisition.
type Error struct {
	Op   Op
	Kind schema.LockKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("acquire %s access (%s lock): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Canceled reports whether the acquisition was abandoned because the
// caller's context ended, as opposed to a broken lock.
func (e *Error) Canceled() bool {
	return errors.Is(e.Err, context.Canceled) || errors.Is(e.Err, context.DeadlineExceeded)
}

// Release ends a scoped acquisition.
type Release func()

// Discipline is an access strategy selected once per compiled struct.
type Discipline interface {
	Kind() schema.LockKind

	// AcquireRead blocks until read access is granted or ctx ends.
	AcquireRead(ctx context.Context) (Release, error)

	// AcquireWrite blocks until write access is granted or ctx ends.
	AcquireWrite(ctx context.Context) (Release, error)

	// Poison marks the discipline broken. Later acquisitions fail.
	Poison()

	Poisoned() bool
}

// New returns the discipline for kind.
func New(kind schema.LockKind) (Discipline, error) {
	switch kind {
	case schema.LockNone:
		return None{}, nil
	case schema.LockExclusive:
		return NewExclusive(), nil
	case schema.LockReadWrite:
		return NewReadWrite(), nil
	default:
		return nil, fmt.Errorf("unknown lock kind %d", kind)
	}
}

// Read runs fn with read access held.
func Read(ctx context.Context, d Discipline, fn func() error) error {
	release, err := d.AcquireRead(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// Write runs fn with write access held. If fn panics the discipline is
// poisoned before the panic continues.
func Write(ctx context.Context, d Discipline, fn func() error) error {
	release, err := d.AcquireWrite(ctx)
	if err != nil {
		return err
	}

	done := false
	defer func() {
		if !done {
			d.Poison()
		}
		release()
	}()

	err = fn()
	done = true
	return err
}

func noop() {}

// None performs no locking. The host guarantees exclusive or read-only
// access by construction.
type None struct{}

var _ Discipline = None{}

func (None) Kind() schema.LockKind { return schema.LockNone }

func (None) AcquireRead(context.Context) (Release, error)  { return noop, nil }
func (None) AcquireWrite(context.Context) (Release, error) { return noop, nil }

func (None) Poison()        {}
func (None) Poisoned() bool { return false }

// poison is shared by the locking disciplines.
type poison struct {
	flag atomic.Bool
}

func (p *poison) Poison()        { p.flag.Store(true) }
func (p *poison) Poisoned() bool { return p.flag.Load() }

// acquire takes n units of sem and re-checks the poison flag once granted.
func (p *poison) acquire(ctx context.Context, sem *semaphore.Weighted, n int64, op Op, kind schema.LockKind) (Release, error) {
	if p.Poisoned() {
		return nil, &Error{Op: op, Kind: kind, Err: ErrPoisoned}
	}
	if err := sem.Acquire(ctx, n); err != nil {
		return nil, &Error{Op: op, Kind: kind, Err: err}
	}
	if p.Poisoned() {
		sem.Release(n)
		return nil, &Error{Op: op, Kind: kind, Err: ErrPoisoned}
	}

	var released atomic.Bool
	return func() {
		if released.CompareAndSwap(false, true) {
			sem.Release(n)
		}
	}, nil
}

// Exclusive serializes every read and write behind one lock.
type Exclusive struct {
	poison
	sem *semaphore.Weighted
}

var _ Discipline = (*Exclusive)(nil)

func NewExclusive() *Exclusive {
	return &Exclusive{sem: semaphore.NewWeighted(1)}
}

func (*Exclusive) Kind() schema.LockKind { return schema.LockExclusive }

func (e *Exclusive) AcquireRead(ctx context.Context) (Release, error) {
	return e.acquire(ctx, e.sem, 1, OpRead, schema.LockExclusive)
}

func (e *Exclusive) AcquireWrite(ctx context.Context) (Release, error) {
	return e.acquire(ctx, e.sem, 1, OpWrite, schema.LockExclusive)
}

// MaxReaders bounds concurrent readers under ReadWrite.
const MaxReaders = 1 << 20

// ReadWrite lets readers share access while writers hold it alone.
// Waiters are served in FIFO order so a queued writer is not starved by
// a stream of readers.
type ReadWrite struct {
	poison
	sem *semaphore.Weighted
}

var _ Discipline = (*ReadWrite)(nil)

func NewReadWrite() *ReadWrite {
	return &ReadWrite{sem: semaphore.NewWeighted(MaxReaders)}
}

func (*ReadWrite) Kind() schema.LockKind { return schema.LockReadWrite }

func (rw *ReadWrite) AcquireRead(ctx context.Context) (Release, error) {
	return rw.acquire(ctx, rw.sem, 1, OpRead, schema.LockReadWrite)
}

func (rw *ReadWrite) AcquireWrite(ctx context.Context) (Release, error) {
	return rw.acquire(ctx, rw.sem, MaxReaders, OpWrite, schema.LockReadWrite)
}
