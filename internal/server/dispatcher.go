package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	ipcerr "ipcd/internal/errors"
	"ipcd/internal/handler"
	"ipcd/internal/logging"
	"ipcd/internal/retry"
	"ipcd/internal/session"
	"ipcd/internal/transport"
)

// Context codes for dispatcher log records.
const (
	CodeDenied = iota + 200
	CodeSpawn
	CodeAssign
	CodeBudget
	CodeWorker
)

// Dispatcher assigns authorised connections to a fixed pool of slots and
// starts a worker for each.
//
// Slot selection is round-robin over attempts: a failed attempt (denial
// or spawn failure) is not counted, so the next attempt retries the same
// slot.  Each slot carries an in-use token; the loop takes it before
// accepting into the slot and the slot's worker gives it back after
// releasing the connection, so a slot is never reassigned while its
// previous worker is still running.
type Dispatcher struct {
	sc       *ServerContext
	acceptor transport.Acceptor
	handler  handler.Handler

	slots  []*session.Session
	tokens []chan struct{}
	budget *retry.Budget

	attempts int
	workers  sync.WaitGroup

	// trace, when set, observes every attempt: the slot offset used and
	// whether a worker was started.  Called on the loop goroutine.
	trace func(offset int, accepted bool)
}

// NewDispatcher allocates cfg.MaxConnections empty slots.
func NewDispatcher(sc *ServerContext, acceptor transport.Acceptor, h handler.Handler) (*Dispatcher, error) {
	n := sc.Config.MaxConnections
	if n < 1 {
		return nil, fmt.Errorf("dispatcher: need at least one slot, got %d", n)
	}

	d := &Dispatcher{
		sc:       sc,
		acceptor: acceptor,
		handler:  h,
		slots:    make([]*session.Session, n),
		tokens:   make([]chan struct{}, n),
	}
	for i := range d.slots {
		s, err := session.New(nil, sc.Log)
		if err != nil {
			return nil, err
		}
		s.Slot = i
		d.slots[i] = s
		d.tokens[i] = make(chan struct{}, 1)
		d.tokens[i] <- struct{}{}
	}

	d.budget = retry.NewBudget(&retry.BudgetConfig{
		Initial: sc.Config.FailureBudget,
		OnExhausted: func(spent int) {
			sc.Log.Emit(logging.LevelFatal,
				fmt.Sprintf("failure budget exhausted after %d failures", spent), 0, CodeBudget)
		},
	})
	return d, nil
}

// Budget exposes the failure budget.
func (d *Dispatcher) Budget() *retry.Budget { return d.budget }

// Attempts returns the number of committed attempts.  Only meaningful
// once Run has returned.
func (d *Dispatcher) Attempts() int { return d.attempts }

// Run serves connections until the failure budget is exhausted, in which
// case it returns an error wrapping errors.ErrBudgetExhausted, or until
// ctx is cancelled, in which case it returns ctx.Err().  Workers still
// running when Run returns are not interrupted; see Wait.
func (d *Dispatcher) Run(ctx context.Context) error {
	log := d.sc.Log
	n := len(d.slots)
	log.Info("dispatching on %d slots, failure budget %d", n, d.budget.Initial())

	for !d.budget.Exhausted() {
		if err := ctx.Err(); err != nil {
			return d.stop(err)
		}
		offset := d.attempts % n
		d.attempts++

		if !d.acquire(ctx, offset) {
			d.attempts--
			return d.stop(ctx.Err())
		}

		conn, err := d.acceptor.AcceptAuthorized(ctx)
		if err != nil {
			if ctx.Err() != nil {
				d.attempts--
				d.tokens[offset] <- struct{}{}
				return d.stop(ctx.Err())
			}
			d.sc.Metrics.ConnectionDenied()
			d.fail(offset, fmt.Sprintf("slot %d: no connection: %v", offset, err), err, CodeDenied)
			continue
		}

		slot := d.slots[offset]
		seq, err := slot.Assign(conn)
		if err != nil {
			// The token guarantees an empty slot; reaching this is a bug.
			conn.Close()
			d.fail(offset, err.Error(), err, CodeAssign)
			continue
		}

		d.workers.Add(1)
		if err := d.sc.Spawner.Spawn(func() { d.work(ctx, offset, seq) }); err != nil {
			d.workers.Done()
			d.sc.Metrics.SpawnFailed()
			err = fmt.Errorf("%w: %v", ipcerr.ErrSpawnFailed, err)
			d.fail(offset, fmt.Sprintf("slot %d: %v", offset, err), err, CodeSpawn)
			continue
		}

		d.sc.Metrics.ConnectionAccepted()
		log.Trace("slot %d: connection #%d handed to worker", offset, seq)
		if d.trace != nil {
			d.trace(offset, true)
		}
	}

	return d.stop(fmt.Errorf("%w after %d attempts", ipcerr.ErrBudgetExhausted, d.attempts))
}

// acquire takes the in-use token of slot offset, waiting for its
// previous worker if necessary.  It returns false if ctx ends first.
func (d *Dispatcher) acquire(ctx context.Context, offset int) bool {
	select {
	case <-d.tokens[offset]:
		return true
	default:
	}

	d.sc.Metrics.SlotWait()
	d.sc.Log.Trace("slot %d busy, waiting for its worker", offset)
	select {
	case <-d.tokens[offset]:
		return true
	case <-ctx.Done():
		return false
	}
}

// fail undoes the attempt, spends one unit of budget, and empties the
// slot (closing any connection it holds) before handing its token back.
func (d *Dispatcher) fail(offset int, msg string, err error, code int) {
	d.attempts--
	left := d.budget.Spend()
	d.slots[offset].Release()
	d.tokens[offset] <- struct{}{}

	level := logging.LevelAlert
	if ipcerr.IsRetryable(err) {
		level = logging.LevelWarn
	}
	d.sc.Log.Emit(level, fmt.Sprintf("%s (budget %d left)", msg, left), logging.Errno(err), code)
	if d.trace != nil {
		d.trace(offset, false)
	}
}

func (d *Dispatcher) stop(reason error) error {
	d.sc.Log.Info("dispatch loop stopped after %d attempts: %v", d.attempts, reason)
	return reason
}

// Wait blocks until every worker has finished or timeout elapses, and
// reports whether all workers finished.  A non-positive timeout waits
// indefinitely.
func (d *Dispatcher) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		d.workers.Wait()
		close(done)
	}()

	if timeout <= 0 {
		<-done
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		d.sc.Log.Warn("%d workers still running after %s", d.sc.Metrics.ActiveWorkers(), timeout)
		return false
	}
}
