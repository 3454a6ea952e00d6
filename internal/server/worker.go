package server

import (
	"context"
	"fmt"
	"runtime/debug"

	"ipcd/internal/logging"
)

// work is the body of one worker.  It runs the handler against its slot
// and always releases the slot afterwards, even if the handler panics;
// a panic is logged and ends only this worker.
func (d *Dispatcher) work(ctx context.Context, offset int, seq uint64) {
	slot := d.slots[offset]
	log := d.sc.Log
	m := d.sc.Metrics

	m.WorkerStarted()
	defer d.workers.Done()
	defer func() {
		slot.Release()
		d.tokens[offset] <- struct{}{}
		m.WorkerFinished()
	}()
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("slot %d: worker #%d panicked: %v", offset, seq, r)
			m.RecordError(msg)
			log.Emit(logging.LevelError, msg+"\n"+string(debug.Stack()), 0, CodeWorker)
		}
	}()

	if peer, ok := slot.Peer(); ok {
		log.Info("slot %d: worker #%d started for %s", offset, seq, peer)
	}

	if err := d.handler.Handle(ctx, slot); err != nil {
		m.RecordError(err.Error())
		log.Emit(logging.LevelWarn, fmt.Sprintf("slot %d: worker #%d: %v", offset, seq, err), logging.Errno(err), CodeWorker)
	}
	log.Info("slot %d: worker #%d finished", offset, seq)
}
