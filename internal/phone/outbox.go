package phone

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// outboxSize bounds the publishes and backend commands waiting behind a
// slow broker.
const outboxSize = 64

// outbox runs publishes and call backend commands on one worker goroutine,
// in submission order, so a stalled broker never holds up the consumer.
type outbox struct {
	jobs    chan func()
	stopped chan struct{}
	pending atomic.Int64
	dropped atomic.Uint64
	log     *zap.SugaredLogger
}

func newOutbox(size int, log *zap.SugaredLogger) *outbox {
	return &outbox{
		jobs:    make(chan func(), size),
		stopped: make(chan struct{}),
		log:     log,
	}
}

// submit queues job without blocking. It returns false when the outbox is
// full and the job was dropped.
func (o *outbox) submit(what string, job func()) bool {
	o.pending.Add(1)
	select {
	case o.jobs <- job:
		return true
	default:
		o.pending.Add(-1)
		n := o.dropped.Add(1)
		o.log.Errorw("outbox full, dropping", "job", what, "dropped", n)
		return false
	}
}

// run executes jobs until close.
func (o *outbox) run() {
	defer close(o.stopped)
	for job := range o.jobs {
		o.exec(job)
	}
}

// flush executes queued jobs on the calling goroutine and reports whether
// there were any.
func (o *outbox) flush() bool {
	ran := false
	for {
		select {
		case job := <-o.jobs:
			o.exec(job)
			ran = true
		default:
			return ran
		}
	}
}

// close stops accepting jobs and waits for run to finish the queued ones.
func (o *outbox) close() {
	close(o.jobs)
	<-o.stopped
}

func (o *outbox) exec(job func()) {
	defer o.pending.Add(-1)
	job()
}

func (o *outbox) idle() bool {
	return o.pending.Load() == 0
}
