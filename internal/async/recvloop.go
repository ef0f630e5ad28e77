package async

import (
	"context"
	"sync"

	"github.com/telling-msg/telling/internal/lifelock"
	"github.com/telling-msg/telling/internal/transport"
)

// recvState names the recv-loop's position in its state machine (spec
// §4.4): idle before Start, armed while waiting on the transport, briefly
// delivering while a handler callback runs, and stopped once terminated.
type recvState int32

const (
	recvIdle recvState = iota
	recvArmed
	recvDelivering
	recvStopped
)

// RecvLoop repeatedly reads one message from a pipe and delivers it to a
// weakly-held handler, re-arming after every delivery, until a Recv
// error, Stop or cancellation of its context ends it, or the handler can
// no longer be promoted.
type RecvLoop struct {
	weak lifelock.Weak[RecvHandler]
	pipe *transport.Pipe
	tag  Tag

	mu      sync.Mutex
	state   recvState
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewRecvLoop builds a recv-loop over pipe, delivering to whatever handler
// weak currently promotes to.
func NewRecvLoop(weak lifelock.Weak[RecvHandler], pipe *transport.Pipe, tag Tag) *RecvLoop {
	return &RecvLoop{weak: weak, pipe: pipe, tag: tag, state: recvIdle}
}

// Start runs on_start once then begins the recv-arm-deliver cycle on a
// background goroutine. ctx bounds the loop's lifetime in addition to Stop.
func (l *RecvLoop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.state != recvIdle {
		l.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.stopped = make(chan struct{})
	l.state = recvArmed
	l.mu.Unlock()

	p, ok := l.weak.Promote()
	if !ok {
		close(l.stopped)
		return
	}
	p.Value().OnStart(l.tag)
	p.Release()

	go l.run(runCtx)
}

func (l *RecvLoop) run(ctx context.Context) {
	defer close(l.stopped)
	for {
		msg, err := l.pipe.Recv(ctx)

		p, ok := l.weak.Promote()
		if !ok {
			l.setState(recvStopped)
			return
		}

		if err != nil {
			// Any Recv error is terminal, whether or not ctx was the cause:
			// a broken pipe (reset connection, EOF) returns the same error
			// on every subsequent Recv, so looping back in would busy-spin
			// forever instead of surfacing the pipe as gone.
			p.Value().OnError(l.tag, err)
			p.Value().OnStop(l.tag, err)
			p.Release()
			l.setState(recvStopped)
			return
		}

		l.setState(recvDelivering)
		p.Value().OnRecv(l.tag, msg)
		p.Release()
		l.setState(recvArmed)
	}
}

func (l *RecvLoop) setState(s recvState) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Stop cancels the in-flight operation and waits for the loop to
// terminate. Idempotent.
func (l *RecvLoop) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	stopped := l.stopped
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if stopped != nil {
		<-stopped
	}
}
