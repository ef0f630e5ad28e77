package async

import (
	"context"
	"sync"

	"github.com/telling-msg/telling/internal/lifelock"
	"github.com/telling-msg/telling/internal/queue"
	"github.com/telling-msg/telling/internal/transport"
)

// sendState names the send-loop's position in its state machine (spec
// §4.4): idle before Start, prepared while on_prepare decides whether to
// proceed, in-flight while the transport write is outstanding, stopped
// once terminated.
type sendState int32

const (
	sendIdle sendState = iota
	sendPrepared
	sendInFlight
	sendStopped
)

// SendLoop drains a single-flight send queue.Send into one pipe, invoking
// on_prepare before each write and on_sent after it completes. Submit may
// be called from any goroutine; at most one message is ever in flight.
type SendLoop struct {
	weak  lifelock.Weak[SendHandler]
	pipe  *transport.Pipe
	tag   Tag
	queue queue.Send[[]byte]

	mu      sync.Mutex
	state   sendState
	cancel  context.CancelFunc
	stopped chan struct{}
	ctx     context.Context
	wg      sync.WaitGroup
}

// NewSendLoop builds a send-loop writing to pipe, sourcing on_prepare/
// on_sent callbacks from whatever handler weak currently promotes to.
func NewSendLoop(weak lifelock.Weak[SendHandler], pipe *transport.Pipe, tag Tag) *SendLoop {
	return &SendLoop{weak: weak, pipe: pipe, tag: tag, state: sendIdle}
}

// Start runs on_start, then becomes ready to accept Submit calls.
func (l *SendLoop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.state != sendIdle {
		l.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.ctx = runCtx
	l.stopped = make(chan struct{})
	l.mu.Unlock()

	p, ok := l.weak.Promote()
	if !ok {
		close(l.stopped)
		return
	}
	p.Value().OnStart(l.tag)
	p.Release()
}

// Submit offers msg to the send-loop. If a send is already in flight, msg
// is queued (spec §4.3's single-flight pipeline); otherwise it is sent
// immediately on the calling goroutine's behalf via a background send.
func (l *SendLoop) Submit(msg []byte) {
	if enqueued := l.queue.Produce(msg); enqueued {
		return
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.send(msg)
	}()
}

func (l *SendLoop) send(msg []byte) {
	l.mu.Lock()
	ctx := l.ctx
	l.state = sendPrepared
	l.mu.Unlock()
	if ctx == nil {
		return
	}

	p, ok := l.weak.Promote()
	if !ok {
		l.setState(sendStopped)
		return
	}
	out := msg
	p.Value().OnPrepare(l.tag, &out)
	p.Release()
	if out == nil {
		l.advance()
		return
	}

	l.setState(sendInFlight)
	err := l.pipe.Send(ctx, out)

	p, ok = l.weak.Promote()
	if !ok {
		l.setState(sendStopped)
		return
	}
	if err != nil {
		if ctx.Err() != nil {
			p.Value().OnError(l.tag, err)
			p.Value().OnStop(l.tag, err)
			p.Release()
			l.setState(sendStopped)
			return
		}
		p.Value().OnError(l.tag, err)
		p.Release()
		l.advance()
		return
	}
	p.Value().OnSent(l.tag)
	p.Release()
	l.advance()
}

// advance pulls the next queued message, if any, and sends it; otherwise
// it clears the busy bit, returning the loop to idle between Submits.
func (l *SendLoop) advance() {
	next, ok := l.queue.Consume()
	if !ok {
		return
	}
	l.send(next)
}

func (l *SendLoop) setState(s sendState) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Stop cancels any in-flight send and waits for it to unwind. Idempotent.
func (l *SendLoop) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	l.wg.Wait()
}
