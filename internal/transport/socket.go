package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/telling-msg/telling/addr"
)

// PipeEvent identifies a pipe lifecycle transition a Socket reports to its
// registered handler, matching the add_pre/add_post/rem_post events spec
// §6 expects from the transport collaborator.
type PipeEvent int

const (
	// PipeAddPre fires just before a newly accepted or dialed pipe is
	// handed to the caller.
	PipeAddPre PipeEvent = iota
	// PipeAddPost fires once the pipe is fully registered and usable.
	PipeAddPost
	// PipeRemPost fires once a pipe has been removed and closed.
	PipeRemPost
)

func (e PipeEvent) String() string {
	switch e {
	case PipeAddPre:
		return "add_pre"
	case PipeAddPost:
		return "add_post"
	case PipeRemPost:
		return "rem_post"
	default:
		return "unknown"
	}
}

// Socket owns a set of live pipes and reports their comings and goings, the
// minimal surface spec §6 asks of a transport collaborator's socket.
type Socket struct {
	mu       sync.Mutex
	pipes    map[uint32]*Pipe
	onEvent  func(PipeEvent, *Pipe)
	pipeOpen bool
}

// NewSocket returns an empty Socket with no pipes.
func NewSocket() *Socket {
	return &Socket{pipes: map[uint32]*Pipe{}}
}

// OnPipeEvent registers the callback invoked on every pipe add/remove.
// Must be called before Listen/Dial to avoid missing early events.
func (s *Socket) OnPipeEvent(fn func(PipeEvent, *Pipe)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvent = fn
}

func (s *Socket) fire(ev PipeEvent, p *Pipe) {
	s.mu.Lock()
	fn := s.onEvent
	s.mu.Unlock()
	if fn != nil {
		fn(ev, p)
	}
}

func (s *Socket) adopt(conn net.Conn) *Pipe {
	p := newPipe(conn)
	s.fire(PipeAddPre, p)
	s.mu.Lock()
	s.pipes[p.id] = p
	s.mu.Unlock()
	s.fire(PipeAddPost, p)
	return p
}

// Drop removes p from the socket's live set and closes it, firing
// PipeRemPost. Safe to call more than once for the same pipe.
func (s *Socket) Drop(p *Pipe) {
	s.mu.Lock()
	_, ok := s.pipes[p.id]
	delete(s.pipes, p.id)
	s.mu.Unlock()
	if !ok {
		return
	}
	p.Close()
	s.fire(PipeRemPost, p)
}

// Pipes returns a snapshot of currently live pipes.
func (s *Socket) Pipes() []*Pipe {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Pipe, 0, len(s.pipes))
	for _, p := range s.pipes {
		out = append(out, p)
	}
	return out
}

// Len reports the current live-pipe count (spec §3 "live-connection
// count").
func (s *Socket) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pipes)
}

// Dial connects to a listener at the given base address and pattern,
// adopting the resulting pipe into this socket.
func (s *Socket) Dial(ctx context.Context, base addr.Address, pattern addr.Pattern) (*Pipe, error) {
	network, target := base.NetTarget(pattern)
	var conn net.Conn
	var err error
	switch network {
	case "inproc":
		conn, err = globalInproc.dial(target)
	default:
		var d net.Dialer
		conn, err = d.DialContext(ctx, network, target)
	}
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", base.URI(pattern), err)
	}
	return s.adopt(conn), nil
}

// Listener accepts inbound connections for one address/pattern and adopts
// each into its owning Socket.
type Listener struct {
	socket *Socket
	ln     net.Listener
	inproc <-chan net.Conn
	stop   func()
}

// Listen opens a listener at the given base address and pattern. Accepted
// connections are adopted into the socket automatically by a background
// goroutine; call Pipes/OnPipeEvent to observe them.
func (s *Socket) Listen(base addr.Address, pattern addr.Pattern) (*Listener, error) {
	network, target := base.NetTarget(pattern)
	l := &Listener{socket: s}
	if network == "inproc" {
		ch, unregister, err := globalInproc.listen(target)
		if err != nil {
			return nil, err
		}
		l.inproc = ch
		l.stop = unregister
		go l.acceptInproc()
		return l, nil
	}

	ln, err := net.Listen(network, target)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", base.URI(pattern), err)
	}
	l.ln = ln
	go l.acceptLoop()
	return l, nil
}

func (l *Listener) acceptLoop() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return
		}
		l.socket.adopt(conn)
	}
}

func (l *Listener) acceptInproc() {
	for conn := range l.inproc {
		l.socket.adopt(conn)
	}
}

// Close stops accepting new connections. Already-adopted pipes are
// unaffected.
func (l *Listener) Close() error {
	if l.stop != nil {
		l.stop()
	}
	if l.ln != nil {
		return l.ln.Close()
	}
	return nil
}
