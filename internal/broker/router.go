package broker

import (
	"context"
	"sync"

	"github.com/telling-msg/telling/addr"
	"github.com/telling-msg/telling/internal/transport"
	"github.com/telling-msg/telling/wire"
)

// openRequest and closeRequest are the two queues the management thread
// consumes, each mutating the trie (spec §4.7). The router publishes no
// bulletins; the Broker publishes the `*services` bulletins itself.
type openRequest struct {
	prefix string
	base   addr.Address
	result chan openResult
}

type openResult struct {
	route *Route
	err   error
}

type closeRequest struct {
	prefix string
	done   chan struct{}
}

// Router owns the URI-prefix trie and the single management goroutine
// that is the only thing allowed to mutate it (spec §5's shared-resource
// policy: "only the management thread mutates it").
type Router struct {
	ctx    context.Context
	socket *transport.Socket
	fanOut func(msg *wire.Message)

	mu   sync.RWMutex
	tree *trie

	openCh  chan openRequest
	closeCh chan closeRequest
	done    chan struct{}
}

// NewRouter builds a Router that dials routes through socket and
// republishes interior publications via fanOut.
func NewRouter(ctx context.Context, socket *transport.Socket, fanOut func(msg *wire.Message)) *Router {
	r := &Router{
		ctx:     ctx,
		socket:  socket,
		fanOut:  fanOut,
		tree:    newTrie(),
		openCh:  make(chan openRequest),
		closeCh: make(chan closeRequest),
		done:    make(chan struct{}),
	}
	go r.manage()
	return r
}

func (r *Router) manage() {
	defer close(r.done)
	for {
		select {
		case req, ok := <-r.openCh:
			if !ok {
				return
			}
			route, err := openRoute(r.ctx, r.socket, req.prefix, req.base, r.fanOut)
			if err == nil {
				r.mu.Lock()
				r.tree.insert(req.prefix, route)
				r.mu.Unlock()
			}
			req.result <- openResult{route: route, err: err}
		case req, ok := <-r.closeCh:
			if !ok {
				return
			}
			r.mu.Lock()
			route := r.tree.lookup(req.prefix)
			r.tree.remove(req.prefix)
			r.mu.Unlock()
			if route != nil {
				route.close(r.socket)
			}
			close(req.done)
		case <-r.ctx.Done():
			return
		}
	}
}

// Open dials and installs a Route for prefix, rolling back on any dial
// failure. Blocks until the management thread has processed it.
func (r *Router) Open(prefix string, base addr.Address) (*Route, error) {
	req := openRequest{prefix: prefix, base: base, result: make(chan openResult, 1)}
	select {
	case r.openCh <- req:
	case <-r.ctx.Done():
		return nil, r.ctx.Err()
	}
	res := <-req.result
	return res.route, res.err
}

// Close tears down and removes the Route at prefix, if any. Blocks until
// the management thread has processed it.
func (r *Router) Close(prefix string) {
	req := closeRequest{prefix: prefix, done: make(chan struct{})}
	select {
	case r.closeCh <- req:
	case <-r.ctx.Done():
		return
	}
	<-req.done
}

// Lookup returns the Route installed at the longest matching prefix of
// uri, or nil. Safe to call concurrently with Open/Close.
func (r *Router) Lookup(uri string) *Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tree.lookup(uri)
}

// Shutdown stops the management goroutine.
func (r *Router) Shutdown() {
	close(r.openCh)
	close(r.closeCh)
	<-r.done
}
