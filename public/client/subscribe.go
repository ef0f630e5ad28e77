package client

import (
	"context"
	"log"
	"strings"

	"github.com/telling-msg/telling/addr"
	"github.com/telling-msg/telling/internal/async"
	"github.com/telling-msg/telling/internal/lifelock"
	"github.com/telling-msg/telling/internal/queue"
	"github.com/telling-msg/telling/internal/transport"
	"github.com/telling-msg/telling/wire"
)

// Subscribe is the client side of pub/sub: a recv-loop fed from the
// broker's publication relay, with a byte-prefix topic filter.
//
// nng's sub socket sets SUB_SUBSCRIBE as a kernel-side socket option so
// non-matching messages never reach the process. telling's pipe has no
// such option, and the filter itself never crosses the wire: the broker
// fans every publication out to every connected subscriber pipe, and
// filtering happens entirely here in the handler.
type Subscribe struct {
	Debug bool
	log   *log.Logger

	pipe     *transport.Pipe
	socket   *transport.Socket
	recvLoop *async.RecvLoop
	filter   string
	inbox    *queue.Recv[*wire.Message]
}

func (s *Subscribe) debugf(format string, args ...interface{}) {
	if s.Debug {
		s.log.Printf(format, args...)
	}
}

type subscribeHandler struct {
	filter string
	inbox  *queue.Recv[*wire.Message]
	debug  func(format string, args ...interface{})
}

func (h *subscribeHandler) OnStart(async.Tag)        {}
func (h *subscribeHandler) OnStop(async.Tag, error)  {}
func (h *subscribeHandler) OnError(async.Tag, error) {}

func (h *subscribeHandler) OnRecv(tag async.Tag, raw []byte) {
	msg, err := wire.Parse(raw)
	if err != nil {
		return
	}
	if h.filter != "" && !strings.HasPrefix(msg.URI, h.filter) {
		return
	}
	h.inbox.Push(msg)
	if h.debug != nil {
		h.debug("matched publication %s", msg.URI)
	}
}

// DialSubscribe dials the broker's pub/sub endpoint derived from base,
// subscribing to publications whose URI begins with filter (an empty
// filter matches everything).
func DialSubscribe(ctx context.Context, socket *transport.Socket, base addr.Address, filter string, debug bool) (*Subscribe, error) {
	pipe, err := socket.Dial(ctx, base, addr.PubSub)
	if err != nil {
		return nil, err
	}
	s := &Subscribe{
		Debug:  debug,
		log:    newLogger("subscribe"),
		pipe:   pipe,
		socket: socket,
		filter: filter,
		inbox:  &queue.Recv[*wire.Message]{},
	}
	h := &subscribeHandler{filter: filter, inbox: s.inbox, debug: s.debugf}
	wrapper := lifelock.NewWrapper[async.RecvHandler](h)
	s.recvLoop = async.NewRecvLoop(wrapper.Weak(), pipe, async.Tag{})
	s.recvLoop.Start(ctx)
	s.log.Printf("dialed %s filter %q", base, filter)
	return s, nil
}

// Consume pulls the next matching publication, if any has arrived.
func (s *Subscribe) Consume() (*wire.Message, bool) {
	return s.inbox.Pull()
}

// Close stops the recv loop and drops the underlying pipe.
func (s *Subscribe) Close() {
	s.recvLoop.Stop()
	s.socket.Drop(s.pipe)
	s.log.Printf("closed")
}
