// Package async implements the recv-loop and send-loop state machines that
// every telling communicator is built on: a goroutine wrapping a
// transport.Pipe, invoking typed handler callbacks and holding its handler
// only weakly so a life-lock elsewhere can tear it down safely.
package async

// Tag is passed to every handler callback. QueryID identifies which
// outstanding request or pending reply this callback concerns; it is
// stable for the lifetime of one query and recyclable afterward.
//
// Tag does not carry the spec's optional "SendPrompt" inline-reply slot
// (a handler supplying its next outbound message synchronously from
// OnSent, skipping a trip through the send queue): spec §9 allows routing
// everything through the queue instead as long as ordering is preserved,
// and every communicator here does exactly that via queue.Send.
type Tag struct {
	QueryID uint64
}

// Handler is the lifecycle capability set every driver handler implements.
type Handler interface {
	// OnStart runs exactly once before any OnRecv/OnSent.
	OnStart(tag Tag)
	// OnStop runs exactly once on orderly termination.
	OnStop(tag Tag, err error)
	// OnError reports a failure. A recv-loop stops after it (every Recv
	// error ends the loop); a send-loop goes on with the next queued
	// message.
	OnError(tag Tag, err error)
}

// RecvHandler is Handler extended with OnRecv, driving a recv-loop.
type RecvHandler interface {
	Handler
	OnRecv(tag Tag, msg []byte)
}

// SendHandler is Handler extended with the send-loop's prepare/sent
// pair.
type SendHandler interface {
	Handler
	// OnPrepare is called with the message about to be sent; setting *msg
	// to nil skips the send entirely.
	OnPrepare(tag Tag, msg *[]byte)
	OnSent(tag Tag)
}

// QueryHandler combines send and recv for client-side requests: a Request
// communicator submits a message (OnPrepare/OnSent) then awaits exactly
// one reply (OnRecv) before the query id recycles.
type QueryHandler interface {
	Handler
	OnPrepare(tag Tag, msg *[]byte)
	OnSent(tag Tag)
	OnRecv(tag Tag, msg []byte)
}

// RespondHandler combines recv and send for server-side replies: a Reply
// communicator receives a request (OnRecv) then eventually sends a
// response (OnPrepare/OnSent) for the same query id.
type RespondHandler interface {
	Handler
	OnRecv(tag Tag, msg []byte)
	OnPrepare(tag Tag, msg *[]byte)
	OnSent(tag Tag)
}
