package handler

import "github.com/telling-msg/telling/wire"

// Reactor dispatches an incoming request to the callback matching its
// method, replying 501 Not Implemented with an Allow header when no
// callback is set for that method. It implements the OnReply half of
// ServiceHandler; pair it with BaseServiceHandler and an OnPull to get a
// complete handler, or embed it in a larger type.
type Reactor struct {
	OnGet     func(req *wire.Message) (wire.Status, []byte)
	OnHead    func(req *wire.Message) (wire.Status, []byte)
	OnPost    func(req *wire.Message) (wire.Status, []byte)
	OnPut     func(req *wire.Message) (wire.Status, []byte)
	OnDelete  func(req *wire.Message) (wire.Status, []byte)
	OnConnect func(req *wire.Message) (wire.Status, []byte)
	OnOptions func(req *wire.Message) (wire.Status, []byte)
	OnTrace   func(req *wire.Message) (wire.Status, []byte)
	OnPatch   func(req *wire.Message) (wire.Status, []byte)

	// Allowed reports the methods a URI supports, used to build the Allow
	// header on an unimplemented-method reply. A nil Allowed, or one that
	// returns no methods, leaves the Allow header off the reply.
	Allowed func(uri string) []wire.Method
}

// OnReply resolves req.Method to a callback and runs it, or reports 501
// with the URI's allowed methods if none is set.
func (rx *Reactor) OnReply(req *wire.Message) (status wire.Status, body []byte, allow []wire.Method) {
	if fn := rx.methodHandler(req.Method); fn != nil {
		status, body = fn(req)
		return status, body, nil
	}
	if rx.Allowed != nil {
		allow = rx.Allowed(req.URI)
	}
	return wire.StatusNotImplemented, []byte("method " + string(req.Method) + " not implemented for " + req.URI), allow
}

func (rx *Reactor) methodHandler(m wire.Method) func(*wire.Message) (wire.Status, []byte) {
	switch m {
	case wire.GET:
		return rx.OnGet
	case wire.HEAD:
		return rx.OnHead
	case wire.POST:
		return rx.OnPost
	case wire.PUT:
		return rx.OnPut
	case wire.DELETE:
		return rx.OnDelete
	case wire.CONNECT:
		return rx.OnConnect
	case wire.OPTIONS:
		return rx.OnOptions
	case wire.TRACE:
		return rx.OnTrace
	case wire.PATCH:
		return rx.OnPatch
	default:
		return nil
	}
}
