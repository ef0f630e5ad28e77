package broker

import (
	"fmt"
	"strings"
	"sync"

	"github.com/telling-msg/telling/addr"
	"github.com/telling-msg/telling/wire"
)

// servicesURI is the well-known registration endpoint and the topic
// other clients watch for Created/Gone bulletins (spec §4.6).
const servicesURI = "*services"

// entryStatus is a RegistrationEntry's position in its lifecycle (spec
// §3's data model).
type entryStatus int

const (
	entryInitial entryStatus = iota
	entryRequested
	entryEnlisted
	entryFailed
)

// RegistrationEntry tracks one enlisted service: its URI prefix, the pipe
// that enlisted it, the broker-side Route once dialed, and its lifecycle
// status. Owned by the broker; its lifetime is bounded by the enlisting
// pipe staying up (spec §3).
type RegistrationEntry struct {
	Prefix string
	PipeID uint32
	Route  *Route
	Status entryStatus
}

// Registrar handles enlist requests and tracks liveness by pipe id, so
// that a departing pipe can tear down the Route it brought up.
type Registrar struct {
	router *Router

	mu       sync.Mutex
	byPrefix map[string]*RegistrationEntry
	byPipe   map[uint32]*RegistrationEntry
}

// NewRegistrar returns a Registrar that installs and removes Routes
// through router.
func NewRegistrar(router *Router) *Registrar {
	return &Registrar{
		router:   router,
		byPrefix: map[string]*RegistrationEntry{},
		byPipe:   map[uint32]*RegistrationEntry{},
	}
}

// HandleEnlist processes one request arriving at the registration
// endpoint, returning the reply to send back on the same pipe.
func (r *Registrar) HandleEnlist(pipeID uint32, req *wire.Message) *wire.Message {
	if req.URI != servicesURI {
		return wire.NewReply(wire.StatusNotFound, []byte("not the registration endpoint"))
	}
	if req.Method != wire.POST {
		return wire.NewReply(wire.StatusBadRequest, []byte("registration requires POST"))
	}

	lines := strings.SplitN(string(req.Body), "\n", 2)
	prefix := strings.TrimSpace(lines[0])
	if prefix == "" {
		return wire.NewReply(wire.StatusBadRequest, []byte("missing service URI prefix"))
	}

	r.mu.Lock()
	if _, exists := r.byPrefix[prefix]; exists {
		r.mu.Unlock()
		return wire.NewReply(wire.StatusConflict, []byte(fmt.Sprintf("%s already registered", prefix)))
	}
	entry := &RegistrationEntry{Prefix: prefix, PipeID: pipeID, Status: entryRequested}
	r.byPrefix[prefix] = entry
	r.byPipe[pipeID] = entry
	r.mu.Unlock()

	base := addr.InprocAddr(prefix)
	route, err := r.router.Open(prefix, base)
	if err != nil {
		r.mu.Lock()
		entry.Status = entryFailed
		delete(r.byPrefix, prefix)
		delete(r.byPipe, pipeID)
		r.mu.Unlock()
		return wire.NewReply(wire.StatusServiceUnavailable, []byte(err.Error()))
	}

	r.mu.Lock()
	entry.Route = route
	entry.Status = entryEnlisted
	r.mu.Unlock()

	return wire.NewReply(wire.StatusCreated, []byte(prefix+" enlisted"))
}

// HandlePipeGone tears down whatever registration entry was brought up by
// pipeID, if any, and reports whether a bulletin should be published.
func (r *Registrar) HandlePipeGone(pipeID uint32) (prefix string, hadEntry bool) {
	r.mu.Lock()
	entry, ok := r.byPipe[pipeID]
	if ok {
		delete(r.byPipe, pipeID)
		delete(r.byPrefix, entry.Prefix)
	}
	r.mu.Unlock()
	if !ok {
		return "", false
	}
	r.router.Close(entry.Prefix)
	return entry.Prefix, true
}

// Entries returns a snapshot of currently enlisted prefixes, for the
// `*services` topic's initial state or diagnostics.
func (r *Registrar) Entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.byPrefix))
	for prefix := range r.byPrefix {
		out = append(out, prefix)
	}
	return out
}
