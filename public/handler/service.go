// Package handler gives service and client code an event-driven façade
// over the public/client and public/service communicators, in place of
// manually polling Consume or looping on Receive (spec §4.9).
package handler

import (
	"context"
	"sync"
	"time"

	"github.com/telling-msg/telling/public/service"
	"github.com/telling-msg/telling/wire"
)

// ServiceHandler reacts to the two events a registered service sees:
// pulled (fire-and-forget) requests and request/reply exchanges. The
// error hooks default to empty via BaseServiceHandler so a type can
// implement only the events it cares about.
type ServiceHandler interface {
	OnPull(req *wire.Message)
	OnReply(req *wire.Message) (status wire.Status, body []byte, allow []wire.Method)
	OnPullError(err error)
	OnReplyError(err error)
	OnPublishError(err error)
}

// BaseServiceHandler supplies empty error hooks for embedding.
type BaseServiceHandler struct{}

func (BaseServiceHandler) OnPullError(error)    {}
func (BaseServiceHandler) OnReplyError(error)   {}
func (BaseServiceHandler) OnPublishError(error) {}

type publishJob struct {
	uri    string
	status wire.Status
	body   []byte
}

// Service drives a ServiceHandler from live Reply/Pull/Publish
// communicators. It owns the loops that turn Receive/Consume polling into
// event dispatch, and a publish queue that serializes outbound
// publications onto Publish's single send loop.
type Service struct {
	h       ServiceHandler
	reply   *service.Reply
	pull    *service.Pull
	publish *service.Publish

	publishCh chan publishJob
	done      chan struct{}
}

// NewService adopts already-dialed communicators and, if publish is
// non-nil, starts the publish queue's send loop. reply and pull may each
// be nil if this service does not participate in that pattern; Run then
// skips the matching loop.
func NewService(h ServiceHandler, reply *service.Reply, pull *service.Pull, publish *service.Publish) *Service {
	s := &Service{
		h:         h,
		reply:     reply,
		pull:      pull,
		publish:   publish,
		publishCh: make(chan publishJob, 64),
		done:      make(chan struct{}),
	}
	if publish != nil {
		go s.publishLoop()
	}
	return s
}

// Run drives the reply and pull receive loops until ctx is done. Call it
// from its own goroutine; it blocks until both loops exit.
func (s *Service) Run(ctx context.Context) {
	var wg sync.WaitGroup
	if s.reply != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runReply(ctx)
		}()
	}
	if s.pull != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runPull(ctx)
		}()
	}
	wg.Wait()
}

func (s *Service) runReply(ctx context.Context) {
	for {
		req, err := s.reply.Receive(ctx)
		if err != nil {
			s.h.OnReplyError(err)
			return
		}
		status, body, allow := s.h.OnReply(req)
		if err := s.reply.RespondAllow(req, status, body, allow); err != nil {
			s.h.OnReplyError(err)
		}
	}
}

func (s *Service) runPull(ctx context.Context) {
	for {
		if msg, ok := s.pull.Consume(); ok {
			s.h.OnPull(msg)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Millisecond):
		}
	}
}

// Publish enqueues a publication to be sent through this service's
// Publish communicator, serialized behind the publish queue.
func (s *Service) Publish(uri string, status wire.Status, body []byte) {
	select {
	case s.publishCh <- publishJob{uri, status, body}:
	case <-s.done:
	}
}

func (s *Service) publishLoop() {
	for {
		select {
		case job := <-s.publishCh:
			if err := s.publish.Publish(job.uri, job.status, job.body); err != nil {
				s.h.OnPublishError(err)
			}
		case <-s.done:
			return
		}
	}
}

// Close stops the publish queue's loop. It does not close the underlying
// communicators; callers retain ownership of those and must Close them
// separately.
func (s *Service) Close() {
	close(s.done)
}
