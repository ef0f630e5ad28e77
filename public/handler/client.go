package handler

import (
	"context"
	"time"

	"github.com/telling-msg/telling/public/client"
	"github.com/telling-msg/telling/wire"
)

// ClientHandler reacts to the events a dialed-in client sees from its
// Subscribe communicator, plus the errors its Push communicator can
// raise while draining its queue. Request is a synchronous call (see
// Client.Request) and has no event of its own. The error hooks default
// to empty via BaseClientHandler.
type ClientHandler interface {
	OnPublish(msg *wire.Message)
	OnPushError(err error)
}

// BaseClientHandler supplies an empty error hook for embedding.
type BaseClientHandler struct{}

func (BaseClientHandler) OnPushError(error) {}

type pushJob struct {
	method wire.Method
	uri    string
	body   []byte
}

// Client drives a ClientHandler from live Request/Push/Subscribe
// communicators: it owns the loop that turns Subscribe.Consume polling
// into publish-event dispatch, and a push queue that serializes outbound
// pushes onto Push's single send loop.
type Client struct {
	h         ClientHandler
	request   *client.Request
	push      *client.Push
	subscribe *client.Subscribe

	pushCh chan pushJob
	done   chan struct{}
}

// NewClient adopts already-dialed communicators and, if push is non-nil,
// starts the push queue's send loop. Each of request, push, and
// subscribe may be nil if this client does not use that pattern.
func NewClient(h ClientHandler, request *client.Request, push *client.Push, subscribe *client.Subscribe) *Client {
	c := &Client{
		h:         h,
		request:   request,
		push:      push,
		subscribe: subscribe,
		pushCh:    make(chan pushJob, 64),
		done:      make(chan struct{}),
	}
	if push != nil {
		go c.pushLoop()
	}
	return c
}

// Run drives the subscribe communicator's consume loop, dispatching each
// matching publication to h.OnPublish, until ctx is done. If this client
// has no Subscribe communicator, Run just blocks until ctx is done.
func (c *Client) Run(ctx context.Context) {
	if c.subscribe == nil {
		<-ctx.Done()
		return
	}
	for {
		if msg, ok := c.subscribe.Consume(); ok {
			c.h.OnPublish(msg)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Millisecond):
		}
	}
}

// Request issues a synchronous request and blocks for its reply, or
// until ctx is done. It forwards directly to the underlying Request
// communicator: a one-shot call has no queueing concern of its own.
func (c *Client) Request(ctx context.Context, method wire.Method, uri string, body []byte) (*wire.Message, error) {
	return c.request.Call(ctx, method, uri, body)
}

// Push enqueues a push to be sent through this client's Push
// communicator, serialized behind the push queue.
func (c *Client) Push(method wire.Method, uri string, body []byte) {
	select {
	case c.pushCh <- pushJob{method, uri, body}:
	case <-c.done:
	}
}

func (c *Client) pushLoop() {
	for {
		select {
		case job := <-c.pushCh:
			if err := c.push.Send(job.method, job.uri, job.body); err != nil {
				c.h.OnPushError(err)
			}
		case <-c.done:
			return
		}
	}
}

// Close stops the push queue's loop. It does not close the underlying
// communicators; callers retain ownership of those and must Close them
// separately.
func (c *Client) Close() {
	close(c.done)
}
