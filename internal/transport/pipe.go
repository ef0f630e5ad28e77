package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
)

// frameHeaderLen is the length of the length-prefix telling adds in front
// of every wire envelope so that a single byte stream can carry more than
// one message. nng's own transports frame messages internally; net.Conn
// gives us a raw byte stream, so Pipe reproduces that framing explicitly.
const frameHeaderLen = 4

// maxFrameLen bounds a single framed message, guarding against a
// corrupted or hostile length prefix driving an unbounded allocation.
const maxFrameLen = 64 << 20

var nextPipeID atomic.Uint32

// Pipe wraps one net.Conn carrying length-framed telling envelopes,
// standing in for an nng pipe (spec §6's socket/context/AIO collaborator).
type Pipe struct {
	id   uint32
	conn net.Conn
	r    *bufio.Reader

	closeOnce sync.Once
}

func newPipe(conn net.Conn) *Pipe {
	return &Pipe{
		id:   nextPipeID.Add(1),
		conn: conn,
		r:    bufio.NewReader(conn),
	}
}

// ID is a stable integer identifying this pipe for its lifetime, suitable
// for use as part of a query id or log correlation field.
func (p *Pipe) ID() uint32 { return p.id }

// Close closes the underlying connection. Idempotent.
func (p *Pipe) Close() error {
	var err error
	p.closeOnce.Do(func() { err = p.conn.Close() })
	return err
}

// Send writes one framed message. Honors ctx cancellation by racing the
// write against ctx.Done and closing the pipe if ctx wins, since net.Conn
// offers no native per-call cancellation.
func (p *Pipe) Send(ctx context.Context, body []byte) error {
	if len(body) > maxFrameLen {
		return fmt.Errorf("transport: message of %d bytes exceeds frame limit", len(body))
	}
	done := make(chan error, 1)
	go func() {
		var hdr [frameHeaderLen]byte
		binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
		if _, err := p.conn.Write(hdr[:]); err != nil {
			done <- err
			return
		}
		_, err := p.conn.Write(body)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		p.Close()
		return ctx.Err()
	}
}

// Recv reads one framed message, blocking until it arrives, the pipe
// closes, or ctx is cancelled.
func (p *Pipe) Recv(ctx context.Context) ([]byte, error) {
	type result struct {
		body []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		var hdr [frameHeaderLen]byte
		if _, err := io.ReadFull(p.r, hdr[:]); err != nil {
			done <- result{nil, err}
			return
		}
		n := binary.BigEndian.Uint32(hdr[:])
		if n > maxFrameLen {
			done <- result{nil, fmt.Errorf("transport: frame length %d exceeds limit", n)}
			return
		}
		body := make([]byte, n)
		if _, err := io.ReadFull(p.r, body); err != nil {
			done <- result{nil, err}
			return
		}
		done <- result{body, nil}
	}()
	select {
	case r := <-done:
		return r.body, r.err
	case <-ctx.Done():
		p.Close()
		return nil, ctx.Err()
	}
}
