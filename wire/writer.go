package wire

import (
	"strconv"
	"strings"
)

// writerPhase tracks the three-phase state machine a Writer moves through:
// start-line, then headers, then body (spec §4.2).
type writerPhase int

const (
	phaseEmpty writerPhase = iota
	phaseStarted
	phaseHeadersClosed
)

// Writer assembles a wire envelope incrementally: a start-line, then
// headers, then a body, in that order. Each Writer is single-use between
// calls to Release, after which it resets to empty and may be reused for
// the next message.
type Writer struct {
	protocol string
	phase    writerPhase
	buf      []byte
	bodyAt   int

	lengthOffset int
	lengthDigits int
}

// NewWriter returns a Writer that stamps outgoing messages with the given
// protocol token (typically ProtoTelling).
func NewWriter(protocol string) *Writer {
	return &Writer{protocol: protocol}
}

func (w *Writer) reset() {
	w.phase = phaseEmpty
	w.buf = nil
	w.bodyAt = 0
	w.lengthOffset = 0
	w.lengthDigits = 0
}

func containsAny(s string, bad string) bool {
	return strings.ContainsAny(s, bad)
}

// StartRequest begins a Request-kind message. Must be the first call after
// construction or Release.
func (w *Writer) StartRequest(method Method, uri string) error {
	if w.phase != phaseEmpty {
		return newError(AlreadyWritten, Span{}, "startRequest called out of phase")
	}
	if containsAny(uri, " \r\n") {
		return newError(StartLineMalformed, Span{}, "uri contains whitespace")
	}
	w.reset()
	w.phase = phaseStarted
	w.buf = append(w.buf, string(method)+" "+uri+" "+w.protocol+"\n"...)
	return nil
}

// StartReply begins a Reply-kind message.
func (w *Writer) StartReply(status Status, reason string) error {
	if w.phase != phaseEmpty {
		return newError(AlreadyWritten, Span{}, "startReply called out of phase")
	}
	if containsAny(reason, "\r\n") {
		return newError(StartLineMalformed, Span{}, "reason contains a newline")
	}
	w.reset()
	w.phase = phaseStarted
	w.buf = append(w.buf, w.protocol+" "+strconv.Itoa(int(status))+" "+reason+"\n"...)
	return nil
}

// StartReport begins a Report-kind message, used for broker bulletins such
// as the `*services` topic's Created/Gone events (spec §4.6).
func (w *Writer) StartReport(uri string, status Status, reason string) error {
	if w.phase != phaseEmpty {
		return newError(AlreadyWritten, Span{}, "startReport called out of phase")
	}
	if containsAny(uri, " \r\n") {
		return newError(StartLineMalformed, Span{}, "uri contains whitespace")
	}
	if containsAny(reason, "\r\n") {
		return newError(StartLineMalformed, Span{}, "reason contains a newline")
	}
	w.reset()
	w.phase = phaseStarted
	w.buf = append(w.buf, uri+" "+w.protocol+" "+strconv.Itoa(int(status))+" "+reason+"\n"...)
	return nil
}

// WriteHeader appends one header line. May only be called after a
// StartX call and before the first WriteBody/Release.
func (w *Writer) WriteHeader(name, value string) error {
	if w.phase != phaseStarted {
		return newError(AlreadyWritten, Span{}, "writeHeader called after headers closed")
	}
	if containsAny(name, ":\r\n") {
		return newError(HeaderMalformed, Span{}, "header name contains ':' or a newline")
	}
	if containsAny(value, "\r\n") {
		return newError(HeaderMalformed, Span{}, "header value contains a newline")
	}
	w.buf = append(w.buf, name+":"+value+"\n"...)
	return nil
}

// WriteHeaderAllow writes an "Allow" header listing the given methods,
// comma-separated, for 501 responses (spec §4.9).
func (w *Writer) WriteHeaderAllow(methods []Method) error {
	strs := make([]string, len(methods))
	for i, m := range methods {
		strs[i] = string(m)
	}
	return w.WriteHeader("Allow", strings.Join(strs, ", "))
}

// ReserveLength reserves a fixed-width decimal Content-Length header field,
// to be back-filled with the actual body length at Release. width must be
// large enough to hold the final body length's decimal digit count, or
// Release fails (spec §4.2).
func (w *Writer) ReserveLength(width int) error {
	if w.phase != phaseStarted {
		return newError(AlreadyWritten, Span{}, "reserveLength called after headers closed")
	}
	if w.lengthDigits != 0 {
		return newError(AlreadyWritten, Span{}, "length already reserved")
	}
	w.buf = append(w.buf, "Content-Length:"...)
	w.lengthOffset = len(w.buf)
	w.lengthDigits = width
	for i := 0; i < width; i++ {
		w.buf = append(w.buf, ' ')
	}
	w.buf = append(w.buf, '\n')
	return nil
}

func (w *Writer) closeHeaders() {
	if w.phase == phaseStarted {
		w.buf = append(w.buf, '\n')
		w.bodyAt = len(w.buf)
		w.phase = phaseHeadersClosed
	}
}

// WriteBody appends body bytes. The first call (or Release, if WriteBody
// is never called) seals the header block.
func (w *Writer) WriteBody(data []byte) error {
	if w.phase == phaseEmpty {
		return newError(AlreadyWritten, Span{}, "writeBody called before start")
	}
	w.closeHeaders()
	w.buf = append(w.buf, data...)
	return nil
}

func numDigits(n int) int {
	if n == 0 {
		return 1
	}
	d := 0
	for n > 0 {
		d++
		n /= 10
	}
	return d
}

// Release seals any open header block, back-fills a reserved Content-Length
// field if one was requested, returns the assembled envelope, and resets
// the Writer to empty.
func (w *Writer) Release() ([]byte, error) {
	if w.phase == phaseEmpty {
		return nil, newError(AlreadyWritten, Span{}, "release called before start")
	}
	w.closeHeaders()

	if w.lengthDigits != 0 {
		bodySize := len(w.buf) - w.bodyAt
		digits := numDigits(bodySize)
		if digits > w.lengthDigits {
			return nil, newError(HeaderTooBig, Span{}, "no space: Content-Length reservation too narrow")
		}
		pos := w.lengthOffset + w.lengthDigits
		for i := 0; i < digits; i++ {
			pos--
			w.buf[pos] = byte('0' + bodySize%10)
			bodySize /= 10
		}
	}

	out := w.buf
	w.reset()
	return out, nil
}
