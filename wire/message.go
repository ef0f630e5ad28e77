package wire

// Kind identifies which of the three start-line shapes a Message carries.
type Kind int

const (
	// Request start-lines look like "METHOD URI PROTOCOL?".
	Request Kind = iota
	// Reply start-lines look like "PROTOCOL STATUS REASON?".
	Reply
	// Report start-lines look like "URI PROTOCOL? STATUS? REASON?".
	Report
)

func (k Kind) String() string {
	switch k {
	case Request:
		return "request"
	case Reply:
		return "reply"
	case Report:
		return "report"
	default:
		return "unknown"
	}
}

// Known protocol literals recognized on the wire (spec §3, §4.2).
const (
	ProtoTelling = "Tell/0"
	ProtoHTTP10  = "HTTP/1.0"
	ProtoHTTP11  = "HTTP/1.1"
)

func knownProtocol(tok string) bool {
	switch tok {
	case ProtoTelling, ProtoHTTP10, ProtoHTTP11:
		return true
	default:
		return false
	}
}

// Headers is an unordered multi-map of header name to values, matching
// HTTP's repeated-header semantics.
type Headers map[string][]string

// Get returns the first value for name, or "" if absent.
func (h Headers) Get(name string) string {
	v := h[name]
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

// Add appends a value for name.
func (h Headers) Add(name, value string) {
	h[name] = append(h[name], value)
}

// Set replaces all values for name with value.
func (h Headers) Set(name, value string) {
	h[name] = []string{value}
}

// Message is a fully parsed (or fully built) telling wire envelope: a
// start-line of one of three shapes, a header multi-map, and a body.
type Message struct {
	Kind Kind

	// Request fields.
	Method Method
	URI    string

	// Reply/Report fields.
	Status Status
	Reason string

	// Protocol token as it appeared on the wire (may be empty for Report
	// start-lines with only a URI).
	Protocol string

	Headers Headers
	Body    []byte
}

// NewRequest builds a Request-kind Message ready for the Writer or for
// direct use by an in-process caller.
func NewRequest(method Method, uri string, body []byte) *Message {
	return &Message{
		Kind:     Request,
		Method:   method,
		URI:      uri,
		Protocol: ProtoTelling,
		Headers:  Headers{},
		Body:     body,
	}
}

// NewReply builds a Reply-kind Message.
func NewReply(status Status, body []byte) *Message {
	return &Message{
		Kind:     Reply,
		Status:   status,
		Reason:   status.DefaultReason(),
		Protocol: ProtoTelling,
		Headers:  Headers{},
		Body:     body,
	}
}

// NewReport builds a Report-kind Message, the shape of the `*services`
// topic bulletins (spec §4.6).
func NewReport(uri string, status Status, body []byte) *Message {
	return &Message{
		Kind:     Report,
		URI:      uri,
		Status:   status,
		Reason:   status.DefaultReason(),
		Protocol: ProtoTelling,
		Headers:  Headers{},
		Body:     body,
	}
}
