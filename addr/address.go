// Package addr builds the URIs telling's communicators dial and listen on.
//
// An Address names one transport endpoint (in-process, interprocess, or
// TCP) without naming a pattern. Patterns derive their own URI from a base
// Address deterministically, so a client, a service, and the broker can all
// agree on where a given pattern lives without exchanging extra
// configuration.
package addr

import "fmt"

// Transport identifies which underlying carrier an Address names.
type Transport int

const (
	// Inproc addresses connect goroutines within the same process.
	Inproc Transport = iota
	// IPC addresses connect processes on the same host via a named pipe
	// or Unix domain socket.
	IPC
	// TCP addresses connect over a host:port.
	TCP
)

func (t Transport) String() string {
	switch t {
	case Inproc:
		return "inproc"
	case IPC:
		return "ipc"
	case TCP:
		return "tcp"
	default:
		return "unknown"
	}
}

// Pattern identifies one of telling's three messaging patterns, used to
// derive a pattern-specific URI from a base Address.
type Pattern int

const (
	// ReqRep is the request/reply pattern.
	ReqRep Pattern = iota
	// PubSub is the publish/subscribe pattern.
	PubSub
	// PushPull is the push/pull pattern.
	PushPull
)

// index returns the pattern's position for TCP port derivation
// (base_port + index), per spec: request/reply=0, pub/sub=1, push/pull=2.
func (p Pattern) index() int {
	return int(p)
}

// suffix returns the inproc/ipc name suffix for this pattern.
func (p Pattern) suffix() string {
	switch p {
	case ReqRep:
		return ".req"
	case PubSub:
		return ".sub"
	case PushPull:
		return ".push"
	default:
		return ".unknown"
	}
}

func (p Pattern) String() string {
	switch p {
	case ReqRep:
		return "req/rep"
	case PubSub:
		return "pub/sub"
	case PushPull:
		return "push/pull"
	default:
		return "unknown"
	}
}

// Address is a tagged union over the three transports telling supports.
// The zero value is not a valid Address; construct one with Inproc, IPC, or
// TCP address builders below.
type Address struct {
	transport Transport
	name      string // inproc name, or ipc path/name
	host      string // tcp host
	port      int    // tcp base port
}

// InprocAddr builds an in-process base Address under the given name.
func InprocAddr(name string) Address {
	return Address{transport: Inproc, name: name}
}

// IPCAddr builds an interprocess base Address rooted at the given
// filesystem path/name (platform-dependent prefix is applied by Dial/Listen
// implementations, not stored here).
func IPCAddr(name string) Address {
	return Address{transport: IPC, name: name}
}

// TCPAddr builds a TCP base Address. port is the request/reply pattern's
// port; pub/sub and push/pull derive from base_port+1 and base_port+2.
func TCPAddr(host string, port int) Address {
	return Address{transport: TCP, host: host, port: port}
}

// Transport reports which carrier this Address names.
func (a Address) Transport() Transport { return a.transport }

// URI derives the pattern-specific URI for this base Address. Given the
// same base Address and pattern, URI always returns the same string
// (invariant: unique and reversible per spec §3).
func (a Address) URI(p Pattern) string {
	switch a.transport {
	case Inproc:
		return fmt.Sprintf("inproc://%s%s", a.name, p.suffix())
	case IPC:
		return fmt.Sprintf("ipc://%s%s", a.name, p.suffix())
	case TCP:
		return fmt.Sprintf("tcp://%s:%d", a.host, a.port+p.index())
	default:
		return ""
	}
}

// NetTarget derives the network and dial/listen target the transport
// collaborator should use for this Address and pattern: ("tcp", host:port)
// for TCP, ("unix", path) for IPC, or ("inproc", name) for in-process,
// where the inproc network is handled by an in-memory registry rather than
// the OS.
func (a Address) NetTarget(p Pattern) (network, target string) {
	switch a.transport {
	case Inproc:
		return "inproc", a.name + p.suffix()
	case IPC:
		return "unix", a.name + p.suffix() + ".sock"
	case TCP:
		return "tcp", fmt.Sprintf("%s:%d", a.host, a.port+p.index())
	default:
		return "", ""
	}
}

// String renders the base Address without a pattern suffix, for logging.
func (a Address) String() string {
	switch a.transport {
	case Inproc:
		return fmt.Sprintf("inproc://%s", a.name)
	case IPC:
		return fmt.Sprintf("ipc://%s", a.name)
	case TCP:
		return fmt.Sprintf("tcp://%s:%d", a.host, a.port)
	default:
		return "invalid-address"
	}
}
