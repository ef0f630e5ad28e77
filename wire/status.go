package wire

import "strconv"

// Status is an HTTP-style numeric status code.
type Status int

// Statuses produced by the broker itself; services may use any valid HTTP
// status.
const (
	StatusOK                  Status = 200
	StatusCreated             Status = 201
	StatusBadRequest          Status = 400
	StatusNotFound            Status = 404
	StatusConflict            Status = 409
	StatusGone                Status = 410
	StatusInternalServerError Status = 500
	StatusNotImplemented      Status = 501
	StatusServiceUnavailable  Status = 503
)

// Class identifies which hundred-block a Status falls in.
type Class int

const (
	Informational Class = iota
	Success
	Redirect
	ClientError
	ServerError
	Unknown
)

// Class reports which class this Status belongs to.
func (s Status) Class() Class {
	switch {
	case s >= 100 && s < 200:
		return Informational
	case s >= 200 && s < 300:
		return Success
	case s >= 300 && s < 400:
		return Redirect
	case s >= 400 && s < 500:
		return ClientError
	case s >= 500 && s < 600:
		return ServerError
	default:
		return Unknown
	}
}

// Success reports whether the status is in the 2xx class.
func (s Status) Success() bool { return s.Class() == Success }

// IsError reports whether the status is in the 4xx or 5xx class.
func (s Status) IsError() bool { return s.Class() == ClientError || s.Class() == ServerError }

// DefaultReason returns a short human-readable reason phrase for well-known
// statuses, or the numeric code as a string otherwise.
func (s Status) DefaultReason() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusCreated:
		return "Created"
	case StatusBadRequest:
		return "Bad Request"
	case StatusNotFound:
		return "Not Found"
	case StatusConflict:
		return "Conflict"
	case StatusGone:
		return "Gone"
	case StatusInternalServerError:
		return "Internal Server Error"
	case StatusNotImplemented:
		return "Not Implemented"
	case StatusServiceUnavailable:
		return "Service Unavailable"
	default:
		return strconv.Itoa(int(s))
	}
}

func (s Status) String() string {
	return strconv.Itoa(int(s)) + " " + s.DefaultReason()
}
