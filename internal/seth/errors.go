// Package seth holds the error taxonomy shared across the core packages,
// so every caller can log and propagate data-path failures consistently.
package seth

import "fmt"

// Severity classifies how a Kind should be logged when it occurs.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityNotice
	SeverityWarning
	SeverityError
)

// Kind identifies one of the error categories from the error-handling
// design: Config/Setup/Protocol/SequenceAnomaly/Codec/TransientIO/FatalIO/Oversize.
type Kind int

const (
	KindConfig Kind = iota
	KindSetup
	KindProtocol
	KindSequenceAnomaly
	KindCodec
	KindTransientIO
	KindFatalIO
	KindOversize
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindSetup:
		return "setup"
	case KindProtocol:
		return "protocol"
	case KindSequenceAnomaly:
		return "sequence-anomaly"
	case KindCodec:
		return "codec"
	case KindTransientIO:
		return "transient-io"
	case KindFatalIO:
		return "fatal-io"
	case KindOversize:
		return "oversize"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind and the Severity it should be
// logged at. Only Config, Setup, and FatalIO are meant to propagate out of
// main; the rest are absorbed at the task boundary that produced them.
type Error struct {
	Kind     Kind
	Severity Severity
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(k Kind, sev Severity, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Severity: sev, Err: fmt.Errorf(format, args...)}
}

// ConfigErrorf builds a KindConfig error (fatal at startup).
func ConfigErrorf(format string, args ...interface{}) *Error {
	return wrap(KindConfig, SeverityError, format, args...)
}

// SetupErrorf builds a KindSetup error (fatal at startup).
func SetupErrorf(format string, args ...interface{}) *Error {
	return wrap(KindSetup, SeverityError, format, args...)
}

// ProtocolErrorf builds a KindProtocol error (data-path, absorbed).
func ProtocolErrorf(format string, args ...interface{}) *Error {
	return wrap(KindProtocol, SeverityError, format, args...)
}

// SequenceAnomalyf builds a KindSequenceAnomaly error (data-path, absorbed).
func SequenceAnomalyf(sev Severity, format string, args ...interface{}) *Error {
	return wrap(KindSequenceAnomaly, sev, format, args...)
}

// CodecErrorf builds a KindCodec error (data-path, absorbed).
func CodecErrorf(format string, args ...interface{}) *Error {
	return wrap(KindCodec, SeverityError, format, args...)
}

// TransientIOErrorf builds a KindTransientIO error (data-path, absorbed).
func TransientIOErrorf(format string, args ...interface{}) *Error {
	return wrap(KindTransientIO, SeverityError, format, args...)
}

// FatalIOErrorf builds a KindFatalIO error (propagates, exit 1).
func FatalIOErrorf(format string, args ...interface{}) *Error {
	return wrap(KindFatalIO, SeverityError, format, args...)
}

// Oversizef builds a KindOversize error (data-path, absorbed).
func Oversizef(format string, args ...interface{}) *Error {
	return wrap(KindOversize, SeverityError, format, args...)
}
