// Package archive defines the facade contracts (C9) and the shared error
// taxonomy (§7) every format codec and archive reader in this module
// implements against.
package archive

// Kind classifies a decode error without committing to a format-specific
// type, matching the "taxonomy, not type names" framing of spec §7.
type Kind int

const (
	// NotFormat: magic bytes do not match the expected format.
	NotFormat Kind = iota
	// UnsupportedVersion: format recognised but a version/feature flag is
	// outside the supported set.
	UnsupportedVersion
	// UnsupportedMethod: format recognised but the compression method tag
	// is outside the supported set.
	UnsupportedMethod
	// ReservedFieldSet: a reserved flag bit is nonzero.
	ReservedFieldSet
	// BadChecksum: a header, block, content, or entry checksum mismatched.
	BadChecksum
	// CorruptedInput: a structural violation (bad code length, out of
	// range index, negative size, inconsistent sparse map, bad PAX
	// framing, ...).
	CorruptedInput
	// Truncated: the underlying source ended while more bytes were
	// required.
	Truncated
	// SizeLimitExceeded: a declared size contradicts a format-level
	// maximum.
	SizeLimitExceeded
	// MemoryLimit: a decoder's working-set estimate exceeded the caller's
	// threshold. Only produced by the XZ external collaborator today.
	MemoryLimit
)

func (k Kind) String() string {
	switch k {
	case NotFormat:
		return "not this format"
	case UnsupportedVersion:
		return "unsupported version"
	case UnsupportedMethod:
		return "unsupported method"
	case ReservedFieldSet:
		return "reserved field set"
	case BadChecksum:
		return "bad checksum"
	case CorruptedInput:
		return "corrupted input"
	case Truncated:
		return "truncated"
	case SizeLimitExceeded:
		return "size limit exceeded"
	case MemoryLimit:
		return "memory limit"
	default:
		return "unknown error kind"
	}
}

// Error is the concrete error type every package in this module returns.
// It carries a Kind, a human-readable reason (with byte positions or
// symbol indices where applicable, per spec §7), and the format that
// produced it.
type Error struct {
	Format string // e.g. "gzip", "bzip2", "lha", "tar", "lz4", "zip"
	Kind   Kind
	Reason string
	Err    error // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return e.Format + ": " + e.Kind.String()
	}
	return e.Format + ": " + e.Kind.String() + ": " + e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's Kind, so callers can
// write errors.Is(err, archive.ErrBadChecksum) generically across formats.
func (e *Error) Is(target error) bool {
	k, ok := kindSentinel(target)
	return ok && k == e.Kind
}

// Sentinel errors for errors.Is comparisons that don't need the full
// *Error value, mirroring pkg/tarfs's ErrFormat/parseError pattern but
// generalized to the whole §7 taxonomy.
var (
	ErrNotFormat          = sentinel(NotFormat)
	ErrUnsupportedVersion = sentinel(UnsupportedVersion)
	ErrUnsupportedMethod  = sentinel(UnsupportedMethod)
	ErrReservedFieldSet   = sentinel(ReservedFieldSet)
	ErrBadChecksum        = sentinel(BadChecksum)
	ErrCorruptedInput     = sentinel(CorruptedInput)
	ErrTruncated          = sentinel(Truncated)
	ErrSizeLimitExceeded  = sentinel(SizeLimitExceeded)
	ErrMemoryLimit        = sentinel(MemoryLimit)
)

type sentinelErr Kind

func (s sentinelErr) Error() string { return Kind(s).String() }

func sentinel(k Kind) error { return sentinelErr(k) }

func kindSentinel(err error) (Kind, bool) {
	s, ok := err.(sentinelErr)
	if !ok {
		return 0, false
	}
	return Kind(s), true
}

// New constructs a format error of the given kind with a formatted reason.
func New(format string, kind Kind, reason string) *Error {
	return &Error{Format: format, Kind: kind, Reason: reason}
}

// Wrap constructs a format error of the given kind wrapping an underlying
// cause (typically an io error).
func Wrap(format string, kind Kind, reason string, err error) *Error {
	return &Error{Format: format, Kind: kind, Reason: reason, Err: err}
}
