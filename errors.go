package epubflat

import (
	"errors"
	"fmt"
)

// Kind classifies a conversion failure.
type Kind int

const (
	// KindArchiveRead means the archive could not be opened or is not a zip container.
	KindArchiveRead Kind = iota + 1
	// KindMalformedDescriptor means container.xml or the package document is missing or unparseable.
	KindMalformedDescriptor
	// KindMalformedNavigation means the navigation document is missing, unparseable,
	// or contains a node without a label or source reference.
	KindMalformedNavigation
	// KindMalformedContent means a referenced content document is missing or has no body.
	KindMalformedContent
	// KindIO means a filesystem read or write failed.
	KindIO
)

// String returns the kind name used in error messages.
func (k Kind) String() string {
	switch k {
	case KindArchiveRead:
		return "archive read"
	case KindMalformedDescriptor:
		return "malformed descriptor"
	case KindMalformedNavigation:
		return "malformed navigation"
	case KindMalformedContent:
		return "malformed content"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

// Sentinel errors returned by the epubflat package. Every *Error matches the
// sentinel of its Kind through errors.Is.
var (
	ErrArchiveRead         = errors.New("epubflat: archive read error")
	ErrMalformedDescriptor = errors.New("epubflat: malformed package descriptor")
	ErrMalformedNavigation = errors.New("epubflat: malformed navigation document")
	ErrMalformedContent    = errors.New("epubflat: malformed content document")
	ErrIO                  = errors.New("epubflat: io error")

	// ErrDRMProtected indicates the archive is protected by DRM
	// (e.g., Adobe ADEPT, Apple FairPlay, Readium LCP) and cannot be flattened.
	ErrDRMProtected = errors.New("epubflat: file is DRM protected")

	// ErrInvalidTemplate indicates a template does not carry each placeholder exactly once.
	ErrInvalidTemplate = errors.New("epubflat: invalid template")

	// ErrNavigationTooDeep indicates the navigation tree exceeds the configured depth.
	ErrNavigationTooDeep = errors.New("epubflat: navigation tree too deep")
)

var kindSentinels = map[Kind]error{
	KindArchiveRead:         ErrArchiveRead,
	KindMalformedDescriptor: ErrMalformedDescriptor,
	KindMalformedNavigation: ErrMalformedNavigation,
	KindMalformedContent:    ErrMalformedContent,
	KindIO:                  ErrIO,
}

// Error is the single error type returned by a failed conversion.
type Error struct {
	Kind    Kind
	Archive string // archive path, filled in by the Converter
	Path    string // offending path inside the extraction root, if any
	Err     error
}

func (e *Error) Error() string {
	msg := "epubflat: " + e.Kind.String()
	if e.Archive != "" {
		msg += " in " + e.Archive
	}
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's Kind.
func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

func newError(kind Kind, path string, err error) *Error {
	return &Error{Kind: kind, Path: path, Err: err}
}

func errorf(kind Kind, path, format string, args ...any) *Error {
	return &Error{Kind: kind, Path: path, Err: fmt.Errorf(format, args...)}
}

// withArchive stamps the archive path on err if it is an *Error, otherwise it
// wraps err as an IO error.
func withArchive(err error, archive string) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		if fe.Archive == "" {
			fe.Archive = archive
		}
		return fe
	}
	return &Error{Kind: KindIO, Archive: archive, Err: err}
}
