package plugin

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a plugin failure. Transport adapters map it to a status
// code with Status.
type Kind string

const (
	KindCorruptArchive          Kind = "corrupt_archive"
	KindMissingManifest         Kind = "missing_manifest"
	KindInvalidManifestEncoding Kind = "invalid_manifest_encoding"
	KindManifestFieldInvalid    Kind = "manifest_field_invalid"
	KindPathUnsafe              Kind = "path_unsafe"
	KindEntryMissing            Kind = "entry_missing"
	KindMalformedDocument       Kind = "malformed_document"
	KindSchemaViolation         Kind = "schema_violation"
	KindAssetMissing            Kind = "asset_missing"
	KindAssetTypeMismatch       Kind = "asset_type_mismatch"
	KindNotFound                Kind = "not_found"
	KindForbidden               Kind = "forbidden"
	KindAmbiguous               Kind = "ambiguous"
	KindCorruptRegistry         Kind = "corrupt_registry"
	KindInternal                Kind = "internal"
)

// Status returns the HTTP status code conventionally used for k.
func (k Kind) Status() int {
	switch k {
	case KindPathUnsafe, KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindCorruptRegistry, KindInternal:
		return http.StatusInternalServerError
	case "":
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// Error is the failure type returned by the validator, registry and
// resolver. Only the fields relevant to Kind are set.
type Error struct {
	Kind Kind

	// Field is the manifest field at fault (ManifestFieldInvalid, PathUnsafe).
	Field string
	// Reason is the human readable message.
	Reason string

	// Declared and Detected are set for AssetTypeMismatch.
	Declared string
	Detected string

	// Violations lists every schema failure (SchemaViolation).
	Violations []string

	Err error
}

func (e *Error) Error() string {
	msg := e.Reason
	if msg == "" {
		msg = string(e.Kind)
	}
	if len(e.Violations) > 0 {
		msg += ":\n" + strings.Join(e.Violations, "\n")
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorKind labels log records with the failure kind.
func (e *Error) ErrorKind() string { return string(e.Kind) }

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

func fieldError(kind Kind, field, format string, args ...any) *Error {
	return &Error{Kind: kind, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NotFound, Forbidden and Internal build the generic failures returned by
// the resolver and registry. cause is kept for logging and never rendered.
func NotFound(reason string, cause error) *Error {
	return &Error{Kind: KindNotFound, Reason: reason, Err: cause}
}

func Forbidden(reason string, cause error) *Error {
	return &Error{Kind: KindForbidden, Reason: reason, Err: cause}
}

func Internal(reason string, cause error) *Error {
	return &Error{Kind: KindInternal, Reason: reason, Err: cause}
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindInternal when there is none. KindOf(nil) is "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}
