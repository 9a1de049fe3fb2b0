// Package sniff classifies byte blobs by their magic bytes. Filenames and
// declared labels are never consulted.
package sniff

import "github.com/gabriel-vasile/mimetype"

// Format is a detected binary format from a closed set.
type Format string

const (
	Unknown Format = "unknown"
	PNG     Format = "png"
	JPEG    Format = "jpeg"
)

// ContentType returns the canonical content type for f, or "" for Unknown.
func (f Format) ContentType() string {
	switch f {
	case PNG:
		return "image/png"
	case JPEG:
		return "image/jpeg"
	default:
		return ""
	}
}

// Detect classifies data as PNG, JPEG or Unknown. Subtypes such as APNG
// are reported as their base format.
func Detect(data []byte) Format {
	switch {
	case Matches(data, PNG.ContentType()):
		return PNG
	case Matches(data, JPEG.ContentType()):
		return JPEG
	default:
		return Unknown
	}
}

// Matches reports whether data sniffs as contentType or as a subtype of it.
func Matches(data []byte, contentType string) bool {
	if len(data) == 0 || contentType == "" {
		return false
	}
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		if m.Is(contentType) {
			return true
		}
	}
	return false
}

// ContentType returns the most specific content type detected for data.
func ContentType(data []byte) string {
	return mimetype.Detect(data).String()
}
