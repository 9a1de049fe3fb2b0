package plugin

import (
	"sort"

	"github.com/keithlinneman/linnemanlabs-plugins/internal/sniff"
)

// EntryContentType is served for every entry document.
const EntryContentType = "application/xhtml+xml"

// AssetType is one allow-listed declared type.
type AssetType struct {
	// Token is the value authors write in assets[].type.
	Token string
	// ContentType is the canonical content type served for the asset.
	ContentType string
	// Sniffed types must match their magic bytes. Unsniffed types are
	// trusted as declared.
	Sniffed bool
}

// Check compares data with the declared type. It returns the detected
// label and whether it agrees with t.
func (t AssetType) Check(data []byte) (detected string, ok bool) {
	if !t.Sniffed {
		return t.Token, true
	}
	if f := sniff.Detect(data); f != sniff.Unknown {
		return string(f), string(f) == t.Token
	}
	if sniff.Matches(data, t.ContentType) {
		return t.Token, true
	}
	return sniff.ContentType(data), false
}

// TypeTable is an immutable allow-list of declared asset types.
type TypeTable struct {
	types map[string]AssetType
}

// NewTypeTable builds a table from types. Later entries replace earlier
// ones with the same token.
func NewTypeTable(types ...AssetType) *TypeTable {
	t := &TypeTable{types: make(map[string]AssetType, len(types))}
	for _, at := range types {
		t.types[at.Token] = at
	}
	return t
}

// DefaultTypes is the strict table: still images with a reliable magic
// signature only.
func DefaultTypes() *TypeTable {
	return NewTypeTable(
		AssetType{Token: "png", ContentType: "image/png", Sniffed: true},
		AssetType{Token: "jpeg", ContentType: "image/jpeg", Sniffed: true},
	)
}

// ExtendedTypes widens DefaultTypes. css, json and txt have no magic
// signature and are served with their declared type unchecked.
func ExtendedTypes() *TypeTable {
	return NewTypeTable(
		AssetType{Token: "png", ContentType: "image/png", Sniffed: true},
		AssetType{Token: "jpeg", ContentType: "image/jpeg", Sniffed: true},
		AssetType{Token: "gif", ContentType: "image/gif", Sniffed: true},
		AssetType{Token: "webp", ContentType: "image/webp", Sniffed: true},
		AssetType{Token: "woff2", ContentType: "font/woff2", Sniffed: true},
		AssetType{Token: "css", ContentType: "text/css; charset=utf-8"},
		AssetType{Token: "json", ContentType: "application/json"},
		AssetType{Token: "txt", ContentType: "text/plain; charset=utf-8"},
	)
}

// Lookup returns the type registered for token.
func (t *TypeTable) Lookup(token string) (AssetType, bool) {
	at, ok := t.types[token]
	return at, ok
}

// Tokens returns the allowed tokens, sorted.
func (t *TypeTable) Tokens() []string {
	out := make([]string, 0, len(t.types))
	for k := range t.types {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
