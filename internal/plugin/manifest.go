package plugin

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/keithlinneman/linnemanlabs-plugins/internal/pathutil"
)

// ManifestFile is the manifest's name at the archive root.
const ManifestFile = "metadata.json"

var (
	nameRe    = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	versionRe = regexp.MustCompile(`^[0-9]+\.[0-9]+\.[0-9]+$`)
)

// Asset is one declared asset.
type Asset struct {
	Path string `json:"path"`
	Type string `json:"type"`
}

// Manifest is the package's declared identity.
type Manifest struct {
	Name    string  `json:"name"`
	Author  string  `json:"author"`
	Version string  `json:"version"`
	Entry   string  `json:"entry"`
	Assets  []Asset `json:"assets"`
}

// Info is a validated manifest plus the identifier assigned when it was
// validated. It is never modified after creation.
type Info struct {
	ID string `json:"id"`
	Manifest
}

// StorageKey is the archive's key in durable storage.
func (m Manifest) StorageKey() string {
	return StorageKey(m.Name, m.Version)
}

// StorageKey derives the deterministic archive key for (name, version).
func StorageKey(name, version string) string {
	return name + "-" + version + ".zip"
}

// Declared reports whether p is the entry or a declared asset. For assets
// the first matching declaration is returned.
func (m Manifest) Declared(p string) (asset Asset, isEntry bool, ok bool) {
	if p == m.Entry {
		return Asset{}, true, true
	}
	for _, a := range m.Assets {
		if a.Path == p {
			return a, false, true
		}
	}
	return Asset{}, false, false
}

// ParseManifest decodes and checks a manifest. Fields are checked in the
// order name, version, author, entry, assets, and the first failure is
// returned.
func ParseManifest(data []byte, types *TypeTable) (Manifest, error) {
	if types == nil {
		types = DefaultTypes()
	}
	if !utf8.Valid(data) || !json.Valid(data) {
		return Manifest{}, newError(KindInvalidManifestEncoding, "%s is not valid JSON", ManifestFile)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return Manifest{}, newError(KindInvalidManifestEncoding, "%s must be a JSON object", ManifestFile)
	}

	var m Manifest
	var err error

	if m.Name, err = requiredString(obj, "name"); err != nil {
		return Manifest{}, err
	}
	if !nameRe.MatchString(m.Name) {
		return Manifest{}, fieldError(KindManifestFieldInvalid, "name",
			"%s: \"name\" must only contain A-Z a-z 0-9 - _", ManifestFile)
	}

	if m.Version, err = requiredString(obj, "version"); err != nil {
		return Manifest{}, err
	}
	if !versionRe.MatchString(m.Version) {
		return Manifest{}, fieldError(KindManifestFieldInvalid, "version",
			"%s: \"version\" must be in the form major.minor.patch", ManifestFile)
	}

	if m.Author, err = requiredString(obj, "author"); err != nil {
		return Manifest{}, err
	}

	if m.Entry, err = requiredString(obj, "entry"); err != nil {
		return Manifest{}, err
	}
	if !pathutil.IsSafeRelative(m.Entry) {
		return Manifest{}, fieldError(KindPathUnsafe, "entry",
			"%s: \"entry\" must be a valid relative path", ManifestFile)
	}

	m.Assets, err = parseAssets(obj, types)
	if err != nil {
		return Manifest{}, err
	}
	return m, nil
}

func parseAssets(obj map[string]json.RawMessage, types *TypeTable) ([]Asset, error) {
	raw, ok := obj["assets"]
	if !ok || string(raw) == "null" {
		return []Asset{}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fieldError(KindManifestFieldInvalid, "assets",
			"%s: \"assets\" must be an array", ManifestFile)
	}

	assets := make([]Asset, 0, len(items))
	for i, item := range items {
		var ao map[string]json.RawMessage
		if err := json.Unmarshal(item, &ao); err != nil || ao == nil {
			return nil, fieldError(KindManifestFieldInvalid, fmt.Sprintf("assets[%d]", i),
				"%s: assets[%d] must be an object", ManifestFile, i)
		}

		pathField := fmt.Sprintf("assets[%d].path", i)
		p, err := stringField(ao, "path", pathField)
		if err != nil {
			return nil, err
		}
		if !pathutil.IsSafeRelative(p) {
			return nil, fieldError(KindPathUnsafe, pathField,
				"%s: %s must be a valid relative path", ManifestFile, pathField)
		}

		typeField := fmt.Sprintf("assets[%d].type", i)
		t, err := stringField(ao, "type", typeField)
		if err != nil {
			return nil, err
		}
		if _, ok := types.Lookup(t); !ok {
			return nil, fieldError(KindManifestFieldInvalid, typeField,
				"%s: %s %q is not a supported asset type (expected one of: %s)",
				ManifestFile, typeField, t, strings.Join(types.Tokens(), ", "))
		}

		assets = append(assets, Asset{Path: p, Type: t})
	}
	return assets, nil
}

func requiredString(obj map[string]json.RawMessage, key string) (string, error) {
	return stringField(obj, key, `"`+key+`"`)
}

// stringField returns obj[key] as a trimmed non-empty string.
func stringField(obj map[string]json.RawMessage, key, label string) (string, error) {
	field := strings.Trim(label, `"`)
	raw, ok := obj[key]
	if !ok {
		return "", fieldError(KindManifestFieldInvalid, field,
			"%s: %s must be a non-empty string", ManifestFile, label)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fieldError(KindManifestFieldInvalid, field,
			"%s: %s must be a non-empty string", ManifestFile, label)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fieldError(KindManifestFieldInvalid, field,
			"%s: %s must be a non-empty string", ManifestFile, label)
	}
	return s, nil
}
