package plugin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/keithlinneman/linnemanlabs-plugins/internal/log"
	"github.com/keithlinneman/linnemanlabs-plugins/internal/schema"
)

// Validator checks plugin packages. It touches nothing but the bytes it is
// given and is safe for concurrent use.
type Validator struct {
	types  *TypeTable
	schema *schema.Schema
	ids    IDSource
}

// Option configures a Validator.
type Option func(*Validator)

// WithTypes sets the declared-type allow-list. The default is DefaultTypes.
func WithTypes(t *TypeTable) Option {
	return func(v *Validator) {
		if t != nil {
			v.types = t
		}
	}
}

// WithSchema sets the entry document schema. The default is schema.Default.
func WithSchema(s *schema.Schema) Option {
	return func(v *Validator) {
		if s != nil {
			v.schema = s
		}
	}
}

// WithIDSource sets the identifier generator.
func WithIDSource(ids IDSource) Option {
	return func(v *Validator) {
		if ids != nil {
			v.ids = ids
		}
	}
}

// NewValidator returns a Validator with the strict type table and the
// bundled schema unless overridden.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		types:  DefaultTypes(),
		schema: schema.Default(),
		ids:    NewULIDSource(nil, nil),
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Validate checks a zip package and returns its info with a freshly
// generated ID. Every failure is an *Error.
func (v *Validator) Validate(ctx context.Context, data []byte) (Info, error) {
	a, err := OpenArchive(data)
	if err != nil {
		return Info{}, err
	}

	m, err := ReadManifest(a, v.types)
	if err != nil {
		return Info{}, err
	}

	if err := v.checkEntry(a, m.Entry); err != nil {
		return Info{}, err
	}

	for _, asset := range m.Assets {
		if err := ctx.Err(); err != nil {
			return Info{}, Internal("validation cancelled", err)
		}
		if err := v.checkAsset(a, asset); err != nil {
			return Info{}, err
		}
	}

	info := Info{ID: v.ids.NewID(m), Manifest: m}
	log.FromContext(ctx).Debug(ctx, "plugin package valid",
		"plugin_id", info.ID,
		"assets", len(m.Assets),
	)
	return info, nil
}

func (v *Validator) checkEntry(a *Archive, entry string) error {
	doc, err := a.ReadFile(entry)
	if errors.Is(err, fs.ErrNotExist) {
		return &Error{Kind: KindEntryMissing, Field: "entry", Reason: fmt.Sprintf("Entry file %q not found in zip", entry), Err: err}
	}
	if err != nil {
		return &Error{Kind: KindCorruptArchive, Field: "entry", Reason: fmt.Sprintf("Failed to read entry file %q", entry), Err: err}
	}

	err = v.schema.Validate(doc)
	var malformed *schema.MalformedError
	var violations *schema.ViolationError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &malformed):
		return &Error{
			Kind:   KindMalformedDocument,
			Field:  "entry",
			Reason: fmt.Sprintf("Entry file is not valid XHTML: %v", malformed),
			Err:    err,
		}
	case errors.As(err, &violations):
		return &Error{
			Kind:       KindSchemaViolation,
			Field:      "entry",
			Reason:     "Entry file does not conform to sc-plugin schema",
			Violations: violations.Messages(),
			Err:        err,
		}
	default:
		return Internal("entry validation failed", err)
	}
}

func (v *Validator) checkAsset(a *Archive, asset Asset) error {
	data, err := a.ReadFile(asset.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Error{Kind: KindAssetMissing, Field: asset.Path, Reason: fmt.Sprintf("Asset file %q not found in zip", asset.Path), Err: err}
	}
	if err != nil {
		return &Error{Kind: KindCorruptArchive, Field: asset.Path, Reason: fmt.Sprintf("Failed to read asset %q", asset.Path), Err: err}
	}
	return CheckAssetType(v.types, asset, data)
}

// CheckAssetType compares data with the asset's declared type.
func CheckAssetType(types *TypeTable, asset Asset, data []byte) error {
	at, ok := types.Lookup(asset.Type)
	if !ok {
		return fieldError(KindManifestFieldInvalid, asset.Path, "Asset %q: type %q is not a supported asset type", asset.Path, asset.Type)
	}
	detected, ok := at.Check(data)
	if ok {
		return nil
	}
	return &Error{
		Kind:     KindAssetTypeMismatch,
		Field:    asset.Path,
		Reason:   fmt.Sprintf("Asset %q: content is %s but declared type is %q", asset.Path, detected, asset.Type),
		Declared: asset.Type,
		Detected: detected,
	}
}
