package plugin

import (
	"context"
	"errors"
	"io/fs"
	"sort"
	"strings"
	"testing"
)

func TestValidate_Scenario(t *testing.T) {
	v := NewValidator()
	info, err := v.Validate(context.Background(), scenarioPackage(t, scenarioManifest()))
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if info.Name != "synth-control" || info.Version != "1.0.0" || info.Author != "Jane" || info.Entry != "index.xhtml" {
		t.Errorf("info = %+v", info.Manifest)
	}
	if len(info.Assets) != 1 || info.Assets[0] != (Asset{Path: "icon.png", Type: "png"}) {
		t.Errorf("assets = %+v", info.Assets)
	}
	if !strings.HasPrefix(info.ID, "synth-control-1.0.0-") {
		t.Errorf("ID = %q, want synth-control-1.0.0- prefix", info.ID)
	}
	if got := info.StorageKey(); got != "synth-control-1.0.0.zip" {
		t.Errorf("StorageKey() = %q", got)
	}
}

func TestValidate_Failures(t *testing.T) {
	png := pngBytes(t)
	jpg := jpegBytes(t)

	withManifest := func(mut func(m map[string]any)) []byte {
		m := scenarioManifest()
		mut(m)
		return scenarioPackage(t, m)
	}

	tests := []struct {
		name  string
		data  []byte
		kind  Kind
		field string
	}{
		{
			name: "not a zip",
			data: []byte("definitely not a zip"),
			kind: KindCorruptArchive,
		},
		{
			name: "no manifest",
			data: buildZip(t, zipFile{Name: "index.xhtml", Data: []byte(entryDoc)}),
			kind: KindMissingManifest,
		},
		{
			name: "manifest in subdirectory",
			data: buildZip(t, zipFile{Name: "pkg/" + ManifestFile, Data: manifestJSON(t, scenarioManifest())}),
			kind: KindMissingManifest,
		},
		{
			name: "manifest not json",
			data: buildZip(t, zipFile{Name: ManifestFile, Data: []byte("{name: nope")}),
			kind: KindInvalidManifestEncoding,
		},
		{
			name: "manifest is an array",
			data: buildZip(t, zipFile{Name: ManifestFile, Data: []byte(`[1,2]`)}),
			kind: KindInvalidManifestEncoding,
		},
		{
			name: "manifest invalid utf8",
			data: buildZip(t, zipFile{Name: ManifestFile, Data: []byte("{\"name\":\"\xff\"}")}),
			kind: KindInvalidManifestEncoding,
		},
		{
			name:  "bad name",
			data:  withManifest(func(m map[string]any) { m["name"] = "synth control" }),
			kind:  KindManifestFieldInvalid,
			field: "name",
		},
		{
			name:  "bad version",
			data:  withManifest(func(m map[string]any) { m["version"] = "1.0" }),
			kind:  KindManifestFieldInvalid,
			field: "version",
		},
		{
			name:  "version not numeric",
			data:  withManifest(func(m map[string]any) { m["version"] = "1.0.x" }),
			kind:  KindManifestFieldInvalid,
			field: "version",
		},
		{
			name:  "missing author",
			data:  withManifest(func(m map[string]any) { delete(m, "author") }),
			kind:  KindManifestFieldInvalid,
			field: "author",
		},
		{
			name:  "blank author",
			data:  withManifest(func(m map[string]any) { m["author"] = "   " }),
			kind:  KindManifestFieldInvalid,
			field: "author",
		},
		{
			name:  "author not a string",
			data:  withManifest(func(m map[string]any) { m["author"] = 42 }),
			kind:  KindManifestFieldInvalid,
			field: "author",
		},
		{
			name:  "entry traversal",
			data:  withManifest(func(m map[string]any) { m["entry"] = "../index.xhtml" }),
			kind:  KindPathUnsafe,
			field: "entry",
		},
		{
			name:  "entry absolute",
			data:  withManifest(func(m map[string]any) { m["entry"] = "/index.xhtml" }),
			kind:  KindPathUnsafe,
			field: "entry",
		},
		{
			name:  "assets not array",
			data:  withManifest(func(m map[string]any) { m["assets"] = "icon.png" }),
			kind:  KindManifestFieldInvalid,
			field: "assets",
		},
		{
			name:  "asset not object",
			data:  withManifest(func(m map[string]any) { m["assets"] = []any{"icon.png"} }),
			kind:  KindManifestFieldInvalid,
			field: "assets[0]",
		},
		{
			name: "asset path traversal",
			data: withManifest(func(m map[string]any) {
				m["assets"] = []any{map[string]any{"path": "img/../../x.png", "type": "png"}}
			}),
			kind:  KindPathUnsafe,
			field: "assets[0].path",
		},
		{
			name: "asset type not allowed",
			data: withManifest(func(m map[string]any) {
				m["assets"] = []any{map[string]any{"path": "icon.png", "type": "gif"}}
			}),
			kind:  KindManifestFieldInvalid,
			field: "assets[0].type",
		},
		{
			name: "entry missing from archive",
			data: buildZip(t,
				zipFile{Name: ManifestFile, Data: manifestJSON(t, scenarioManifest())},
				zipFile{Name: "icon.png", Data: png},
			),
			kind:  KindEntryMissing,
			field: "entry",
		},
		{
			name: "entry malformed",
			data: buildZip(t,
				zipFile{Name: ManifestFile, Data: manifestJSON(t, scenarioManifest())},
				zipFile{Name: "index.xhtml", Data: []byte("<html><body>")},
				zipFile{Name: "icon.png", Data: png},
			),
			kind:  KindMalformedDocument,
			field: "entry",
		},
		{
			name: "asset missing from archive",
			data: buildZip(t,
				zipFile{Name: ManifestFile, Data: manifestJSON(t, scenarioManifest())},
				zipFile{Name: "index.xhtml", Data: []byte(entryDoc)},
			),
			kind:  KindAssetMissing,
			field: "icon.png",
		},
		{
			name: "jpeg declared as png",
			data: buildZip(t,
				zipFile{Name: ManifestFile, Data: manifestJSON(t, scenarioManifest())},
				zipFile{Name: "index.xhtml", Data: []byte(entryDoc)},
				zipFile{Name: "icon.png", Data: jpg},
			),
			kind:  KindAssetTypeMismatch,
			field: "icon.png",
		},
	}

	v := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(context.Background(), tt.data)
			if got := kindOf(t, err); got != tt.kind {
				t.Fatalf("kind = %q, want %q (err = %v)", got, tt.kind, err)
			}
			var pe *Error
			if !errors.As(err, &pe) {
				t.Fatalf("error %T is not *Error", err)
			}
			if tt.field != "" && pe.Field != tt.field {
				t.Errorf("field = %q, want %q", pe.Field, tt.field)
			}
			if pe.Error() == "" {
				t.Error("empty error message")
			}
		})
	}
}

func TestValidate_FieldOrder(t *testing.T) {
	// name is checked before version, version before author, author before entry
	m := map[string]any{
		"name":    "bad name",
		"version": "x",
		"entry":   "../x",
	}
	_, err := NewValidator().Validate(context.Background(), scenarioPackage(t, m))
	var pe *Error
	if !errors.As(err, &pe) || pe.Field != "name" {
		t.Fatalf("err = %v, want name failure first", err)
	}

	m["name"] = "ok"
	_, err = NewValidator().Validate(context.Background(), scenarioPackage(t, m))
	if !errors.As(err, &pe) || pe.Field != "version" {
		t.Fatalf("err = %v, want version failure", err)
	}

	m["version"] = "1.2.10"
	_, err = NewValidator().Validate(context.Background(), scenarioPackage(t, m))
	if !errors.As(err, &pe) || pe.Field != "author" {
		t.Fatalf("err = %v, want author failure", err)
	}
}

func TestValidate_MissingManifestSkipsAssets(t *testing.T) {
	// an asset that would mismatch is never reached
	data := buildZip(t,
		zipFile{Name: "index.xhtml", Data: []byte(entryDoc)},
		zipFile{Name: "icon.png", Data: jpegBytes(t)},
	)
	_, err := NewValidator().Validate(context.Background(), data)
	if got := kindOf(t, err); got != KindMissingManifest {
		t.Fatalf("kind = %q, want %q", got, KindMissingManifest)
	}
}

func TestValidate_SchemaViolationAggregates(t *testing.T) {
	doc := `<html xmlns="http://www.w3.org/1999/xhtml"><body>
<script>alert(1)</script>
<sc-knob node-id="x"/>
</body></html>`
	data := buildZip(t,
		zipFile{Name: ManifestFile, Data: manifestJSON(t, scenarioManifest())},
		zipFile{Name: "index.xhtml", Data: []byte(doc)},
		zipFile{Name: "icon.png", Data: pngBytes(t)},
	)
	_, err := NewValidator().Validate(context.Background(), data)
	var pe *Error
	if !errors.As(err, &pe) || pe.Kind != KindSchemaViolation {
		t.Fatalf("err = %v, want schema violation", err)
	}
	if len(pe.Violations) < 3 {
		t.Fatalf("violations = %q, want at least 3 (script, node-id, missing param)", pe.Violations)
	}
	if !strings.Contains(pe.Error(), "script") {
		t.Errorf("Error() = %q, want violations listed", pe.Error())
	}
}

func TestValidate_TypeMismatchDetail(t *testing.T) {
	data := buildZip(t,
		zipFile{Name: ManifestFile, Data: manifestJSON(t, scenarioManifest())},
		zipFile{Name: "index.xhtml", Data: []byte(entryDoc)},
		zipFile{Name: "icon.png", Data: jpegBytes(t)},
	)
	_, err := NewValidator().Validate(context.Background(), data)
	var pe *Error
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v", err)
	}
	if pe.Declared != "png" || pe.Detected != "jpeg" {
		t.Errorf("declared/detected = %q/%q, want png/jpeg", pe.Declared, pe.Detected)
	}
	if pe.Error() != `Asset "icon.png": content is jpeg but declared type is "png"` {
		t.Errorf("Error() = %q", pe.Error())
	}
}

func TestValidate_TrimsAndDefaults(t *testing.T) {
	m := map[string]any{
		"name":    "  synth-control ",
		"version": " 1.0.0",
		"author":  "Jane  ",
		"entry":   " index.xhtml ",
	}
	info, err := NewValidator().Validate(context.Background(), scenarioPackage(t, m))
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if info.Name != "synth-control" || info.Version != "1.0.0" || info.Author != "Jane" || info.Entry != "index.xhtml" {
		t.Errorf("fields not trimmed: %+v", info.Manifest)
	}
	if info.Assets == nil || len(info.Assets) != 0 {
		t.Errorf("Assets = %#v, want empty non-nil slice", info.Assets)
	}
}

func TestValidate_DuplicateAssetsAllowed(t *testing.T) {
	m := scenarioManifest()
	m["assets"] = []any{
		map[string]any{"path": "icon.png", "type": "png"},
		map[string]any{"path": "icon.png", "type": "png"},
	}
	if _, err := NewValidator().Validate(context.Background(), scenarioPackage(t, m)); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidate_ExtendedTypes(t *testing.T) {
	m := scenarioManifest()
	m["assets"] = []any{
		map[string]any{"path": "icon.png", "type": "png"},
		map[string]any{"path": "style.css", "type": "css"},
	}
	data := buildZip(t,
		zipFile{Name: ManifestFile, Data: manifestJSON(t, m)},
		zipFile{Name: "index.xhtml", Data: []byte(entryDoc)},
		zipFile{Name: "icon.png", Data: pngBytes(t)},
		zipFile{Name: "style.css", Data: []byte("body { color: red; }")},
	)

	if _, err := NewValidator().Validate(context.Background(), data); KindOf(err) != KindManifestFieldInvalid {
		t.Fatalf("default table: err = %v, want manifest_field_invalid", err)
	}
	if _, err := NewValidator(WithTypes(ExtendedTypes())).Validate(context.Background(), data); err != nil {
		t.Fatalf("extended table: err = %v", err)
	}
}

func TestValidate_ExtendedTypesStillSniffImages(t *testing.T) {
	m := scenarioManifest()
	m["assets"] = []any{map[string]any{"path": "icon.png", "type": "gif"}}
	_, err := NewValidator(WithTypes(ExtendedTypes())).Validate(context.Background(), scenarioPackage(t, m))
	var pe *Error
	if !errors.As(err, &pe) || pe.Kind != KindAssetTypeMismatch {
		t.Fatalf("err = %v, want asset type mismatch", err)
	}
	if pe.Detected != "png" {
		t.Errorf("Detected = %q, want png", pe.Detected)
	}
}

func TestValidate_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewValidator().Validate(ctx, scenarioPackage(t, scenarioManifest()))
	if KindOf(err) != KindInternal || !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want internal wrapping context.Canceled", err)
	}
}

func TestValidate_IDsUniqueAndOrdered(t *testing.T) {
	v := NewValidator()
	data := scenarioPackage(t, scenarioManifest())

	const n = 50
	ids := make([]string, 0, n)
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		info, err := v.Validate(context.Background(), data)
		if err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if seen[info.ID] {
			t.Fatalf("duplicate ID %q", info.ID)
		}
		seen[info.ID] = true
		ids = append(ids, info.ID)
	}
	if !sort.StringsAreSorted(ids) {
		t.Error("IDs are not monotonically increasing")
	}
}

func TestKind_Status(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindCorruptArchive, 400},
		{KindMissingManifest, 400},
		{KindInvalidManifestEncoding, 400},
		{KindManifestFieldInvalid, 400},
		{KindEntryMissing, 400},
		{KindMalformedDocument, 400},
		{KindSchemaViolation, 400},
		{KindAssetMissing, 400},
		{KindAssetTypeMismatch, 400},
		{KindAmbiguous, 400},
		{KindPathUnsafe, 403},
		{KindForbidden, 403},
		{KindNotFound, 404},
		{KindCorruptRegistry, 500},
		{KindInternal, 500},
	}
	for _, tt := range tests {
		if got := tt.kind.Status(); got != tt.want {
			t.Errorf("%s.Status() = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(nil); got != "" {
		t.Errorf("KindOf(nil) = %q", got)
	}
	if got := KindOf(errors.New("plain")); got != KindInternal {
		t.Errorf("KindOf(plain) = %q, want internal", got)
	}
	wrapped := errors.Join(errors.New("ctx"), NotFound("gone", nil))
	if got := KindOf(wrapped); got != KindNotFound {
		t.Errorf("KindOf(wrapped) = %q, want not_found", got)
	}
	if !IsKind(Forbidden("no", nil), KindForbidden) {
		t.Error("IsKind(Forbidden) = false")
	}
}

func TestManifest_Declared(t *testing.T) {
	m := Manifest{
		Entry: "index.xhtml",
		Assets: []Asset{
			{Path: "a.png", Type: "png"},
			{Path: "a.png", Type: "jpeg"},
		},
	}
	if _, isEntry, ok := m.Declared("index.xhtml"); !ok || !isEntry {
		t.Error("entry not declared")
	}
	a, isEntry, ok := m.Declared("a.png")
	if !ok || isEntry || a.Type != "png" {
		t.Errorf("Declared(a.png) = %+v %v %v, want first declaration", a, isEntry, ok)
	}
	if _, _, ok := m.Declared("secret.txt"); ok {
		t.Error("undeclared path reported as declared")
	}
}

func TestOpenArchive_IgnoresDirectories(t *testing.T) {
	data := buildZip(t, zipFile{Name: "img/", Data: nil}, zipFile{Name: "img/a.png", Data: pngBytes(t)})
	a, err := OpenArchive(data)
	if err != nil {
		t.Fatalf("OpenArchive() error = %v", err)
	}
	if _, err := a.ReadFile("img/"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadFile(img/) error = %v, want fs.ErrNotExist", err)
	}
	if _, err := a.ReadFile("img/a.png"); err != nil {
		t.Errorf("ReadFile(img/a.png) error = %v", err)
	}
	if len(a.files) != 1 {
		t.Errorf("indexed %d files, want 1", len(a.files))
	}
}

func FuzzValidate(f *testing.F) {
	f.Add([]byte("PK\x03\x04"))
	f.Add([]byte{})
	v := NewValidator()
	f.Fuzz(func(t *testing.T, data []byte) {
		_, err := v.Validate(context.Background(), data)
		if err == nil {
			return
		}
		var pe *Error
		if !errors.As(err, &pe) {
			t.Fatalf("Validate() returned %T, want *Error", err)
		}
	})
}
