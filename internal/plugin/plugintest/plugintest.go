// Package plugintest builds plugin packages in memory for tests.
package plugintest

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/klauspost/compress/zip"
)

// EntryDoc is a schema-conforming entry document.
const EntryDoc = `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml">
  <head><title>Synth Control</title></head>
  <body>
    <sc-synth node-id="1000">
      <sc-knob node-id="1000" param="freq" min="20" max="20000" value="440"/>
      <img src="icon.png" alt="icon"/>
    </sc-synth>
  </body>
</html>`

// File is one archive member.
type File struct {
	Name string
	Data []byte
}

// Zip builds a zip archive from files in order.
func Zip(tb testing.TB, files ...File) []byte {
	tb.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.Create(f.Name)
		if err != nil {
			tb.Fatalf("zip create %s: %v", f.Name, err)
		}
		if _, err := w.Write(f.Data); err != nil {
			tb.Fatalf("zip write %s: %v", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		tb.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

// Manifest returns the synth-control manifest with author and one png
// asset, icon.png.
func Manifest(name, version, author string) map[string]any {
	return map[string]any{
		"name":    name,
		"version": version,
		"author":  author,
		"entry":   "index.xhtml",
		"assets":  []any{map[string]any{"path": "icon.png", "type": "png"}},
	}
}

// JSON marshals v.
func JSON(tb testing.TB, v any) []byte {
	tb.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		tb.Fatalf("marshal: %v", err)
	}
	return b
}

// Package builds a valid package for manifest m: metadata.json,
// index.xhtml, icon.png and any extra files.
func Package(tb testing.TB, m map[string]any, extra ...File) []byte {
	tb.Helper()
	files := []File{
		{Name: "metadata.json", Data: JSON(tb, m)},
		{Name: "index.xhtml", Data: []byte(EntryDoc)},
		{Name: "icon.png", Data: PNG(tb)},
	}
	return Zip(tb, append(files, extra...)...)
}

// Scenario is Package(Manifest("synth-control", "1.0.0", author)).
func Scenario(tb testing.TB, author string, extra ...File) []byte {
	tb.Helper()
	return Package(tb, Manifest("synth-control", "1.0.0", author), extra...)
}

func img() image.Image {
	m := image.NewRGBA(image.Rect(0, 0, 2, 2))
	m.Set(1, 0, color.RGBA{B: 255, A: 255})
	return m
}

// PNG returns a small genuine PNG image.
func PNG(tb testing.TB) []byte {
	tb.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img()); err != nil {
		tb.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// JPEG returns a small genuine JPEG image.
func JPEG(tb testing.TB) []byte {
	tb.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img(), nil); err != nil {
		tb.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}
