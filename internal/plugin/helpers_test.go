package plugin

import (
	"testing"

	"github.com/keithlinneman/linnemanlabs-plugins/internal/plugin/plugintest"
)

const entryDoc = plugintest.EntryDoc

type zipFile = plugintest.File

func buildZip(t *testing.T, files ...zipFile) []byte {
	t.Helper()
	return plugintest.Zip(t, files...)
}

func manifestJSON(t *testing.T, m map[string]any) []byte {
	t.Helper()
	return plugintest.JSON(t, m)
}

func scenarioManifest() map[string]any {
	return plugintest.Manifest("synth-control", "1.0.0", "Jane")
}

func pngBytes(t *testing.T) []byte  { t.Helper(); return plugintest.PNG(t) }
func jpegBytes(t *testing.T) []byte { t.Helper(); return plugintest.JPEG(t) }

// scenarioPackage builds a valid package around manifest m.
func scenarioPackage(t *testing.T, m map[string]any) []byte {
	t.Helper()
	return plugintest.Package(t, m)
}

func kindOf(t *testing.T, err error) Kind {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	return KindOf(err)
}
