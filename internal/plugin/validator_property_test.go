//go:build property
// +build property

package plugin

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestValidateProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 50
	properties := gopter.NewProperties(params)

	v := NewValidator()
	png := pngBytes(t)

	name := gen.RegexMatch(`^[A-Za-z0-9_-]{1,24}$`)
	version := gen.RegexMatch(`^[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}$`)
	author := gen.AlphaString().SuchThat(func(s string) bool { return s != "" })

	build := func(m map[string]any) []byte {
		return buildZip(t,
			zipFile{Name: ManifestFile, Data: manifestJSON(t, m)},
			zipFile{Name: "index.xhtml", Data: []byte(entryDoc)},
			zipFile{Name: "icon.png", Data: png},
		)
	}

	// Property: valid manifests round-trip into Info unchanged
	properties.Property("valid packages echo their manifest", prop.ForAll(
		func(n, ver, a string) bool {
			info, err := v.Validate(context.Background(), build(map[string]any{
				"name": n, "version": ver, "author": a, "entry": "index.xhtml",
				"assets": []any{map[string]any{"path": "icon.png", "type": "png"}},
			}))
			return err == nil &&
				info.Name == n && info.Version == ver && info.Author == a &&
				info.Entry == "index.xhtml" && len(info.Assets) == 1
		},
		name, version, author,
	))

	// Property: any parent segment in a declared path is rejected as unsafe
	properties.Property("traversal is path unsafe", prop.ForAll(
		func(prefix string, asAsset bool) bool {
			bad := prefix + "/../../" + prefix
			m := scenarioManifest()
			if asAsset {
				m["assets"] = []any{map[string]any{"path": bad, "type": "png"}}
			} else {
				m["entry"] = bad
			}
			_, err := v.Validate(context.Background(), build(m))
			return KindOf(err) == KindPathUnsafe
		},
		gen.RegexMatch(`^[a-z]{1,8}$`),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
