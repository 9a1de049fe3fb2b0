package cfg

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/keithlinneman/linnemanlabs-plugins/internal/xerrors"
)

// Load fills flags not given on the command line, first from the
// environment and then from the -config file. fs must already be parsed.
// Bad env values are reported through logf and skipped; a bad config file
// is an error.
func Load(fs *flag.FlagSet, prefix string, logf func(string, ...any)) error {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	set := explicitFlags(fs)
	for name := range FillFromEnv(fs, prefix, set, logf) {
		set[name] = true
	}
	path := fs.Lookup("config")
	if path == nil || path.Value.String() == "" {
		return nil
	}
	return FillFromFile(fs, path.Value.String(), set)
}

func explicitFlags(fs *flag.FlagSet) map[string]bool {
	out := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { out[f.Name] = true })
	return out
}

// EnvKey maps flag "foo-bar" to PREFIX_FOO_BAR.
func EnvKey(prefix, name string) string {
	return prefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// FillFromEnv sets each flag not in skip from its env var and returns the
// names it set.
func FillFromEnv(fs *flag.FlagSet, prefix string, skip map[string]bool, logf func(string, ...any)) map[string]bool {
	applied := make(map[string]bool)
	fs.VisitAll(func(f *flag.Flag) {
		key := EnvKey(prefix, f.Name)
		val, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		if skip[f.Name] {
			logf("flag -%s: command line value %q wins over %s", f.Name, f.Value.String(), key)
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, val); err != nil {
			_ = fs.Set(f.Name, prev)
			logf("flag -%s: ignoring invalid %s=%q: %v", f.Name, key, val, err)
			return
		}
		applied[f.Name] = true
	})
	return applied
}

// FillFromFile reads a YAML mapping of flag names to scalar values and sets
// each flag not in skip. Unknown keys and non-scalar values are errors.
func FillFromFile(fs *flag.FlagSet, path string, skip map[string]bool) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return xerrors.Wrapf(err, "reading config file %q", path)
	}
	var doc yaml.Node
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return xerrors.Wrapf(err, "parsing config file %q", path)
	}
	if len(doc.Content) == 0 {
		return nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return xerrors.Newf("config file %q: top level must be a mapping", path)
	}

	var errs []string
	for i := 0; i+1 < len(root.Content); i += 2 {
		k, v := root.Content[i], root.Content[i+1]
		name := k.Value
		f := fs.Lookup(name)
		switch {
		case f == nil || name == "config":
			errs = append(errs, fmt.Sprintf("line %d: unknown setting %q", k.Line, name))
			continue
		case v.Kind != yaml.ScalarNode:
			errs = append(errs, fmt.Sprintf("line %d: %s must be a single value", v.Line, name))
			continue
		case skip[name]:
			continue
		}
		if err := fs.Set(name, v.Value); err != nil {
			errs = append(errs, fmt.Sprintf("line %d: %s: %v", v.Line, name, err))
		}
	}
	if len(errs) > 0 {
		return xerrors.Newf("config file %q: %s", path, strings.Join(errs, "; "))
	}
	return nil
}
