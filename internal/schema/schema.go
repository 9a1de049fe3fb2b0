// Package schema validates plugin entry documents against the bundled
// structural schema.
//
// The schema is a YAML definition embedded in the binary (sc-plugin.yaml).
// It names the document namespace and root element, the attributes every
// element may carry, reusable element groups, and per-element rules:
// allowed children, required children, allowed attributes with value
// types, and whether text content is permitted.
//
// [Schema.Validate] reports every violation in one pass. [WellFormed] is
// the light check used when serving an already-installed document.
package schema

import (
	"bytes"
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/keithlinneman/linnemanlabs-plugins/internal/xerrors"
)

//go:embed sc-plugin.yaml
var bundled []byte

// AttrType is the value type of an attribute.
type AttrType string

const (
	TypeString  AttrType = "string"
	TypeName    AttrType = "name"
	TypeInteger AttrType = "integer"
	TypeNumber  AttrType = "number"
	TypeBoolean AttrType = "boolean"
	TypePath    AttrType = "path"
	TypeEnum    AttrType = "enum"
)

// AttrSpec describes one allowed attribute. In YAML it is either a bare
// type name or a mapping with type, required and values.
type AttrSpec struct {
	Type     AttrType `yaml:"type"`
	Required bool     `yaml:"required"`
	Values   []string `yaml:"values"`
}

func (a *AttrSpec) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		a.Type = AttrType(n.Value)
		return nil
	}
	type plain AttrSpec
	var p plain
	if err := n.Decode(&p); err != nil {
		return err
	}
	*a = AttrSpec(p)
	return nil
}

type elementSpec struct {
	Text       bool                `yaml:"text"`
	Children   []string            `yaml:"children"`
	Required   []string            `yaml:"required"`
	Attributes map[string]AttrSpec `yaml:"attributes"`
}

type definition struct {
	Version          int                     `yaml:"version"`
	Namespace        string                  `yaml:"namespace"`
	Root             string                  `yaml:"root"`
	GlobalAttributes map[string]AttrSpec     `yaml:"global_attributes"`
	Groups           map[string][]string     `yaml:"groups"`
	Elements         map[string]*elementSpec `yaml:"elements"`
}

type element struct {
	text     bool
	children map[string]bool
	required []string
	attrs    map[string]AttrSpec
	// attribute names that must be present, sorted
	mustHave []string
}

// Schema is a compiled, immutable document schema. It is safe for
// concurrent use.
type Schema struct {
	version   int
	namespace string
	root      string
	global    map[string]AttrSpec
	elements  map[string]*element
}

var (
	defaultOnce   sync.Once
	defaultSchema *Schema
)

// Default returns the schema bundled with the binary.
func Default() *Schema {
	defaultOnce.Do(func() {
		s, err := Load(bundled)
		if err != nil {
			panic(fmt.Sprintf("schema: bundled definition is invalid: %v", err))
		}
		defaultSchema = s
	})
	return defaultSchema
}

// Load compiles a YAML schema definition.
func Load(data []byte) (*Schema, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var def definition
	if err := dec.Decode(&def); err != nil {
		return nil, xerrors.Wrap(err, "schema: decode definition")
	}
	if def.Namespace == "" {
		return nil, xerrors.New("schema: namespace is required")
	}
	if def.Root == "" {
		return nil, xerrors.New("schema: root is required")
	}
	if _, ok := def.Elements[def.Root]; !ok {
		return nil, xerrors.Newf("schema: root element <%s> is not defined", def.Root)
	}
	for name, spec := range def.GlobalAttributes {
		if err := checkAttrSpec(spec); err != nil {
			return nil, xerrors.Wrapf(err, "schema: global attribute %q", name)
		}
	}

	s := &Schema{
		version:   def.Version,
		namespace: def.Namespace,
		root:      def.Root,
		global:    def.GlobalAttributes,
		elements:  make(map[string]*element, len(def.Elements)),
	}

	for name, spec := range def.Elements {
		if spec == nil {
			spec = &elementSpec{}
		}
		el := &element{
			text:     spec.Text,
			children: make(map[string]bool),
			required: spec.Required,
			attrs:    spec.Attributes,
		}
		for _, ref := range spec.Children {
			names, err := expand(def.Groups, ref, nil)
			if err != nil {
				return nil, xerrors.Wrapf(err, "schema: element <%s>", name)
			}
			for _, n := range names {
				if _, ok := def.Elements[n]; !ok {
					return nil, xerrors.Newf("schema: element <%s> allows undefined child <%s>", name, n)
				}
				el.children[n] = true
			}
		}
		for _, req := range spec.Required {
			if !el.children[req] {
				return nil, xerrors.Newf("schema: element <%s> requires <%s> but does not allow it", name, req)
			}
		}
		for attr, as := range spec.Attributes {
			if err := checkAttrSpec(as); err != nil {
				return nil, xerrors.Wrapf(err, "schema: attribute %q on <%s>", attr, name)
			}
			if as.Required {
				el.mustHave = append(el.mustHave, attr)
			}
		}
		sort.Strings(el.mustHave)
		s.elements[name] = el
	}
	return s, nil
}

// Version returns the definition version number.
func (s *Schema) Version() int { return s.version }

// Namespace returns the namespace every element must belong to.
func (s *Schema) Namespace() string { return s.namespace }

// expand resolves a child reference, following "%group" references.
func expand(groups map[string][]string, ref string, seen []string) ([]string, error) {
	if !strings.HasPrefix(ref, "%") {
		return []string{ref}, nil
	}
	name := ref[1:]
	for _, s := range seen {
		if s == name {
			return nil, xerrors.Newf("group %q is recursive", name)
		}
	}
	members, ok := groups[name]
	if !ok {
		return nil, xerrors.Newf("unknown group %q", name)
	}
	var out []string
	for _, m := range members {
		names, err := expand(groups, m, append(seen, name))
		if err != nil {
			return nil, err
		}
		out = append(out, names...)
	}
	return out, nil
}

func checkAttrSpec(a AttrSpec) error {
	switch a.Type {
	case TypeString, TypeName, TypeInteger, TypeNumber, TypeBoolean, TypePath:
		return nil
	case TypeEnum:
		if len(a.Values) == 0 {
			return xerrors.New("enum without values")
		}
		return nil
	default:
		return xerrors.Newf("unknown type %q", a.Type)
	}
}
