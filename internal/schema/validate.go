package schema

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/keithlinneman/linnemanlabs-plugins/internal/pathutil"
)

const xmlNamespace = "http://www.w3.org/XML/1998/namespace"

var nameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.:-]*$`)

// Violation is a single schema failure.
type Violation struct {
	Line    int
	Message string
}

func (v Violation) String() string {
	if v.Line > 0 {
		return fmt.Sprintf("line %d: %s", v.Line, v.Message)
	}
	return v.Message
}

// MalformedError reports a document that is not well-formed XML.
type MalformedError struct {
	Line int
	Err  error
}

func (e *MalformedError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}
	return e.Err.Error()
}

func (e *MalformedError) Unwrap() error { return e.Err }

// ViolationError carries every violation found in a document.
type ViolationError struct {
	Violations []Violation
}

func (e *ViolationError) Error() string {
	return strings.Join(e.Messages(), "\n")
}

// Messages returns the violations rendered as strings, in document order.
func (e *ViolationError) Messages() []string {
	out := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		out[i] = v.String()
	}
	return out
}

// WellFormed checks that doc is well-formed XML with exactly one root
// element. It does not apply the schema.
func WellFormed(doc []byte) error {
	return scan(doc, func(xml.Token, int) {})
}

// Validate parses doc and checks it against the schema. It returns a
// *MalformedError if the document cannot be parsed, a *ViolationError
// listing every problem if it parses but does not conform, or nil.
func (s *Schema) Validate(doc []byte) error {
	v := &validator{schema: s}
	if err := scan(doc, v.token); err != nil {
		return err
	}
	if len(v.violations) > 0 {
		return &ViolationError{Violations: v.violations}
	}
	return nil
}

// scan decodes doc strictly and hands each token to fn with the line it
// ended on.
func scan(doc []byte, fn func(tok xml.Token, line int)) error {
	d := xml.NewDecoder(bytes.NewReader(doc))
	// no Entity map: only the predefined XML entities and character
	// references decode
	d.Strict = true

	depth, roots := 0, 0
	for {
		tok, err := d.Token()
		line, _ := d.InputPos()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return &MalformedError{Line: line, Err: err}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				roots++
				if roots > 1 {
					return &MalformedError{Line: line, Err: errors.New("multiple root elements")}
				}
			}
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			if depth == 0 && len(bytes.TrimSpace(t)) > 0 {
				return &MalformedError{Line: line, Err: errors.New("text outside the root element")}
			}
		}
		fn(tok, line)
	}
	if roots == 0 {
		return &MalformedError{Err: errors.New("no root element")}
	}
	return nil
}

type frame struct {
	name string
	el   *element
	seen map[string]bool
}

type validator struct {
	schema     *Schema
	stack      []frame
	violations []Violation
}

func (v *validator) addf(line int, format string, args ...any) {
	v.violations = append(v.violations, Violation{Line: line, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) token(tok xml.Token, line int) {
	switch t := tok.(type) {
	case xml.StartElement:
		v.start(t, line)
	case xml.EndElement:
		v.end(line)
	case xml.CharData:
		if len(v.stack) == 0 || len(bytes.TrimSpace(t)) == 0 {
			return
		}
		top := v.stack[len(v.stack)-1]
		if top.el != nil && !top.el.text {
			v.addf(line, "text is not allowed inside <%s>", top.name)
		}
	}
}

func (v *validator) start(t xml.StartElement, line int) {
	s := v.schema
	name := t.Name.Local

	if t.Name.Space != s.namespace {
		v.addf(line, "element <%s> must be in namespace %q", name, s.namespace)
	}

	el := s.elements[name]
	if len(v.stack) == 0 {
		if name != s.root {
			v.addf(line, "root element must be <%s>, found <%s>", s.root, name)
		}
	} else {
		parent := &v.stack[len(v.stack)-1]
		parent.seen[name] = true
		if el != nil && parent.el != nil && !parent.el.children[name] {
			v.addf(line, "element <%s> is not allowed inside <%s>", name, parent.name)
		}
	}

	if el == nil {
		v.addf(line, "element <%s> is not allowed", name)
	} else {
		v.attrs(name, el, t.Attr, line)
	}
	v.stack = append(v.stack, frame{name: name, el: el, seen: make(map[string]bool)})
}

func (v *validator) end(line int) {
	if len(v.stack) == 0 {
		return
	}
	f := v.stack[len(v.stack)-1]
	v.stack = v.stack[:len(v.stack)-1]
	if f.el == nil {
		return
	}
	for _, req := range f.el.required {
		if !f.seen[req] {
			v.addf(line, "<%s> must contain <%s>", f.name, req)
		}
	}
}

func (v *validator) attrs(elName string, el *element, attrs []xml.Attr, line int) {
	present := make(map[string]bool, len(attrs))
	for _, a := range attrs {
		switch {
		case a.Name.Space == "" && a.Name.Local == "xmlns", a.Name.Space == "xmlns":
			continue
		case a.Name.Space == xmlNamespace:
			if a.Name.Local != "lang" {
				v.addf(line, "attribute xml:%s is not allowed on <%s>", a.Name.Local, elName)
			}
			continue
		case a.Name.Space != "":
			v.addf(line, "attribute %s:%s is not allowed on <%s>", a.Name.Space, a.Name.Local, elName)
			continue
		}

		name := a.Name.Local
		present[name] = true
		spec, ok := el.attrs[name]
		if !ok {
			spec, ok = v.schema.global[name]
		}
		if !ok {
			v.addf(line, "attribute %q is not allowed on <%s>", name, elName)
			continue
		}
		if reason := checkValue(name, spec, a.Value); reason != "" {
			v.addf(line, "attribute %q on <%s> %s", name, elName, reason)
		}
	}
	for _, name := range el.mustHave {
		if !present[name] {
			v.addf(line, "<%s> is missing required attribute %q", elName, name)
		}
	}
}

// checkValue returns "" when value fits spec, otherwise the reason.
func checkValue(name string, spec AttrSpec, value string) string {
	switch spec.Type {
	case TypeName:
		if !nameRe.MatchString(value) {
			return "must be a name"
		}
	case TypeInteger:
		if _, err := strconv.ParseInt(value, 10, 64); err != nil {
			return "must be an integer"
		}
	case TypeNumber:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return "must be a number"
		}
	case TypeBoolean:
		switch value {
		case "", "true", "false", name:
		default:
			return "must be true or false"
		}
	case TypePath:
		if !pathutil.IsSafeRelative(value) {
			return "must be a relative path inside the package"
		}
	case TypeEnum:
		for _, allowed := range spec.Values {
			if value == allowed {
				return ""
			}
		}
		return fmt.Sprintf("must be one of %s", strings.Join(spec.Values, ", "))
	}
	return ""
}
