package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"synochat/pkg/failure"
)

// Kind categorizes a violation.
type Kind string

const (
	KindMissingRequired    Kind = "missing_required_property"
	KindWrongType          Kind = "wrong_type"
	KindNotInEnumeration   Kind = "value_not_in_enumeration"
	KindUnexpectedProperty Kind = "unexpected_property"
	KindInvalidFormat      Kind = "invalid_format"
)

// Violation is one schema failure. Path is a JSON pointer into the candidate;
// the empty pointer is the root.
type Violation struct {
	Path   string `json:"path"`
	Kind   Kind   `json:"kind"`
	Detail string `json:"detail"`
}

func (v Violation) String() string {
	path := v.Path
	if path == "" {
		path = "(root)"
	}
	return fmt.Sprintf("%s: %s: %s", path, v.Kind, v.Detail)
}

// Result reports whether a candidate passed and every violation found.
type Result struct {
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations"`
}

// Err converts an invalid result into a schema_violation failure whose cause
// is a *ViolationError. A valid result yields nil.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return failure.Wrap(failure.SchemaViolation, "invalid message", &ViolationError{Violations: r.Violations})
}

// ViolationError carries the violations of a rejected message.
type ViolationError struct {
	Violations []Violation
}

func (e *ViolationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.String())
	}
	return strings.Join(parts, "; ")
}

// Validator is a compiled schema. It holds no mutable state and is safe for
// concurrent use.
type Validator struct {
	profile Profile
	root    *compiled
}

type compiled struct {
	node       *Node
	types      map[Type]struct{}
	properties map[string]*compiled
	items      *compiled
	enum       map[string]struct{}
}

var (
	inboundValidator  = Compile(Inbound)
	outboundValidator = Compile(Outbound)
)

// Compile builds a reusable validator for the message schema of profile.
func Compile(profile Profile) *Validator {
	return &Validator{profile: profile, root: compile(MessageSchema(profile))}
}

// CompileNode builds a validator for an arbitrary schema tree.
func CompileNode(node *Node) *Validator {
	return &Validator{root: compile(node)}
}

// Validate checks candidate against the message schema of profile.
func Validate(profile Profile, candidate any) Result {
	switch profile {
	case Inbound:
		return inboundValidator.Validate(candidate)
	case Outbound:
		return outboundValidator.Validate(candidate)
	default:
		return Compile(profile).Validate(candidate)
	}
}

// Profile returns the profile the validator was compiled for, or zero for a
// custom tree.
func (v *Validator) Profile() Profile {
	return v.profile
}

// Validate walks candidate and collects every violation.
func (v *Validator) Validate(candidate any) Result {
	violations := make([]Violation, 0)
	v.root.walk(candidate, "", &violations)

	return Result{Valid: len(violations) == 0, Violations: violations}
}

func compile(node *Node) *compiled {
	if node == nil {
		return nil
	}

	c := &compiled{node: node, types: make(map[Type]struct{}, len(node.Types))}
	for _, t := range node.Types {
		c.types[t] = struct{}{}
	}

	if len(node.Properties) > 0 {
		c.properties = make(map[string]*compiled, len(node.Properties))
		for name, child := range node.Properties {
			c.properties[name] = compile(child)
		}
	}

	c.items = compile(node.Items)

	if len(node.Enum) > 0 {
		c.enum = make(map[string]struct{}, len(node.Enum))
		for _, value := range node.Enum {
			c.enum[value] = struct{}{}
		}
	}

	return c
}

func (c *compiled) walk(value any, path string, out *[]Violation) {
	actual := typeOf(value)
	if !c.accepts(actual) {
		*out = append(*out, Violation{
			Path:   path,
			Kind:   KindWrongType,
			Detail: fmt.Sprintf("expected %s, got %s", c.expected(), actual),
		})
		return
	}

	switch actual {
	case "object":
		c.walkObject(value.(map[string]any), path, out)
	case "array":
		if c.items == nil {
			return
		}
		for i, item := range value.([]any) {
			c.items.walk(item, path+"/"+strconv.Itoa(i), out)
		}
	case "string":
		c.checkString(value.(string), path, out)
	}
}

func (c *compiled) walkObject(obj map[string]any, path string, out *[]Violation) {
	node := c.node

	for _, name := range node.Required {
		if _, ok := obj[name]; !ok {
			*out = append(*out, Violation{
				Path:   path,
				Kind:   KindMissingRequired,
				Detail: fmt.Sprintf("missing property %q", name),
			})
		}
	}

	triggers := make([]string, 0, len(node.RequiredWhenNonEmpty))
	for trigger := range node.RequiredWhenNonEmpty {
		triggers = append(triggers, trigger)
	}
	slices.Sort(triggers)

	for _, trigger := range triggers {
		items, ok := obj[trigger].([]any)
		if !ok || len(items) == 0 {
			continue
		}
		for _, name := range node.RequiredWhenNonEmpty[trigger] {
			if _, ok := obj[name]; !ok {
				*out = append(*out, Violation{
					Path:   path,
					Kind:   KindMissingRequired,
					Detail: fmt.Sprintf("missing property %q required when %q is not empty", name, trigger),
				})
			}
		}
	}

	keys := make([]string, 0, len(obj))
	for key := range obj {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	for _, key := range keys {
		child, known := c.properties[key]
		if !known {
			if node.Closed {
				*out = append(*out, Violation{
					Path:   path + "/" + escapePointer(key),
					Kind:   KindUnexpectedProperty,
					Detail: fmt.Sprintf("property %q is not allowed", key),
				})
			}
			continue
		}
		child.walk(obj[key], path+"/"+escapePointer(key), out)
	}
}

func (c *compiled) checkString(s string, path string, out *[]Violation) {
	if c.enum != nil {
		if _, ok := c.enum[s]; !ok {
			*out = append(*out, Violation{
				Path:   path,
				Kind:   KindNotInEnumeration,
				Detail: fmt.Sprintf("%q is not one of %s", s, strings.Join(c.node.Enum, ", ")),
			})
		}
	}

	if c.node.Format == FormatURI && !isURL(s) {
		*out = append(*out, Violation{
			Path:   path,
			Kind:   KindInvalidFormat,
			Detail: fmt.Sprintf("%q is not an absolute URL", s),
		})
	}
}

func (c *compiled) accepts(actual string) bool {
	_, ok := c.types[Type(actual)]
	return ok
}

func (c *compiled) expected() string {
	names := make([]string, 0, len(c.node.Types))
	for _, t := range c.node.Types {
		names = append(names, string(t))
	}
	return strings.Join(names, " or ")
}

// typeOf names the JSON type of a decoded value. Integral numbers report
// "integer"; other numbers report "number".
func typeOf(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64:
		return numberType(v)
	case float32:
		return numberType(float64(v))
	case json.Number:
		if _, err := v.Int64(); err == nil {
			return "integer"
		}
		return "number"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "integer"
	default:
		return fmt.Sprintf("%T", value)
	}
}

// maxExactInteger is the largest magnitude a float64 holds without rounding.
const maxExactInteger = 1 << 53

func numberType(f float64) string {
	if !math.IsInf(f, 0) && !math.IsNaN(f) && f == math.Trunc(f) && math.Abs(f) <= maxExactInteger {
		return "integer"
	}
	return "number"
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}

func escapePointer(token string) string {
	token = strings.ReplaceAll(token, "~", "~0")
	return strings.ReplaceAll(token, "/", "~1")
}
