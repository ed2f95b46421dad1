// Package schema describes what a valid chat message looks like and validates
// candidate values against that description.
//
// The description is a tree of Nodes shared by two profiles. The inbound
// profile tolerates properties the platform adds that this module does not
// model; the outbound profile is closed at every level so the platform's strict
// parser never sees a field it would reject.
package schema

import (
	"fmt"
	"strings"

	"synochat/pkg/message"
)

// Profile selects the strictness of the message schema.
type Profile int

const (
	// Inbound tolerates unknown properties and does not require callback_id.
	Inbound Profile = iota + 1
	// Outbound accepts a bare string or a closed object.
	Outbound
)

func (p Profile) String() string {
	switch p {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	default:
		return fmt.Sprintf("profile(%d)", int(p))
	}
}

// ParseProfile resolves a profile by name.
func ParseProfile(name string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "inbound", "receive":
		return Inbound, nil
	case "outbound", "send":
		return Outbound, nil
	default:
		return 0, fmt.Errorf("unknown schema profile %q", name)
	}
}

// Type is a JSON value type a Node accepts.
type Type string

const (
	TypeObject  Type = "object"
	TypeArray   Type = "array"
	TypeString  Type = "string"
	TypeInteger Type = "integer"
)

// Format is an additional syntactic constraint on strings.
type Format string

// FormatURI requires an absolute URL with a scheme and a host.
const FormatURI Format = "uri"

// Node is one declarative schema element.
type Node struct {
	// Types lists the accepted value types. Object, array and string rules
	// below only apply when the value has that type.
	Types []Type

	Properties map[string]*Node
	Required   []string
	// RequiredWhenNonEmpty maps an array property to properties that become
	// required once that array has at least one element.
	RequiredWhenNonEmpty map[string][]string
	// Closed rejects properties not listed in Properties.
	Closed bool

	Items *Node

	Enum   []string
	Format Format
}

func str() *Node {
	return &Node{Types: []Type{TypeString}}
}

func enum(values ...string) *Node {
	return &Node{Types: []Type{TypeString}, Enum: values}
}

func arrayOf(items *Node) *Node {
	return &Node{Types: []Type{TypeArray}, Items: items}
}

// MessageSchema builds the message description for a profile. Both profiles
// share one shape; only strictness differs.
func MessageSchema(profile Profile) *Node {
	strict := profile == Outbound

	action := &Node{
		Types:    []Type{TypeObject},
		Closed:   strict,
		Required: []string{"type", "name", "text", "value"},
		Properties: map[string]*Node{
			"type":  enum(message.ActionTypes()...),
			"name":  str(),
			"text":  str(),
			"value": str(),
			"style": enum(message.Styles()...),
		},
	}

	attachment := &Node{
		Types:    []Type{TypeObject},
		Closed:   strict,
		Required: []string{"text"},
		Properties: map[string]*Node{
			"text":        str(),
			"callback_id": str(),
			"actions":     arrayOf(action),
		},
	}
	if strict {
		attachment.RequiredWhenNonEmpty = map[string][]string{"actions": {"callback_id"}}
	}

	fileURL := str()
	if strict {
		fileURL.Format = FormatURI
	}

	root := &Node{
		Types:    []Type{TypeObject},
		Closed:   strict,
		Required: []string{"text"},
		Properties: map[string]*Node{
			"text":        str(),
			"file_url":    fileURL,
			"user_ids":    arrayOf(&Node{Types: []Type{TypeInteger}}),
			"attachments": arrayOf(attachment),
		},
	}
	if strict {
		root.Types = []Type{TypeString, TypeObject}
	}

	return root
}
