// Package message defines the chat message exchanged with the platform in both
// directions and converts it to and from the canonical generic value that the
// normalizer produces and the schema validates.
package message

import (
	"encoding/json"
	"fmt"

	"synochat/pkg/normalize"
)

// ActionType identifies the kind of interactive element on an attachment.
type ActionType string

const ActionButton ActionType = "button"

// ActionTypes lists every accepted action type.
func ActionTypes() []string {
	return []string{string(ActionButton)}
}

// Style is the color of a button action.
type Style string

const (
	StyleGreen  Style = "green"
	StyleGrey   Style = "grey"
	StyleRed    Style = "red"
	StyleOrange Style = "orange"
	StyleBlue   Style = "blue"
	StyleTeal   Style = "teal"
)

// Styles lists every accepted button style.
func Styles() []string {
	return []string{
		string(StyleGreen),
		string(StyleGrey),
		string(StyleRed),
		string(StyleOrange),
		string(StyleBlue),
		string(StyleTeal),
	}
}

// Message is the canonical chat message.
//
// An empty UserIDs slice means the message goes to the channel rather than to
// specific users.
type Message struct {
	Text        string       `json:"text"`
	FileURL     string       `json:"file_url,omitempty"`
	UserIDs     []int64      `json:"user_ids,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is a secondary content block. CallbackID correlates a later
// button activation with the attachment that carried the button.
type Attachment struct {
	Text       string   `json:"text"`
	CallbackID string   `json:"callback_id,omitempty"`
	Actions    []Action `json:"actions,omitempty"`
}

// Action is an interactive button. Name tells the handler which button fired
// and Value is echoed back on activation.
type Action struct {
	Type  ActionType `json:"type"`
	Name  string     `json:"name"`
	Text  string     `json:"text"`
	Value string     `json:"value"`
	Style Style      `json:"style,omitempty"`
}

// Text is the bare-string form of a message.
func Text(text string) Message {
	return Message{Text: text}
}

// Button builds a button action.
func Button(name, text, value string, style Style) Action {
	return Action{Type: ActionButton, Name: name, Text: text, Value: value, Style: style}
}

// ToValue converts m into the generic value tree (maps, slices, strings and
// float64 numbers) used for schema validation.
func ToValue(m Message) (any, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}

	return normalize.Decode(raw), nil
}

// FromValue decodes a canonical value into a Message. A bare string becomes
// a message with that text. Properties the Message does not model are
// ignored; callers that need them keep the original value.
func FromValue(value any) (Message, error) {
	if text, ok := value.(string); ok {
		return Text(text), nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return Message{}, fmt.Errorf("encode canonical value: %w", err)
	}

	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}

	return m, nil
}
