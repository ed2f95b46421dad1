// Package normalize reduces the platform's inbound webhook encodings to one
// canonical message value.
//
// JSON bodies decode as-is. Form bodies either carry the message as JSON in
// the payload field, or carry flat fields that fold into an object of strings.
// Types are never coerced here; the schema decides what is acceptable.
package normalize

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"synochat/pkg/failure"
)

// CarrierField is the form field holding a JSON-encoded message.
const CarrierField = "payload"

// Encoding is a supported inbound body encoding.
type Encoding int

const (
	EncodingJSON Encoding = iota + 1
	EncodingForm
)

func (e Encoding) String() string {
	switch e {
	case EncodingJSON:
		return "json"
	case EncodingForm:
		return "form"
	default:
		return "unknown"
	}
}

// Detect maps a Content-Type header to an encoding.
func Detect(contentType string) (Encoding, error) {
	if strings.TrimSpace(contentType) == "" {
		return 0, failure.New(failure.UnsupportedMediaType, "missing content type")
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return 0, failure.Wrap(failure.UnsupportedMediaType, fmt.Sprintf("parse content type %q", contentType), err)
	}

	switch {
	case mediaType == "application/json", strings.HasSuffix(mediaType, "+json"):
		return EncodingJSON, nil
	case mediaType == "application/x-www-form-urlencoded":
		return EncodingForm, nil
	default:
		return 0, failure.New(failure.UnsupportedMediaType, fmt.Sprintf("content type %q is not supported", mediaType))
	}
}

// Body decodes body according to its declared content type.
func Body(contentType string, body []byte) (any, error) {
	encoding, err := Detect(contentType)
	if err != nil {
		return nil, err
	}

	switch encoding {
	case EncodingJSON:
		return JSON(body)
	case EncodingForm:
		return Form(body)
	default:
		return nil, failure.New(failure.UnsupportedMediaType, encoding.String())
	}
}

// JSON decodes a JSON document into maps, slices, strings, json.Number
// numbers, booleans and nil.
func JSON(body []byte) (any, error) {
	if !gjson.ValidBytes(body) {
		return nil, failure.New(failure.MalformedEncoding, "body is not valid JSON")
	}

	return Decode(body), nil
}

// Decode converts a valid JSON document into the canonical value. Numbers
// keep their literal text so large ids survive intact.
func Decode(body []byte) any {
	return decode(gjson.ParseBytes(body))
}

func decode(r gjson.Result) any {
	switch {
	case r.IsObject():
		obj := make(map[string]any)
		r.ForEach(func(key, value gjson.Result) bool {
			obj[key.String()] = decode(value)
			return true
		})
		return obj
	case r.IsArray():
		items := make([]any, 0)
		r.ForEach(func(_, value gjson.Result) bool {
			items = append(items, decode(value))
			return true
		})
		return items
	}

	switch r.Type {
	case gjson.Number:
		return json.Number(strings.TrimSpace(r.Raw))
	case gjson.String:
		return r.String()
	case gjson.True:
		return true
	case gjson.False:
		return false
	default:
		return nil
	}
}

// Form decodes a URL-encoded body. A payload field wins over every other
// field. Without it, each key becomes a string property; a repeated key
// becomes an array of strings.
func Form(body []byte) (any, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, failure.Wrap(failure.MalformedEncoding, "body is not valid form encoding", err)
	}

	if carried, ok := values[CarrierField]; ok && len(carried) > 0 {
		value, err := JSON([]byte(carried[0]))
		if err != nil {
			return nil, failure.New(failure.MalformedEncoding, fmt.Sprintf("%s field is not valid JSON", CarrierField))
		}
		return value, nil
	}

	folded := make(map[string]any, len(values))
	for key, list := range values {
		switch len(list) {
		case 0:
			continue
		case 1:
			folded[key] = list[0]
		default:
			items := make([]any, 0, len(list))
			for _, item := range list {
				items = append(items, item)
			}
			folded[key] = items
		}
	}

	return folded, nil
}
