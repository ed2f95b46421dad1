package webhook

// ResultKind tags the variant held by a Result.
type ResultKind int

const (
	// ResultEmpty answers with the default {"success":true} body.
	ResultEmpty ResultKind = iota
	// ResultJSON answers with the value serialized as JSON.
	ResultJSON
	// ResultText answers with the text verbatim as text/plain.
	ResultText
)

func (k ResultKind) String() string {
	switch k {
	case ResultEmpty:
		return "empty"
	case ResultJSON:
		return "json"
	case ResultText:
		return "text"
	default:
		return "unknown"
	}
}

// Result is what a handler wants sent back to the platform. The zero value is
// an empty result.
type Result struct {
	kind  ResultKind
	value any
	text  string
}

// JSON answers with v serialized as JSON. A nil v is an empty result.
func JSON(v any) Result {
	if v == nil {
		return Empty()
	}
	return Result{kind: ResultJSON, value: v}
}

// Text answers with s as a plain-text body. An empty s is an empty result.
func Text(s string) Result {
	if s == "" {
		return Empty()
	}
	return Result{kind: ResultText, text: s}
}

// Empty answers with the default success body.
func Empty() Result {
	return Result{}
}

func (r Result) Kind() ResultKind {
	return r.kind
}

// Value returns the JSON value of a ResultJSON.
func (r Result) Value() any {
	return r.value
}

// Body returns the text of a ResultText.
func (r Result) Body() string {
	return r.text
}
