// Package sender posts messages to the platform's incoming webhook.
//
// Every call is one attempt: the destination is resolved, the message is
// validated against the outbound schema and serialized, and the single HTTP
// request either succeeds or surfaces a categorized failure. Nothing is
// retried and no state is kept between calls.
package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"synochat/pkg/failure"
	"synochat/pkg/message"
	"synochat/pkg/normalize"
	"synochat/pkg/schema"
)

// DefaultTimeout bounds one delivery when Options.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Encoding selects how the message is placed in the request body.
type Encoding string

const (
	// EncodingJSON posts the message as an application/json body.
	EncodingJSON Encoding = "json"
	// EncodingForm posts payload=<json> as a form body, the shape the
	// platform's incoming webhook documents.
	EncodingForm Encoding = "form"
)

// ParseEncoding resolves an encoding name; empty means JSON.
func ParseEncoding(name string) (Encoding, error) {
	switch Encoding(strings.ToLower(strings.TrimSpace(name))) {
	case "", EncodingJSON:
		return EncodingJSON, nil
	case EncodingForm:
		return EncodingForm, nil
	default:
		return "", failure.New(failure.Configuration, fmt.Sprintf("unknown sender encoding %q", name))
	}
}

// ErrNoDestination is returned when neither a per-call URL nor a default
// webhook URL is configured.
var ErrNoDestination = failure.New(failure.Configuration, "no webhook url configured")

// Options configures a Client.
type Options struct {
	WebhookURL string
	HTTPClient *http.Client
	// Timeout bounds each delivery. Zero uses DefaultTimeout; negative
	// disables the deadline.
	Timeout        time.Duration
	Encoding       Encoding
	SkipValidation bool
	Logger         *slog.Logger
}

// Client delivers messages. It is safe for concurrent use.
type Client struct {
	webhookURL     string
	http           *http.Client
	timeout        time.Duration
	encoding       Encoding
	skipValidation bool
	log            *slog.Logger
}

// Reply is the remote acknowledgment. A body that is not a JSON object is
// reported as {"success": true, "raw": <body>}.
type Reply map[string]any

// Success reports the remote's success flag.
func (r Reply) Success() bool {
	ok, _ := r["success"].(bool)
	return ok
}

// Raw returns the unparsed body when the remote did not answer with JSON.
func (r Reply) Raw() (string, bool) {
	raw, ok := r["raw"].(string)
	return raw, ok
}

// SendOption adjusts one call.
type SendOption func(*sendOptions)

type sendOptions struct {
	url string
}

// WithURL overrides the configured webhook URL for one call.
func WithURL(rawURL string) SendOption {
	return func(o *sendOptions) {
		o.url = strings.TrimSpace(rawURL)
	}
}

// New builds a client.
func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	timeout := opts.Timeout
	switch {
	case timeout == 0:
		timeout = DefaultTimeout
	case timeout < 0:
		timeout = 0
	}

	encoding := opts.Encoding
	if encoding == "" {
		encoding = EncodingJSON
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		webhookURL:     strings.TrimSpace(opts.WebhookURL),
		http:           httpClient,
		timeout:        timeout,
		encoding:       encoding,
		skipValidation: opts.SkipValidation,
		log:            log.With("component", "sender"),
	}
}

// Send delivers a typed message.
func (c *Client) Send(ctx context.Context, m message.Message, opts ...SendOption) (Reply, error) {
	value, err := message.ToValue(m)
	if err != nil {
		return nil, err
	}
	return c.deliver(ctx, value, opts)
}

// SendText delivers a text-only message.
func (c *Client) SendText(ctx context.Context, text string, opts ...SendOption) (Reply, error) {
	return c.deliver(ctx, text, opts)
}

// SendJSON delivers a message given as raw JSON: either a bare JSON string or
// an object. Unknown properties are rejected unless validation is skipped.
func (c *Client) SendJSON(ctx context.Context, raw []byte, opts ...SendOption) (Reply, error) {
	value, err := normalize.JSON(raw)
	if err != nil {
		return nil, err
	}
	return c.deliver(ctx, value, opts)
}

func (c *Client) deliver(ctx context.Context, value any, opts []SendOption) (Reply, error) {
	var o sendOptions
	for _, opt := range opts {
		opt(&o)
	}

	destination, err := c.destination(o.url)
	if err != nil {
		return nil, err
	}

	if !c.skipValidation {
		if err := schema.Validate(schema.Outbound, value).Err(); err != nil {
			return nil, err
		}
	}

	body, contentType, err := c.encode(value)
	if err != nil {
		return nil, err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, destination, bytes.NewReader(body))
	if err != nil {
		return nil, failure.Wrap(failure.Configuration, "build request", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	log := c.log.With("destination", redact(destination), "encoding", string(c.encoding))
	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Error("Message delivery timed out", "timeout", c.timeout)
			return nil, failure.Wrap(failure.Timeout, "deliver message", err)
		}
		log.Error("Message delivery failed", "error", err)
		return nil, failure.Wrap(failure.Transport, "deliver message", err)
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, failure.Wrap(failure.Transport, "read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn("Webhook rejected message", "status", resp.StatusCode, "duration", time.Since(start))
		return nil, failure.Status(resp.StatusCode, strings.TrimSpace(string(text)))
	}

	log.Debug("Message delivered", "status", resp.StatusCode, "duration", time.Since(start))
	return parseReply(text), nil
}

func (c *Client) destination(override string) (string, error) {
	destination := override
	if destination == "" {
		destination = c.webhookURL
	}
	if destination == "" {
		return "", ErrNoDestination
	}

	u, err := url.Parse(destination)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", failure.New(failure.Configuration, fmt.Sprintf("webhook url %q is not an http(s) URL", redact(destination)))
	}

	return destination, nil
}

// encode serializes value, rewriting a bare string to {"text": ...}.
func (c *Client) encode(value any) ([]byte, string, error) {
	var body []byte
	if text, ok := value.(string); ok {
		encoded, err := sjson.SetBytes([]byte(`{}`), "text", text)
		if err != nil {
			return nil, "", fmt.Errorf("encode text message: %w", err)
		}
		body = encoded
	} else {
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, "", fmt.Errorf("encode message: %w", err)
		}
		body = encoded
	}

	if c.encoding == EncodingForm {
		form := url.Values{normalize.CarrierField: {string(body)}}
		return []byte(form.Encode()), "application/x-www-form-urlencoded", nil
	}

	return body, "application/json", nil
}

func parseReply(text []byte) Reply {
	if gjson.ValidBytes(text) {
		if parsed := gjson.ParseBytes(text); parsed.IsObject() {
			if obj, ok := parsed.Value().(map[string]any); ok {
				return Reply(obj)
			}
		}
	}

	return Reply{"success": true, "raw": string(text)}
}

// redact drops the query string, which carries the platform token.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	u.RawQuery = ""
	u.User = nil
	u.Fragment = ""
	return u.String()
}
