// Package webhook serves the platform's outgoing webhook. Each request runs
// normalize, validate, dispatch: the body is reduced to a canonical message,
// checked against the inbound schema, handed to the registered handler, and the
// handler's Result is mapped to the HTTP response.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"synochat/pkg/failure"
	"synochat/pkg/message"
	"synochat/pkg/normalize"
	"synochat/pkg/schema"
)

const (
	DefaultPath           = "/synology-chat"
	DefaultMaxBodyBytes   = 1 << 20
	DefaultHandlerTimeout = 30 * time.Second

	headerRequestID = "X-Request-ID"

	contentTypeJSON = "application/json"
	contentTypeText = "text/plain; charset=utf-8"
)

// Request is one validated inbound message. Payload is the canonical value,
// including properties the Message type does not model (for example the user
// block attached to button callbacks).
type Request struct {
	ID      string
	Message message.Message
	Payload map[string]any
}

// Handler processes one inbound message. It should honor ctx cancellation.
type Handler func(ctx context.Context, req Request) (Result, error)

// Options configures an Endpoint. A nil Handler means none was supplied.
type Options struct {
	Path     string
	Handler  Handler
	Required bool
	// HandlerTimeout bounds each handler invocation. Negative disables it;
	// zero uses DefaultHandlerTimeout.
	HandlerTimeout time.Duration
	// MaxBodyBytes caps the request body. Zero uses DefaultMaxBodyBytes.
	MaxBodyBytes int64
	Logger       *slog.Logger
}

// Endpoint is an http.Handler for one webhook route. It holds no per-request
// state and is safe for concurrent use.
type Endpoint struct {
	path      string
	handler   Handler
	timeout   time.Duration
	maxBody   int64
	validator *schema.Validator
	log       *slog.Logger
}

// Response is the outcome of processing one request.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
	RequestID   string
}

type errorBody struct {
	Success    bool               `json:"success"`
	Error      string             `json:"error"`
	Violations []schema.Violation `json:"violations,omitempty"`
}

var successBody = []byte(`{"success":true}`)

// New builds an endpoint. It fails when a handler is required but absent.
func New(opts Options) (*Endpoint, error) {
	if opts.Required && opts.Handler == nil {
		return nil, failure.New(failure.Configuration, "webhook handler is required but none was supplied")
	}

	path := strings.TrimSpace(opts.Path)
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		return nil, failure.New(failure.Configuration, fmt.Sprintf("webhook path must start with /: %q", path))
	}
	// ServeMux reads whitespace as a method separator and braces as wildcards.
	if strings.ContainsFunc(path, unicode.IsSpace) || strings.ContainsAny(path, "{}") {
		return nil, failure.New(failure.Configuration, fmt.Sprintf("webhook path must be a literal route: %q", path))
	}

	timeout := opts.HandlerTimeout
	switch {
	case timeout == 0:
		timeout = DefaultHandlerTimeout
	case timeout < 0:
		timeout = 0
	}

	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Endpoint{
		path:      path,
		handler:   opts.Handler,
		timeout:   timeout,
		maxBody:   maxBody,
		validator: schema.Compile(schema.Inbound),
		log:       log.With("component", "webhook", "path", path),
	}, nil
}

// Path returns the route the endpoint expects to be mounted on.
func (e *Endpoint) Path() string {
	return e.path
}

func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, e.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			e.write(w, e.reject("", http.StatusRequestEntityTooLarge, fmt.Sprintf("body exceeds %d bytes", e.maxBody), nil))
			return
		}
		e.write(w, e.reject("", http.StatusBadRequest, "read request body", nil))
		return
	}

	e.write(w, e.Process(r.Context(), r.Header.Get("Content-Type"), body))
}

// Process runs the normalize, validate, dispatch pipeline for one body.
func (e *Endpoint) Process(ctx context.Context, contentType string, body []byte) Response {
	requestID := uuid.NewString()
	log := e.log.With("request_id", requestID)

	value, err := normalize.Body(contentType, body)
	if err != nil {
		log.Warn("Rejected webhook body", "content_type", contentType, "error", err)
		return e.reject(requestID, statusFor(err), err.Error(), nil)
	}

	result := e.validator.Validate(value)
	if !result.Valid {
		log.Warn("Rejected invalid message", "violations", len(result.Violations), "first", result.Violations[0].String())
		return e.reject(requestID, http.StatusBadRequest, "invalid message", result.Violations)
	}

	msg, err := message.FromValue(value)
	if err != nil {
		log.Warn("Rejected undecodable message", "error", err)
		return e.reject(requestID, http.StatusBadRequest, err.Error(), nil)
	}

	payload, _ := value.(map[string]any)
	req := Request{ID: requestID, Message: msg, Payload: payload}

	start := time.Now()
	out, err := e.invoke(ctx, req)
	duration := time.Since(start)
	if err != nil {
		if failure.Is(err, failure.Timeout) {
			log.Error("Webhook handler timed out", "timeout", e.timeout, "error", err)
			return e.reject(requestID, http.StatusGatewayTimeout, "handler timed out", nil)
		}
		log.Error("Webhook handler failed", "duration", duration, "error", err)
		return e.reject(requestID, http.StatusInternalServerError, handlerMessage(err), nil)
	}

	resp, err := render(out)
	if err != nil {
		log.Error("Failed to encode handler result", "error", err)
		return e.reject(requestID, http.StatusInternalServerError, err.Error(), nil)
	}
	resp.RequestID = requestID

	log.Info("Webhook handled", "result", out.Kind().String(), "duration", duration)
	return resp
}

type outcome struct {
	result Result
	err    error
}

// invoke runs the handler under the endpoint deadline. A handler that ignores
// ctx keeps running in its goroutine, but the request is answered.
func (e *Endpoint) invoke(ctx context.Context, req Request) (Result, error) {
	if e.handler == nil {
		return Empty(), nil
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: failure.New(failure.HandlerFault, fmt.Sprintf("handler panicked: %v", p))}
			}
		}()

		result, err := e.handler(ctx, req)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		// Only the endpoint's own deadline is a timeout; a handler whose
		// upstream call timed out has failed like any other handler.
		if out.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, failure.Wrap(failure.Timeout, "handler timed out", out.err)
		}
		return out.result, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, failure.Wrap(failure.Timeout, "handler timed out", ctx.Err())
		}
		return Result{}, failure.Wrap(failure.HandlerFault, "request cancelled", ctx.Err())
	}
}

func render(result Result) (Response, error) {
	switch result.Kind() {
	case ResultJSON:
		body, err := json.Marshal(result.Value())
		if err != nil {
			return Response{}, fmt.Errorf("encode handler result: %w", err)
		}
		return Response{Status: http.StatusOK, ContentType: contentTypeJSON, Body: body}, nil
	case ResultText:
		return Response{Status: http.StatusOK, ContentType: contentTypeText, Body: []byte(result.Body())}, nil
	case ResultEmpty:
		return Response{Status: http.StatusOK, ContentType: contentTypeJSON, Body: successBody}, nil
	default:
		return Response{}, fmt.Errorf("unknown result kind %d", result.Kind())
	}
}

func (e *Endpoint) reject(requestID string, status int, reason string, violations []schema.Violation) Response {
	body, err := json.Marshal(errorBody{Success: false, Error: reason, Violations: violations})
	if err != nil {
		body = []byte(`{"success":false}`)
	}
	return Response{Status: status, ContentType: contentTypeJSON, Body: body, RequestID: requestID}
}

func (e *Endpoint) write(w http.ResponseWriter, resp Response) {
	if resp.RequestID != "" {
		w.Header().Set(headerRequestID, resp.RequestID)
	}
	w.Header().Set("Content-Type", resp.ContentType)
	w.WriteHeader(resp.Status)
	if _, err := w.Write(resp.Body); err != nil {
		e.log.Error("Failed to write webhook response", "error", err)
	}
}

func statusFor(err error) int {
	switch failure.CategoryOf(err) {
	case failure.UnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	case failure.Timeout:
		return http.StatusGatewayTimeout
	case failure.HandlerFault:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// handlerMessage returns the text reported to the platform for a handler
// failure: the handler's own message, without category prefixes added here.
func handlerMessage(err error) string {
	var categorized *failure.Error
	if errors.As(err, &categorized) && categorized.Category == failure.HandlerFault && categorized.Err == nil {
		return categorized.Detail
	}
	return err.Error()
}
