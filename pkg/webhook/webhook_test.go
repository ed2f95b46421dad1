package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synochat/pkg/failure"
	"synochat/pkg/message"
	"synochat/pkg/schema"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEndpoint(t *testing.T, handler Handler) *Endpoint {
	t.Helper()

	ep, err := New(Options{Handler: handler, Logger: quietLogger()})
	require.NoError(t, err)
	return ep
}

func post(t *testing.T, h http.Handler, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, DefaultPath, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestUserIDsDecodedExactly(t *testing.T) {
	t.Parallel()

	var got Request
	ep := newEndpoint(t, func(_ context.Context, req Request) (Result, error) {
		got = req
		return Empty(), nil
	})

	rec := post(t, ep, "application/json", `{"text":"hi","user_ids":[9007199254740993]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []int64{9007199254740993}, got.Message.UserIDs)
}

func TestUserIDsOutOfRangeIsViolation(t *testing.T) {
	t.Parallel()

	called := false
	ep := newEndpoint(t, func(context.Context, Request) (Result, error) {
		called = true
		return Empty(), nil
	})

	rec := post(t, ep, "application/json", `{"text":"hi","user_ids":[1e20]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "invalid message", body.Error)
	require.Len(t, body.Violations, 1)
	assert.Equal(t, "/user_ids/0", body.Violations[0].Path)
	assert.Equal(t, schema.KindWrongType, body.Violations[0].Kind)
	assert.False(t, called)
}

func TestRequiredHandlerMissingFailsAtConstruction(t *testing.T) {
	t.Parallel()

	_, err := New(Options{Required: true})
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.Configuration))
}

func TestInvalidPathFailsAtConstruction(t *testing.T) {
	t.Parallel()

	for _, path := range []string{"hooks", "/a b", "/hooks/{id}", "/hooks\t"} {
		_, err := New(Options{Path: path})
		require.Error(t, err, path)
		assert.True(t, failure.Is(err, failure.Configuration), path)
	}
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	ep, err := New(Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultPath, ep.Path())
	assert.Equal(t, DefaultHandlerTimeout, ep.timeout)
	assert.Equal(t, int64(DefaultMaxBodyBytes), ep.maxBody)

	ep, err = New(Options{HandlerTimeout: -1})
	require.NoError(t, err)
	assert.Zero(t, ep.timeout)
}

func TestAbsentHandlerAcknowledges(t *testing.T) {
	t.Parallel()

	ep := newEndpoint(t, nil)
	rec := post(t, ep, "application/json", `{"text":"hi"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(headerRequestID))
}

func TestHandlerReceivesCanonicalMessage(t *testing.T) {
	t.Parallel()

	var got Request
	ep := newEndpoint(t, func(_ context.Context, req Request) (Result, error) {
		got = req
		return Empty(), nil
	})

	body := `{"text":"clicked","user_ids":[7],"callback_id":"cb","user":{"user_id":7,"username":"ada"},` +
		`"attachments":[{"text":"a","actions":[{"type":"button","name":"ok","text":"OK","value":"1"}]}]}`
	rec := post(t, ep, "application/json", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "clicked", got.Message.Text)
	assert.Equal(t, []int64{7}, got.Message.UserIDs)
	require.Len(t, got.Message.Attachments, 1)
	assert.Equal(t, message.ActionButton, got.Message.Attachments[0].Actions[0].Type)
	assert.Equal(t, map[string]any{"user_id": json.Number("7"), "username": "ada"}, got.Payload["user"])
	assert.Equal(t, rec.Header().Get(headerRequestID), got.ID)
}

func TestFormBodies(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var payloads []map[string]any
	ep := newEndpoint(t, func(_ context.Context, req Request) (Result, error) {
		mu.Lock()
		defer mu.Unlock()
		payloads = append(payloads, req.Payload)
		return Empty(), nil
	})

	rec := post(t, ep, "application/x-www-form-urlencoded", "text=Hello&file_url=http://example.com/a.jpg")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	carrier := url.Values{"payload": {`{"text":"Hello","file_url":"http://example.com/a.jpg"}`}}
	rec = post(t, ep, "application/x-www-form-urlencoded", carrier.Encode())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = post(t, ep, "application/json", `{"text":"Hello","file_url":"http://example.com/a.jpg"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	want := map[string]any{"text": "Hello", "file_url": "http://example.com/a.jpg"}
	require.Len(t, payloads, 3)
	for _, p := range payloads {
		assert.Equal(t, want, p)
	}
}

func TestResultMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		result      Result
		contentType string
		body        string
	}{
		{name: "text", result: Text("OK"), contentType: contentTypeText, body: "OK"},
		{name: "json", result: JSON(map[string]any{"text": "reply"}), contentType: contentTypeJSON, body: `{"text":"reply"}`},
		{name: "empty", result: Empty(), contentType: contentTypeJSON, body: `{"success":true}`},
		{name: "zero value", result: Result{}, contentType: contentTypeJSON, body: `{"success":true}`},
		{name: "empty text", result: Text(""), contentType: contentTypeJSON, body: `{"success":true}`},
		{name: "nil json", result: JSON(nil), contentType: contentTypeJSON, body: `{"success":true}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep := newEndpoint(t, func(context.Context, Request) (Result, error) {
				return tt.result, nil
			})

			rec := post(t, ep, "application/json", `{"text":"hi"}`)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.contentType, rec.Header().Get("Content-Type"))
			assert.Equal(t, tt.body, rec.Body.String())
		})
	}
}

func TestHandlerErrorAnswered(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	ep, err := New(Options{
		Handler: func(context.Context, Request) (Result, error) {
			return Result{}, errors.New("boom")
		},
		Logger: slog.New(slog.NewJSONHandler(&logs, nil)),
	})
	require.NoError(t, err)

	rec := post(t, ep, "application/json", `{"text":"hi"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"boom"}`, rec.Body.String())
	assert.Contains(t, logs.String(), `"error":"boom"`)
	assert.Contains(t, logs.String(), `"request_id"`)
}

func TestHandlerPanicAnswered(t *testing.T) {
	t.Parallel()

	ep := newEndpoint(t, func(context.Context, Request) (Result, error) {
		panic("kaboom")
	})

	rec := post(t, ep, "application/json", `{"text":"hi"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.False(t, body.Success)
	assert.Equal(t, "handler panicked: kaboom", body.Error)
}

func TestHandlerTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)

	ep, err := New(Options{
		HandlerTimeout: 20 * time.Millisecond,
		Logger:         quietLogger(),
		Handler: func(context.Context, Request) (Result, error) {
			<-release
			return Text("late"), nil
		},
	})
	require.NoError(t, err)

	rec := post(t, ep, "application/json", `{"text":"hi"}`)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"handler timed out"}`, rec.Body.String())
}

func TestHandlerHonoringDeadlineIsTimeout(t *testing.T) {
	t.Parallel()

	ep, err := New(Options{
		HandlerTimeout: 10 * time.Millisecond,
		Logger:         quietLogger(),
		Handler: func(ctx context.Context, _ Request) (Result, error) {
			<-ctx.Done()
			return Result{}, ctx.Err()
		},
	})
	require.NoError(t, err)

	rec := post(t, ep, "application/json", `{"text":"hi"}`)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestHandlerUpstreamDeadlineIsHandlerFault(t *testing.T) {
	t.Parallel()

	ep := newEndpoint(t, func(context.Context, Request) (Result, error) {
		return Result{}, fmt.Errorf("upstream call: %w", context.DeadlineExceeded)
	})

	rec := post(t, ep, "application/json", `{"text":"hi"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"upstream call: context deadline exceeded"}`, rec.Body.String())
}

func TestHandlerAwaitedBeforeResponding(t *testing.T) {
	t.Parallel()

	ep := newEndpoint(t, func(ctx context.Context, _ Request) (Result, error) {
		select {
		case <-time.After(30 * time.Millisecond):
			return Text("done"), nil
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	})

	rec := post(t, ep, "application/json", `{"text":"hi"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "done", rec.Body.String())
}

func TestRejectsBeforeHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		contentType string
		body        string
		status      int
	}{
		{name: "malformed json", contentType: "application/json", body: `{"text":`, status: http.StatusBadRequest},
		{name: "malformed carrier", contentType: "application/x-www-form-urlencoded", body: "payload=nope", status: http.StatusBadRequest},
		{name: "unsupported type", contentType: "text/plain", body: "hi", status: http.StatusUnsupportedMediaType},
		{name: "missing type", contentType: "", body: `{"text":"hi"}`, status: http.StatusUnsupportedMediaType},
		{name: "missing text", contentType: "application/json", body: `{"file_url":"x"}`, status: http.StatusBadRequest},
		{name: "bare string", contentType: "application/json", body: `"hello"`, status: http.StatusBadRequest},
		{name: "bad style", contentType: "application/json", body: `{"text":"hi","attachments":[{"text":"a","actions":[{"type":"button","name":"n","text":"t","value":"v","style":"pink"}]}]}`, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			ep := newEndpoint(t, func(context.Context, Request) (Result, error) {
				called = true
				return Empty(), nil
			})

			rec := post(t, ep, tt.contentType, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.False(t, called, "handler must not run")
			assert.False(t, decodeError(t, rec).Success)
		})
	}
}

func TestValidationFailureListsViolations(t *testing.T) {
	t.Parallel()

	ep := newEndpoint(t, nil)
	rec := post(t, ep, "application/json", `{"text":"hi","user_ids":[1,"x",3]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeError(t, rec)
	assert.Equal(t, "invalid message", body.Error)
	require.Len(t, body.Violations, 1)
	assert.Equal(t, "/user_ids/1", body.Violations[0].Path)
	assert.Equal(t, schema.KindWrongType, body.Violations[0].Kind)
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()

	ep := newEndpoint(t, nil)
	req := httptest.NewRequest(http.MethodGet, DefaultPath, nil)
	rec := httptest.NewRecorder()
	ep.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
}

func TestBodyTooLarge(t *testing.T) {
	t.Parallel()

	ep, err := New(Options{MaxBodyBytes: 16, Logger: quietLogger()})
	require.NoError(t, err)

	rec := post(t, ep, "application/json", `{"text":"this body is longer than sixteen bytes"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestProcessWithoutHTTP(t *testing.T) {
	t.Parallel()

	ep := newEndpoint(t, func(_ context.Context, req Request) (Result, error) {
		return JSON(map[string]string{"echo": req.Message.Text}), nil
	})

	resp := ep.Process(context.Background(), "application/json", []byte(`{"text":"ping"}`))
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.JSONEq(t, `{"echo":"ping"}`, string(resp.Body))
	assert.NotEmpty(t, resp.RequestID)
}

func TestConcurrentRequestsAreIndependent(t *testing.T) {
	t.Parallel()

	ep := newEndpoint(t, func(_ context.Context, req Request) (Result, error) {
		if req.Message.Text == "fail" {
			return Result{}, errors.New("failed on purpose")
		}
		return Text(req.Message.Text), nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			text := "ok"
			if i%2 == 0 {
				text = "fail"
			}
			resp := ep.Process(context.Background(), "application/json", []byte(`{"text":"`+text+`"}`))
			if text == "fail" {
				assert.Equal(t, http.StatusInternalServerError, resp.Status)
				return
			}
			assert.Equal(t, http.StatusOK, resp.Status)
			assert.Equal(t, "ok", string(resp.Body))
		}(i)
	}
	wg.Wait()
}

func TestResultKindString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "empty", Empty().Kind().String())
	assert.Equal(t, "json", JSON(1).Kind().String())
	assert.Equal(t, "text", Text("x").Kind().String())
	assert.Equal(t, "unknown", ResultKind(9).String())
}
