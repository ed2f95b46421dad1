package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synochat/pkg/config"
	"synochat/pkg/failure"
	"synochat/pkg/sender"
	"synochat/pkg/webhook"
)

func TestIsReady(t *testing.T) {
	t.Parallel()

	svc, err := NewService(config.Default(), nil, nil)
	require.NoError(t, err)
	assert.False(t, svc.isReady(), "not ready before Run")

	svc.setServing(true)
	assert.True(t, svc.isReady())
}

func TestStatusEndpoints(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Sender.WebhookURL = "https://nas.local/webapi/entry.cgi?token=x"
	svc, err := NewService(cfg, nil, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var health statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "/synology-chat", health.WebhookPath)
	assert.True(t, health.OutboundConfigured)

	rec = httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNewServiceRequiresHandler(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Webhook.Required = true

	_, err := NewService(cfg, nil, nil)
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.Configuration))

	_, err = NewService(nil, nil, nil)
	assert.Error(t, err)
}

func TestAddrDefaults(t *testing.T) {
	t.Parallel()

	svc, err := NewService(&config.Config{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:18790", svc.Addr())
}

func TestPluginOptions(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Webhook.Path = "/hooks/chat"
	cfg.Webhook.HandlerTimeoutSeconds = 0
	cfg.Sender.Encoding = "form"
	cfg.Sender.RequestTimeoutSeconds = 5
	cfg.Sender.WebhookURL = "https://nas.local/hook"

	handler := func(context.Context, webhook.Request) (webhook.Result, error) { return webhook.Empty(), nil }
	opts, err := PluginOptions(cfg, handler, nil)
	require.NoError(t, err)

	assert.Equal(t, "/hooks/chat", opts.Path)
	assert.NotNil(t, opts.OnMessage)
	assert.Equal(t, time.Duration(-1), opts.HandlerTimeout, "zero seconds disables the deadline")
	assert.Equal(t, 5*time.Second, opts.RequestTimeout)
	assert.Equal(t, sender.EncodingForm, opts.Encoding)
	assert.Equal(t, "https://nas.local/hook", opts.WebhookURL)

	cfg.Sender.Encoding = "xml"
	_, err = PluginOptions(cfg, handler, nil)
	assert.True(t, failure.Is(err, failure.Configuration))
}
