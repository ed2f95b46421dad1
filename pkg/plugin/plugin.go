// Package plugin registers the Synology Chat webhook on a host mux and exposes
// the outbound sender next to it.
package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"synochat/pkg/failure"
	"synochat/pkg/message"
	"synochat/pkg/sender"
	"synochat/pkg/webhook"
)

// Options binds the adapter to a host.
type Options struct {
	// Path is the inbound route. Empty means webhook.DefaultPath.
	Path string
	// OnMessage handles inbound messages. It may be nil unless Required is set.
	OnMessage webhook.Handler
	Required  bool
	// WebhookURL is the default destination for outbound messages.
	WebhookURL string

	HandlerTimeout time.Duration
	MaxBodyBytes   int64
	RequestTimeout time.Duration
	Encoding       sender.Encoding
	SkipValidation bool
	HTTPClient     *http.Client
	Logger         *slog.Logger
}

// Plugin is a registered adapter instance.
type Plugin struct {
	endpoint *webhook.Endpoint
	sender   *sender.Client
	log      *slog.Logger
}

// Register mounts the webhook endpoint on mux and prepares the sender. It
// fails without mounting anything when the options cannot be served, including
// a path that is already registered on mux.
func Register(mux *http.ServeMux, opts Options) (*Plugin, error) {
	if mux == nil {
		return nil, failure.New(failure.Configuration, "http mux is required")
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	endpoint, err := webhook.New(webhook.Options{
		Path:           opts.Path,
		Handler:        opts.OnMessage,
		Required:       opts.Required,
		HandlerTimeout: opts.HandlerTimeout,
		MaxBodyBytes:   opts.MaxBodyBytes,
		Logger:         log,
	})
	if err != nil {
		return nil, err
	}

	client := sender.New(sender.Options{
		WebhookURL:     opts.WebhookURL,
		HTTPClient:     opts.HTTPClient,
		Timeout:        opts.RequestTimeout,
		Encoding:       opts.Encoding,
		SkipValidation: opts.SkipValidation,
		Logger:         log,
	})

	if err := mount(mux, endpoint); err != nil {
		return nil, err
	}

	p := &Plugin{endpoint: endpoint, sender: client, log: log.With("component", "plugin")}
	p.log.Info("Synology Chat webhook registered",
		"path", endpoint.Path(),
		"handler", opts.OnMessage != nil,
		"outbound", opts.WebhookURL != "",
	)
	return p, nil
}

// Path returns the mounted inbound route.
func (p *Plugin) Path() string {
	return p.endpoint.Path()
}

// SendMessage delivers m. A non-empty override replaces the configured URL for
// this call only.
func (p *Plugin) SendMessage(ctx context.Context, m message.Message, override string) (sender.Reply, error) {
	return p.sender.Send(ctx, m, sendOptions(override)...)
}

// SendText delivers a text-only message.
func (p *Plugin) SendText(ctx context.Context, text, override string) (sender.Reply, error) {
	return p.sender.SendText(ctx, text, sendOptions(override)...)
}

// SendJSON delivers a raw JSON message: a bare string or an object.
func (p *Plugin) SendJSON(ctx context.Context, raw []byte, override string) (sender.Reply, error) {
	return p.sender.SendJSON(ctx, raw, sendOptions(override)...)
}

// mount registers endpoint on mux, reporting a conflicting route as a
// configuration failure instead of the panic ServeMux raises.
func mount(mux *http.ServeMux, endpoint *webhook.Endpoint) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = failure.New(failure.Configuration, fmt.Sprintf("mount webhook on %q: %v", endpoint.Path(), p))
		}
	}()

	mux.Handle(endpoint.Path(), endpoint)
	return nil
}

func sendOptions(override string) []sender.SendOption {
	if override == "" {
		return nil
	}
	return []sender.SendOption{sender.WithURL(override)}
}
