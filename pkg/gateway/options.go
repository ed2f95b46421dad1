package gateway

import (
	"log/slog"
	"time"

	"synochat/pkg/config"
	"synochat/pkg/plugin"
	"synochat/pkg/sender"
	"synochat/pkg/webhook"
)

// PluginOptions maps the loaded configuration onto plugin options.
func PluginOptions(cfg *config.Config, handler webhook.Handler, log *slog.Logger) (plugin.Options, error) {
	senderOpts, err := SenderOptions(cfg, log)
	if err != nil {
		return plugin.Options{}, err
	}

	return plugin.Options{
		Path:           cfg.Webhook.Path,
		OnMessage:      handler,
		Required:       cfg.Webhook.Required,
		WebhookURL:     senderOpts.WebhookURL,
		HandlerTimeout: deadline(cfg.Webhook.HandlerTimeout()),
		MaxBodyBytes:   cfg.Webhook.MaxBodyBytes,
		RequestTimeout: senderOpts.Timeout,
		Encoding:       senderOpts.Encoding,
		SkipValidation: senderOpts.SkipValidation,
		Logger:         log,
	}, nil
}

// SenderOptions maps the sender section onto sender options.
func SenderOptions(cfg *config.Config, log *slog.Logger) (sender.Options, error) {
	encoding, err := sender.ParseEncoding(cfg.Sender.Encoding)
	if err != nil {
		return sender.Options{}, err
	}

	return sender.Options{
		WebhookURL:     cfg.Sender.WebhookURL,
		Timeout:        deadline(cfg.Sender.RequestTimeout()),
		Encoding:       encoding,
		SkipValidation: cfg.Sender.SkipValidation,
		Logger:         log,
	}, nil
}

// deadline turns a configured zero ("disabled") into the negative value the
// webhook and sender packages read as "no deadline".
func deadline(d time.Duration) time.Duration {
	if d <= 0 {
		return -1
	}
	return d
}
