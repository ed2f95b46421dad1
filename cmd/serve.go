package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"synochat/pkg/gateway"
	"synochat/pkg/webhook"
)

var serveEcho bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook gateway",
	Long:  "Serves the Synology Chat outgoing webhook with health and readiness endpoints.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, appLogger, err := setup()
		if err != nil {
			return err
		}
		log := appLogger.With("component", "cmd.serve")

		echo := cfg.Webhook.Echo
		if cmd.Flags().Changed("echo") {
			echo = serveEcho
		}

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := gateway.NewService(cfg, loggingHandler(log, echo), appLogger)
		if err != nil {
			log.Error("Failed to initialize gateway service", "error", err)
			return err
		}

		log.Info("Gateway starting", "address", svc.Addr(), "webhook_path", svc.Plugin().Path(), "echo", echo)
		if err := svc.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Gateway runtime failed", "error", err)
			return err
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveEcho, "echo", false, "reply to each message with its text")
}

// loggingHandler records every inbound message and, with echo set, answers
// with the received text.
func loggingHandler(log *slog.Logger, echo bool) webhook.Handler {
	return func(_ context.Context, req webhook.Request) (webhook.Result, error) {
		log.Info("Message received",
			"request_id", req.ID,
			"text", req.Message.Text,
			"user_ids", req.Message.UserIDs,
			"attachments", len(req.Message.Attachments),
		)

		if echo {
			return webhook.Text(req.Message.Text), nil
		}
		return webhook.Empty(), nil
	}
}
