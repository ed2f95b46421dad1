package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"synochat/pkg/gateway"
	"synochat/pkg/sender"
)

var (
	sendFile string
	sendURL  string
	sendForm bool
)

var sendCmd = &cobra.Command{
	Use:   "send [text]",
	Short: "Post a message to the incoming webhook",
	Long:  "Sends a text message, or a JSON message read from --file (use - for stdin), to the configured Synology Chat incoming webhook.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, appLogger, err := setup()
		if err != nil {
			return err
		}

		opts, err := gateway.SenderOptions(cfg, appLogger)
		if err != nil {
			return err
		}
		if sendForm {
			opts.Encoding = sender.EncodingForm
		}
		client := sender.New(opts)

		var sendOpts []sender.SendOption
		if strings.TrimSpace(sendURL) != "" {
			sendOpts = append(sendOpts, sender.WithURL(sendURL))
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		reply, err := sendInput(ctx, client, args, sendFile, cmd.InOrStdin(), sendOpts)
		if err != nil {
			return err
		}

		return printReply(cmd.OutOrStdout(), reply)
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&sendFile, "file", "f", "", "read a JSON message from this file (- for stdin)")
	sendCmd.Flags().StringVar(&sendURL, "url", "", "override the configured webhook url")
	sendCmd.Flags().BoolVar(&sendForm, "form", false, "post as payload=<json> form encoding")
}

func sendInput(ctx context.Context, client *sender.Client, args []string, file string, stdin io.Reader, opts []sender.SendOption) (sender.Reply, error) {
	if file != "" {
		raw, err := readInput(file, stdin)
		if err != nil {
			return nil, err
		}
		return client.SendJSON(ctx, raw, opts...)
	}

	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return nil, errors.New("nothing to send: pass text or --file")
	}
	return client.SendText(ctx, text, opts...)
}

// readInput reads path, or stdin when path is "-".
func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return raw, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return raw, nil
}

func printReply(w io.Writer, reply sender.Reply) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(reply)
}
