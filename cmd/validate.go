package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"synochat/pkg/normalize"
	"synochat/pkg/schema"
)

var validateProfile string

var errInvalidMessage = errors.New("message is invalid")

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check a JSON message against the message schema",
	Long:  "Validates a JSON message file (use - for stdin) against the inbound or outbound message schema and lists every violation.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		profile, err := schema.ParseProfile(validateProfile)
		if err != nil {
			return err
		}

		raw, err := readInput(args[0], cmd.InOrStdin())
		if err != nil {
			return err
		}

		value, err := normalize.JSON(raw)
		if err != nil {
			return err
		}

		result := schema.Validate(profile, value)
		fmt.Fprint(cmd.OutOrStdout(), renderReport(defaultReportTheme(), args[0], profile, result))
		if !result.Valid {
			return errInvalidMessage
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringVarP(&validateProfile, "profile", "p", schema.Outbound.String(), "schema profile: inbound or outbound")
}

type reportTheme struct {
	title lipgloss.Style
	ok    lipgloss.Style
	fail  lipgloss.Style
	path  lipgloss.Style
	kind  lipgloss.Style
}

func defaultReportTheme() reportTheme {
	return reportTheme{
		title: lipgloss.NewStyle().
			Bold(true),
		ok: lipgloss.NewStyle().
			Foreground(lipgloss.Color("114")).
			Bold(true),
		fail: lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")).
			Bold(true),
		path: lipgloss.NewStyle().
			Foreground(lipgloss.Color("223")),
		kind: lipgloss.NewStyle().
			Foreground(lipgloss.Color("180")),
	}
}

func renderReport(th reportTheme, name string, profile schema.Profile, result schema.Result) string {
	var b strings.Builder

	b.WriteString(th.title.Render(fmt.Sprintf("%s (%s)", name, profile)))
	b.WriteString("\n")

	if result.Valid {
		b.WriteString(th.ok.Render("valid"))
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(th.fail.Render(fmt.Sprintf("%d violation(s)", len(result.Violations))))
	b.WriteString("\n")
	for _, v := range result.Violations {
		path := v.Path
		if path == "" {
			path = "(root)"
		}
		fmt.Fprintf(&b, "  %s %s %s\n", th.path.Render(path), th.kind.Render(string(v.Kind)), v.Detail)
	}

	return b.String()
}
