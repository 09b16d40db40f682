// Package cli implements ghostctl, an operator CLI for a running ghostwriter
// server: list and inspect audits, show dashboard stats and trigger manual
// analyses.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

// DefaultServerURL is used when neither --server nor GHOSTWRITER_URL is set.
const DefaultServerURL = "http://localhost:3001"

// app carries what every command needs.
type app struct {
	ui        *UI
	serverURL string
	version   string
}

func (a *app) client() *Client {
	return NewClient(a.serverURL, nil)
}

// NewRootCmd builds the command tree writing to ui.
func NewRootCmd(version string, ui *UI) *cobra.Command {
	a := &app{ui: ui, version: version}

	root := &cobra.Command{
		Use:   "ghostctl",
		Short: "Inspect and trigger pull-request audits on a ghostwriter server",
		Long: `ghostctl talks to a running ghostwriter server over its HTTP API.

The server address comes from --server, then GHOSTWRITER_URL, then
` + DefaultServerURL + `.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		DisableAutoGenTag: true,
	}
	root.SetOut(ui.Out)
	root.SetErr(ui.ErrOut)

	defaultURL := DefaultServerURL
	if env := os.Getenv("GHOSTWRITER_URL"); env != "" {
		defaultURL = env
	}
	root.PersistentFlags().StringVarP(&a.serverURL, "server", "s", defaultURL, "ghostwriter server URL")

	root.AddCommand(
		newAuditsCmd(a),
		newStatsCmd(a),
		newAnalyzeCmd(a),
		newVersionCmd(a),
	)
	return root
}

// Execute runs ghostctl with the process arguments and returns the exit code.
func Execute(version string) int {
	ui := &UI{Out: os.Stdout, ErrOut: os.Stderr}
	if err := NewRootCmd(version, ui).Execute(); err != nil {
		ui.Error("%v", err)
		return 1
	}
	return 0
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the ghostctl version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("ghostctl %s\n", a.version)
		},
	}
}
