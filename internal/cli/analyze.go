package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		diffFile string
		email    string
	)
	cmd := &cobra.Command{
		Use:   "analyze owner/repo#number",
		Short: "Run an analysis for a pull request now",
		Long: `Ask the server to fetch the pull request, send it to the analysis engine
and store the audit. Use --diff-file to analyze a local diff instead of the
one on GitHub ("-" reads standard input).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseTarget(args[0])
			if err != nil {
				return err
			}

			req := AnalyzeRequest{
				Owner:      ref.Owner,
				Repo:       ref.Repo,
				PullNumber: ref.Number,
				Email:      strings.TrimSpace(email),
			}
			if diffFile != "" {
				diff, err := readDiff(cmd.InOrStdin(), diffFile)
				if err != nil {
					return err
				}
				req.Diff = diff
			}

			resp, err := a.client().Analyze(cmd.Context(), req)
			if err != nil {
				return err
			}

			a.ui.Success("%s analyzed: %s, confidence %s", resp.Key, StatusColor(resp.Status), Confidence(resp.ConfidenceScore))
			switch {
			case resp.Notification == "":
			case strings.HasPrefix(resp.Notification, "Failed"):
				a.ui.Warning("Report email: %s", resp.Notification)
			default:
				a.ui.Success("Report email: %s", resp.Notification)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&diffFile, "diff-file", "", "Analyze this diff file instead of fetching it")
	cmd.Flags().StringVar(&email, "email", "", "Email the report to this address")
	return cmd
}

func readDiff(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading diff: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", fmt.Errorf("diff %s is empty", path)
	}
	return string(data), nil
}
