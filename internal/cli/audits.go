package cli

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/ghostwriter/internal/scm"
)

// parseTarget accepts "owner/repo#123" or a GitHub pull request URL.
func parseTarget(arg string) (scm.PRRef, error) {
	if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
		return scm.ParsePRURL(arg)
	}
	repoPart, numPart, ok := strings.Cut(arg, "#")
	owner, repo, ok2 := strings.Cut(repoPart, "/")
	if !ok || !ok2 || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return scm.PRRef{}, fmt.Errorf("invalid target %q: want owner/repo#number or a pull request URL", arg)
	}
	n, err := strconv.Atoi(numPart)
	if err != nil || n <= 0 {
		return scm.PRRef{}, fmt.Errorf("invalid pull request number %q", numPart)
	}
	return scm.PRRef{Owner: owner, Repo: repo, Number: n}, nil
}

func newAuditsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "audits",
		Aliases: []string{"audit"},
		Short:   "List and inspect stored audits",
	}
	cmd.AddCommand(newAuditsListCmd(a), newAuditsShowCmd(a))
	return cmd
}

func newAuditsListCmd(a *app) *cobra.Command {
	var (
		repo  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List audits, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := a.client().ListAudits(cmd.Context())
			if err != nil {
				return err
			}

			table := a.ui.Table([]string{"Audit", "Status", "Confidence", "Source", "When", "Title"})
			shown := 0
			for _, r := range recs {
				if repo != "" && !strings.EqualFold(r.Repo, repo) {
					continue
				}
				if limit > 0 && shown >= limit {
					break
				}
				_ = table.Append([]string{
					r.Key,
					StatusColor(r.Result.Status),
					Confidence(r.Result.ConfidenceScore),
					r.Source,
					r.Timestamp.Local().Format(time.DateTime),
					truncate(r.Title, 40),
				})
				shown++
			}
			if shown == 0 {
				a.ui.Warning("No audits found")
				return nil
			}
			return table.Render()
		},
	}
	cmd.Flags().StringVar(&repo, "repo", "", "Only show audits for owner/repo")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show at most n audits")
	return cmd
}

func newAuditsShowCmd(a *app) *cobra.Command {
	var showDiff bool
	cmd := &cobra.Command{
		Use:   "show owner/repo#number",
		Short: "Show one audit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseTarget(args[0])
			if err != nil {
				return err
			}
			rec, err := a.client().GetAudit(cmd.Context(), ref.Owner, ref.Repo, ref.Number)
			if isNotFound(err) {
				return fmt.Errorf("no audit stored for %s/%s#%d", ref.Owner, ref.Repo, ref.Number)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", bold(rec.Key), StatusColor(rec.Result.Status))
			if rec.Title != "" {
				fmt.Fprintf(out, "Title:       %s\n", rec.Title)
			}
			fmt.Fprintf(out, "Confidence:  %s\n", Confidence(rec.Result.ConfidenceScore))
			fmt.Fprintf(out, "Analyzed:    %s\n", rec.Timestamp.Local().Format(time.DateTime))
			if rec.Source != "" {
				fmt.Fprintf(out, "Source:      %s\n", rec.Source)
			}
			fmt.Fprintf(out, "\n%s\n", rec.Result.Comment)

			if sec := rec.Result.SecuritySnapshot; sec != nil && len(sec.Vulnerabilities) > 0 {
				fmt.Fprintln(out)
				table := a.ui.Table([]string{"Severity", "Type", "File", "Description"})
				for _, v := range sec.Vulnerabilities {
					_ = table.Append([]string{v.Severity, v.Type, v.FilePath, truncate(v.Description, 60)})
				}
				if err := table.Render(); err != nil {
					return err
				}
			}
			if showDiff {
				fmt.Fprintf(out, "\n%s\n", rec.Diff)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showDiff, "diff", false, "Print the analyzed diff")
	return cmd
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show dashboard counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := a.client().Stats(cmd.Context())
			if err != nil {
				return err
			}
			table := a.ui.Table([]string{"Metric", "Value"})
			_ = table.Append([]string{"Total audits", strconv.Itoa(stats.TotalAudits)})
			_ = table.Append([]string{"Vulnerabilities found", strconv.Itoa(stats.VulnerabilitiesFound)})
			_ = table.Append([]string{"Agent success rate", stats.AgentSuccessRate + "%"})
			_ = table.Append([]string{"Avg review time", stats.AvgReviewTime})
			return table.Render()
		},
	}
}

// isNotFound reports whether err is the server's 404.
func isNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}
