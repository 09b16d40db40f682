// Package notify emails an audit report after a dispatch completes.
//
// Delivery is best effort: Send never returns an error, only a Result that
// the dispatcher copies into its summary.
package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"math"
	"strings"

	"github.com/sakif/ghostwriter/internal/model"
)

//go:embed templates/report.html
var templateFS embed.FS

// Message is what a Mailer delivers.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// Mailer is a mail transport.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Result is the outcome of a delivery attempt.
type Result struct {
	Sent   bool
	Reason string // set when Sent is false
}

func Sent() Result { return Result{Sent: true} }

func Failed(reason string) Result { return Result{Reason: reason} }

// String renders the result the way it appears in dispatch summaries.
func (r Result) String() string {
	if r.Sent {
		return "Sent successfully"
	}
	return "Failed: " + r.Reason
}

// MarshalText lets a Result be embedded in JSON responses as its string form.
func (r Result) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

type reportData struct {
	Repo       string
	PRNumber   int
	Confidence int
	Verdict    string
	Comment    string
}

// Notifier renders audit reports and hands them to a Mailer.
type Notifier struct {
	mailer Mailer
	from   string
	tmpl   *template.Template
	logger *slog.Logger
}

// New parses the embedded report template.
func New(mailer Mailer, from string, logger *slog.Logger) (*Notifier, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/report.html")
	if err != nil {
		return nil, fmt.Errorf("notify: parsing template: %w", err)
	}
	return &Notifier{mailer: mailer, from: from, tmpl: tmpl, logger: logger}, nil
}

// Render produces the HTML body for rec.
func (n *Notifier) Render(rec model.AuditRecord) (string, error) {
	data := reportData{
		Repo:       rec.Repo,
		PRNumber:   rec.PRNumber,
		Confidence: int(math.Round(rec.Result.ConfidenceScore * 100)),
		Verdict:    strings.ToUpper(rec.Result.Status),
		Comment:    rec.Result.Comment,
	}

	var buf bytes.Buffer
	if err := n.tmpl.ExecuteTemplate(&buf, "report", data); err != nil {
		return "", fmt.Errorf("notify: rendering report: %w", err)
	}
	return buf.String(), nil
}

// Send renders and delivers the report for rec to the given address.
func (n *Notifier) Send(ctx context.Context, rec model.AuditRecord, to string) Result {
	html, err := n.Render(rec)
	if err != nil {
		n.logger.Warn("audit report not rendered", slog.String("key", rec.Key), slog.String("error", err.Error()))
		return Failed(err.Error())
	}

	msg := Message{
		From:    n.from,
		To:      to,
		Subject: fmt.Sprintf("GhostWriter Audit: %s PR #%d", rec.Repo, rec.PRNumber),
		HTML:    html,
	}
	if err := n.mailer.Send(ctx, msg); err != nil {
		n.logger.Warn("audit report not delivered",
			slog.String("key", rec.Key),
			slog.String("to", to),
			slog.String("error", err.Error()),
		)
		return Failed(err.Error())
	}

	n.logger.Info("audit report sent", slog.String("key", rec.Key), slog.String("to", to))
	return Sent()
}
