package report

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/crfeliz/issue-join/cfg"
)

// bannerWidth is the width of the header rules.
const bannerWidth = 100

// maxTextLength bounds summaries and titles in the text report.
const maxTextLength = 80

var sectionTitles = map[Category]string{
	CategoryInProgress:         "OPEN ISSUES WITH OPEN PULL REQUESTS",
	CategoryNeedsResolution:    "OPEN ISSUES WITH MERGED PULL REQUESTS",
	CategoryAbandoned:          "OPEN ISSUES WITH ONLY CLOSED PULL REQUESTS",
	CategoryStaleChange:        "RESOLVED ISSUES WITH OPEN PULL REQUESTS",
	CategoryDone:               "RESOLVED ISSUES WITH NO OPEN PULL REQUESTS",
	CategoryIssueWithoutChange: "ISSUES WITHOUT PULL REQUESTS",
	CategoryChangeWithoutIssue: "PULL REQUESTS WITHOUT AN ISSUE",
}

// Renderer writes a Report in one output format.
type Renderer interface {
	Render(w io.Writer, r Report, generated time.Time) error
}

// NewRenderer returns the Renderer for format.
func NewRenderer(format string) (Renderer, error) {
	switch format {
	case cfg.OutputText:
		return TextRenderer{}, nil
	case cfg.OutputJSON:
		return JSONRenderer{}, nil
	case cfg.OutputYAML:
		return YAMLRenderer{}, nil
	}
	return nil, fmt.Errorf("unknown output format %q", format)
}

// WriteHeader writes the report banner and its generation time in UTC.
func WriteHeader(w io.Writer, generated time.Time) error {
	_, err := fmt.Fprintf(w, "%s\nReport generated on: %s (GMT)\n%s\n",
		strings.Repeat("=", bannerWidth),
		generated.UTC().Format(cfg.DateFormat),
		strings.Repeat("-", bannerWidth),
	)
	return err
}

// TextRenderer writes the header followed by one section per non-empty
// category and a summary.
type TextRenderer struct{}

func (TextRenderer) Render(w io.Writer, r Report, generated time.Time) error {
	if err := WriteHeader(w, generated); err != nil {
		return err
	}
	return writeBody(w, r)
}

func writeBody(w io.Writer, r Report) error {
	if r.Len() == 0 {
		if _, err := fmt.Fprintln(w, "No issues or pull requests found."); err != nil {
			return err
		}
	}

	for _, c := range Categories {
		entries := r.EntriesIn(c)
		if len(entries) == 0 {
			continue
		}
		if err := writeSection(w, sectionTitles[c], entries); err != nil {
			return err
		}
	}

	return writeSummary(w, r.Summary())
}

func writeSection(w io.Writer, title string, entries []JoinedEntry) error {
	if _, err := fmt.Fprintf(w, "\n%s (%d)\n", title, len(entries)); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		indent := ""
		for _, i := range e.Issues {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", i.ID, statusText(i.Status, string(i.State)), truncate(i.Summary, maxTextLength))
			indent = "  "
		}
		for _, c := range e.Changes {
			title := truncate(c.Title, maxTextLength)
			if c.Author != "" {
				title = fmt.Sprintf("%s (%s)", title, c.Author)
			}
			fmt.Fprintf(tw, "%s%s\t%s\t%s\n", indent, c.ID, c.State, title)
		}
	}
	return tw.Flush()
}

func writeSummary(w io.Writer, s Summary) error {
	_, err := fmt.Fprintf(w, "\nSUMMARY\n"+
		"Entries: %d (joined: %d, issues only: %d, pull requests only: %d)\n"+
		"Records: %d issues, %d pull requests\n"+
		"Skipped: %d (issues: %d, pull requests: %d)\n",
		s.Entries, s.Joined, s.OrphanIssues, s.OrphanChanges,
		s.Issues, s.Changes,
		s.Skipped, s.SkippedIssues, s.SkippedChanges,
	)
	return err
}

func statusText(status, state string) string {
	if status != "" {
		return status
	}
	if state != "" {
		return state
	}
	return "-"
}

// whitespaceRegex matches runs of whitespace, including newlines and tabs
// that would break the text columns.
var whitespaceRegex = regexp.MustCompile(`\s+`)

// truncate folds whitespace runs into single spaces and cuts s to at most
// length runes, marking the cut with "...".
func truncate(s string, length int) string {
	s = strings.TrimSpace(whitespaceRegex.ReplaceAllString(s, " "))
	runes := []rune(s)
	if len(runes) <= length {
		return s
	}
	return string(runes[:length]) + "..."
}

// document is the serialized form of a Report.
type document struct {
	GeneratedAt string        `json:"generated_at" yaml:"generated_at"`
	Entries     []JoinedEntry `json:"entries" yaml:"entries"`
	Summary     Summary       `json:"summary" yaml:"summary"`
}

func newDocument(r Report, generated time.Time) document {
	return document{
		GeneratedAt: generated.UTC().Format(time.RFC3339),
		Entries:     r.Entries(),
		Summary:     r.Summary(),
	}
}

// JSONRenderer writes the report as an indented JSON document.
type JSONRenderer struct{}

func (JSONRenderer) Render(w io.Writer, r Report, generated time.Time) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(newDocument(r, generated))
}

// YAMLRenderer writes the report as a YAML document.
type YAMLRenderer struct{}

func (YAMLRenderer) Render(w io.Writer, r Report, generated time.Time) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(newDocument(r, generated)); err != nil {
		return err
	}
	return enc.Close()
}
