package lib

import (
	"bytes"
	"context"
	"io"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/crfeliz/issue-join/cfg"
	"github.com/crfeliz/issue-join/lib/models"
	"github.com/crfeliz/issue-join/lib/report"
)

// IssueSource supplies the issue side of a report.
type IssueSource interface {
	FetchIssues(ctx context.Context) ([]models.IssueRecord, error)
}

// IssueLookup is implemented by issue sources that can fetch single
// issues by identifier, outside of their usual query.
type IssueLookup interface {
	LookupIssues(ctx context.Context, ids []string) ([]models.IssueRecord, error)
}

// CodeHost supplies the change side of a report.
type CodeHost interface {
	FetchChanges(ctx context.Context) ([]models.ChangeRecord, error)
}

// FetchRecords fetches issues and changes concurrently. The first failure
// cancels the other fetch and is returned.
func FetchRecords(ctx context.Context, config cfg.Config, source IssueSource, host CodeHost) ([]models.IssueRecord, []models.ChangeRecord, error) {
	log := config.GetLogger()

	var (
		issues  []models.IssueRecord
		changes []models.ChangeRecord
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Debug("Collecting issues")
		var err error
		issues, err = source.FetchIssues(ctx)
		if err != nil {
			return err
		}
		log.Debugf("Collected %d issues", len(issues))
		return nil
	})
	g.Go(func() error {
		log.Debug("Collecting pull requests")
		var err error
		changes, err = host.FetchChanges(ctx)
		if err != nil {
			return err
		}
		log.Debugf("Collected %d pull requests", len(changes))
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	return issues, changes, nil
}

// GenerateReport fetches both sides, joins them and renders the report to
// w in the configured output format, stamped with now. Nothing is written
// unless every step succeeds.
func GenerateReport(ctx context.Context, config cfg.Config, source IssueSource, host CodeHost, w io.Writer, now time.Time) error {
	log := config.GetLogger()

	renderer, err := report.NewRenderer(config.GetOutputFormat())
	if err != nil {
		return err
	}

	issues, changes, err := FetchRecords(ctx, config, source, host)
	if err != nil {
		log.Errorf("Error collecting records: %v", err)
		return err
	}

	if lookup, ok := source.(IssueLookup); ok {
		issues, err = LookupReferencedIssues(ctx, config, lookup, issues, changes)
		if err != nil {
			log.Errorf("Error looking up referenced issues: %v", err)
			return err
		}
	}

	r := report.NewReportBuilder(config.GetIssueMatcher()).Build(issues, changes)
	summary := r.Summary()
	log.Debugf("Joined %d issues and %d pull requests into %d entries", summary.Issues, summary.Changes, summary.Entries)
	if summary.Skipped > 0 {
		log.Warnf("Skipped %d malformed or duplicate records", summary.Skipped)
	}

	var buf bytes.Buffer
	if err := renderer.Render(&buf, r, now); err != nil {
		return err
	}
	_, err = buf.WriteTo(w)
	return err
}

// LookupReferencedIssues fetches the issues that changes reference but
// that are missing from issues, such as resolved issues left out by the
// source's query, and returns issues with them appended.
func LookupReferencedIssues(ctx context.Context, config cfg.Config, lookup IssueLookup, issues []models.IssueRecord, changes []models.ChangeRecord) ([]models.IssueRecord, error) {
	log := config.GetLogger()
	m := config.GetIssueMatcher()

	known := map[string]bool{}
	for _, i := range issues {
		known[m.Canonical(i.ID)] = true
	}
	wanted := map[string]bool{}
	var missing []string
	for _, c := range changes {
		for _, ref := range c.Refs {
			key := m.Canonical(ref)
			if key == "" || known[key] || wanted[key] {
				continue
			}
			wanted[key] = true
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return issues, nil
	}
	sort.Strings(missing)

	log.Debugf("Looking up %d referenced issues", len(missing))
	found, err := lookup.LookupIssues(ctx, missing)
	if err != nil {
		return nil, err
	}
	log.Debugf("Found %d of %d referenced issues", len(found), len(missing))

	// A moved issue comes back under its new key, which may already be known.
	for _, i := range found {
		key := m.Canonical(i.ID)
		if known[key] {
			continue
		}
		known[key] = true
		issues = append(issues, i)
	}
	return issues, nil
}
