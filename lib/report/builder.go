package report

import (
	"sort"

	"github.com/crfeliz/issue-join/cfg"
	"github.com/crfeliz/issue-join/lib/models"
)

// ReportBuilder joins issues and changes into a Report. Identifiers and
// references are compared in the canonical form of its matcher.
type ReportBuilder struct {
	matcher cfg.Matcher
}

// NewReportBuilder returns a builder comparing identifiers with m. A nil
// matcher compares trimmed, upper-cased identifiers.
func NewReportBuilder(m cfg.Matcher) ReportBuilder {
	if m == nil {
		m = cfg.ExactMatcher{}
	}
	return ReportBuilder{matcher: m}
}

// Build joins issues and changes with the default matcher.
func Build(issues []models.IssueRecord, changes []models.ChangeRecord) Report {
	return NewReportBuilder(nil).Build(issues, changes)
}

// Build links every change and issue where either references the other,
// and returns one entry per connected group. Records without an
// identifier, or repeating one already seen on the same side, are left
// out and counted as skipped. Build does not modify its inputs.
func (b ReportBuilder) Build(issues []models.IssueRecord, changes []models.ChangeRecord) Report {
	summary := Summary{Categories: map[Category]int{}}
	g := &graph{}

	issueNodes := map[string]int{}
	for i := range issues {
		issue := issues[i]
		key := b.matcher.Canonical(issue.ID)
		if _, dup := issueNodes[key]; !issue.Valid() || dup {
			summary.SkippedIssues++
			continue
		}
		issueNodes[key] = g.add(node{key: key, issue: &issue})
		summary.Issues++
	}

	changeNodes := map[string]int{}
	for i := range changes {
		change := changes[i]
		key := b.matcher.Canonical(change.ID)
		if _, dup := changeNodes[key]; !change.Valid() || dup {
			summary.SkippedChanges++
			continue
		}
		changeNodes[key] = g.add(node{key: key, change: &change})
		summary.Changes++
	}
	summary.Skipped = summary.SkippedIssues + summary.SkippedChanges

	for i, n := range g.nodes {
		others := changeNodes
		if n.change != nil {
			others = issueNodes
		}
		for _, ref := range n.references() {
			if j, ok := others[b.matcher.Canonical(ref)]; ok {
				g.union(i, j)
			}
		}
	}

	var entries []sortableEntry
	for _, group := range g.components() {
		entries = append(entries, newSortableEntry(g, group))
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].less(entries[j])
	})

	r := Report{entries: make([]JoinedEntry, 0, len(entries)), summary: summary}
	for _, e := range entries {
		e.Category = categorize(e.JoinedEntry)
		r.entries = append(r.entries, e.JoinedEntry)

		r.summary.Entries++
		r.summary.Categories[e.Category]++
		switch {
		case e.IsJoined():
			r.summary.Joined++
		case len(e.Issues) > 0:
			r.summary.OrphanIssues++
		default:
			r.summary.OrphanChanges++
		}
	}
	return r
}

// sortableEntry carries the canonical keys an entry is ordered by.
type sortableEntry struct {
	JoinedEntry
	first      string
	issueFirst bool
}

func newSortableEntry(g *graph, group []int) sortableEntry {
	var issueKeys, changeKeys []string
	issues := map[string]models.IssueRecord{}
	changes := map[string]models.ChangeRecord{}
	for _, i := range group {
		n := g.nodes[i]
		if n.issue != nil {
			issueKeys = append(issueKeys, n.key)
			issues[n.key] = *n.issue
		} else {
			changeKeys = append(changeKeys, n.key)
			changes[n.key] = *n.change
		}
	}
	sortIdentifiers(issueKeys)
	sortIdentifiers(changeKeys)

	e := sortableEntry{JoinedEntry: JoinedEntry{
		Issues:  make([]models.IssueRecord, 0, len(issueKeys)),
		Changes: make([]models.ChangeRecord, 0, len(changeKeys)),
	}}
	for _, k := range issueKeys {
		e.Issues = append(e.Issues, issues[k])
	}
	for _, k := range changeKeys {
		e.Changes = append(e.Changes, changes[k])
	}

	switch {
	case len(changeKeys) == 0:
		e.first, e.issueFirst = issueKeys[0], true
	case len(issueKeys) == 0:
		e.first = changeKeys[0]
	case compareIdentifiers(issueKeys[0], changeKeys[0]) <= 0:
		e.first, e.issueFirst = issueKeys[0], true
	default:
		e.first = changeKeys[0]
	}
	return e
}

func (e sortableEntry) less(o sortableEntry) bool {
	if c := compareIdentifiers(e.first, o.first); c != 0 {
		return c < 0
	}
	return e.issueFirst && !o.issueFirst
}

func sortIdentifiers(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		return compareIdentifiers(ids[i], ids[j]) < 0
	})
}

func categorize(e JoinedEntry) Category {
	switch {
	case len(e.Changes) == 0:
		return CategoryIssueWithoutChange
	case len(e.Issues) == 0:
		return CategoryChangeWithoutIssue
	}

	openIssue := false
	for _, i := range e.Issues {
		if i.State.IsOpen() {
			openIssue = true
		}
	}
	openChange, merged := false, false
	for _, c := range e.Changes {
		switch c.State {
		case models.ChangeOpen:
			openChange = true
		case models.ChangeMerged:
			merged = true
		}
	}

	switch {
	case openIssue && openChange:
		return CategoryInProgress
	case openIssue && merged:
		return CategoryNeedsResolution
	case openIssue:
		return CategoryAbandoned
	case openChange:
		return CategoryStaleChange
	}
	return CategoryDone
}
