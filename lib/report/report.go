// Package report correlates issue tracker records with code host records
// and renders the result.
package report

import (
	"github.com/crfeliz/issue-join/lib/models"
)

// Category classifies a JoinedEntry by the states of its records.
type Category string

const (
	// CategoryInProgress holds an open issue and an open change.
	CategoryInProgress Category = "in-progress"
	// CategoryNeedsResolution holds an open issue whose changes are
	// merged or closed, at least one merged.
	CategoryNeedsResolution Category = "needs-resolution"
	// CategoryAbandoned holds an open issue whose changes were all closed
	// without merging.
	CategoryAbandoned Category = "abandoned"
	// CategoryStaleChange holds resolved issues with a change still open.
	CategoryStaleChange Category = "stale-change"
	// CategoryDone holds resolved issues and no open change.
	CategoryDone Category = "done"
	// CategoryIssueWithoutChange is a singleton issue.
	CategoryIssueWithoutChange Category = "issue-without-change"
	// CategoryChangeWithoutIssue is a singleton change.
	CategoryChangeWithoutIssue Category = "change-without-issue"
)

// Categories lists every category in report order.
var Categories = []Category{
	CategoryInProgress,
	CategoryNeedsResolution,
	CategoryAbandoned,
	CategoryStaleChange,
	CategoryDone,
	CategoryIssueWithoutChange,
	CategoryChangeWithoutIssue,
}

// JoinedEntry is a group of records connected by cross-references.
type JoinedEntry struct {
	Category Category              `json:"category" yaml:"category"`
	Issues   []models.IssueRecord  `json:"issues" yaml:"issues"`
	Changes  []models.ChangeRecord `json:"changes" yaml:"changes"`
}

// IsJoined reports whether the entry holds records from both sides.
func (e JoinedEntry) IsJoined() bool {
	return len(e.Issues) > 0 && len(e.Changes) > 0
}

// Summary holds the counters of a Report.
type Summary struct {
	// Issues and Changes count the records that took part in the join.
	Issues  int `json:"issues" yaml:"issues"`
	Changes int `json:"changes" yaml:"changes"`

	Entries       int `json:"entries" yaml:"entries"`
	Joined        int `json:"joined" yaml:"joined"`
	OrphanIssues  int `json:"orphan_issues" yaml:"orphan_issues"`
	OrphanChanges int `json:"orphan_changes" yaml:"orphan_changes"`

	// Skipped counts records dropped for a missing or repeated identifier.
	Skipped        int `json:"skipped" yaml:"skipped"`
	SkippedIssues  int `json:"skipped_issues" yaml:"skipped_issues"`
	SkippedChanges int `json:"skipped_changes" yaml:"skipped_changes"`

	Categories map[Category]int `json:"categories" yaml:"categories"`
}

// Report is the ordered result of one join. It cannot be modified once
// built: accessors hand out copies.
type Report struct {
	entries []JoinedEntry
	summary Summary
}

// Entries returns a copy of the entries in report order.
func (r Report) Entries() []JoinedEntry {
	entries := make([]JoinedEntry, len(r.entries))
	for i, e := range r.entries {
		entries[i] = cloneEntry(e)
	}
	return entries
}

// EntriesIn returns copies of the entries of one category, in report order.
func (r Report) EntriesIn(c Category) []JoinedEntry {
	var entries []JoinedEntry
	for _, e := range r.entries {
		if e.Category == c {
			entries = append(entries, cloneEntry(e))
		}
	}
	return entries
}

// Summary returns a copy of the report counters.
func (r Report) Summary() Summary {
	s := r.summary
	s.Categories = make(map[Category]int, len(r.summary.Categories))
	for k, v := range r.summary.Categories {
		s.Categories[k] = v
	}
	return s
}

// Len returns the number of entries.
func (r Report) Len() int {
	return len(r.entries)
}

func cloneEntry(e JoinedEntry) JoinedEntry {
	issues := make([]models.IssueRecord, len(e.Issues))
	for i, issue := range e.Issues {
		issue.Refs = append([]string(nil), issue.Refs...)
		issues[i] = issue
	}
	changes := make([]models.ChangeRecord, len(e.Changes))
	for i, change := range e.Changes {
		change.Refs = append([]string(nil), change.Refs...)
		changes[i] = change
	}
	return JoinedEntry{Category: e.Category, Issues: issues, Changes: changes}
}
