package models

import "strings"

// IssueState is the tracker-independent state of an issue.
type IssueState string

const (
	IssueOpen       IssueState = "open"
	IssueInProgress IssueState = "in-progress"
	IssueResolved   IssueState = "resolved"
	IssueClosed     IssueState = "closed"
	IssueUnknown    IssueState = "unknown"
)

// IsOpen reports whether work on the issue is still expected. An unknown
// or unset state counts as open.
func (s IssueState) IsOpen() bool {
	switch s {
	case IssueResolved, IssueClosed:
		return false
	}
	return true
}

// ChangeState is the state of a pull or merge request.
type ChangeState string

const (
	ChangeOpen   ChangeState = "open"
	ChangeMerged ChangeState = "merged"
	ChangeClosed ChangeState = "closed"
)

// IssueRecord is a ticket fetched from the issue tracker.
type IssueRecord struct {
	ID      string     `json:"id" yaml:"id"`
	Status  string     `json:"status" yaml:"status"`
	State   IssueState `json:"state" yaml:"state"`
	Summary string     `json:"summary,omitempty" yaml:"summary,omitempty"`
	URL     string     `json:"url,omitempty" yaml:"url,omitempty"`
	// Refs holds the change identifiers mentioned by the issue.
	Refs []string `json:"refs,omitempty" yaml:"refs,omitempty"`
}

// Valid reports whether the record carries the fields needed to join it.
func (i IssueRecord) Valid() bool {
	return strings.TrimSpace(i.ID) != ""
}

// ChangeRecord is a pull request fetched from the code host.
type ChangeRecord struct {
	ID     string      `json:"id" yaml:"id"`
	Number int         `json:"number,omitempty" yaml:"number,omitempty"`
	State  ChangeState `json:"state" yaml:"state"`
	Title  string      `json:"title,omitempty" yaml:"title,omitempty"`
	Author string      `json:"author,omitempty" yaml:"author,omitempty"`
	URL    string      `json:"url,omitempty" yaml:"url,omitempty"`
	// Refs holds the issue identifiers mentioned by the change.
	Refs []string `json:"refs,omitempty" yaml:"refs,omitempty"`
}

// Valid reports whether the record carries the fields needed to join it.
func (c ChangeRecord) Valid() bool {
	return strings.TrimSpace(c.ID) != ""
}

// IssueStateFromName maps a tracker status name and its status category key
// onto an IssueState. Well known names take precedence over the category.
func IssueStateFromName(name, category string) IssueState {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "resolved", "done", "fixed":
		return IssueResolved
	case "closed":
		return IssueClosed
	case "in progress", "patch available", "in review", "reviewable":
		return IssueInProgress
	case "open", "reopened", "to do", "new", "backlog":
		return IssueOpen
	}

	switch strings.ToLower(category) {
	case "done":
		return IssueResolved
	case "indeterminate":
		return IssueInProgress
	case "new":
		return IssueOpen
	}
	return IssueUnknown
}
