package issuejoinjira

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/andygrunwald/go-jira"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crfeliz/issue-join/cfg"
	"github.com/crfeliz/issue-join/lib/models"
)

// testJIRAClient is a Client whose behaviour is set per test.
type testJIRAClient struct {
	log                *logrus.Entry
	timeout            time.Duration
	handleSearchIssues func(ctx context.Context, jql string, options *jira.SearchOptions) ([]jira.Issue, *jira.Response, error)
	handleGetProject   func(ctx context.Context, key string) (*jira.Project, *jira.Response, error)
}

func newTestClient() *testJIRAClient {
	return &testJIRAClient{log: cfg.NewLogger("test", "debug")}
}

func (j *testJIRAClient) getLogger() *logrus.Entry {
	return j.log
}

func (j *testJIRAClient) getTimeout() time.Duration {
	return j.timeout
}

func (j *testJIRAClient) browseURL(key string) string {
	return "https://issues.example.org/browse/" + key
}

func (j *testJIRAClient) searchIssues(ctx context.Context, jql string, options *jira.SearchOptions) ([]jira.Issue, *jira.Response, error) {
	return j.handleSearchIssues(ctx, jql, options)
}

func (j *testJIRAClient) getProject(ctx context.Context, key string) (*jira.Project, *jira.Response, error) {
	return j.handleGetProject(ctx, key)
}

func jiraResponse(status, total int) *jira.Response {
	return &jira.Response{
		Response: &http.Response{StatusCode: status, Status: fmt.Sprintf("%d %s", status, http.StatusText(status))},
		Total:    total,
	}
}

func jiraIssue(key, status, category string) jira.Issue {
	return jira.Issue{
		Key: key,
		Fields: &jira.IssueFields{
			Summary: key + " summary",
			Status:  &jira.Status{Name: status, StatusCategory: jira.StatusCategory{Key: category}},
		},
	}
}

func pullMatcher(t *testing.T) cfg.Matcher {
	m, err := cfg.NewPatternMatcher(`(?i)github\.com/apache/storm/pull/([0-9]+)`, "PR-%s")
	require.NoError(t, err)
	return m
}

func TestListIssuesWalksPages(t *testing.T) {
	client := newTestClient()

	var starts []int
	client.handleSearchIssues = func(ctx context.Context, jql string, options *jira.SearchOptions) ([]jira.Issue, *jira.Response, error) {
		assert.Equal(t, "project = 'STORM'", jql)
		assert.Equal(t, maxResults, options.MaxResults)
		assert.Equal(t, searchFields, options.Fields)
		starts = append(starts, options.StartAt)

		if options.StartAt == 0 {
			return []jira.Issue{jiraIssue("STORM-1", "Open", "new"), jiraIssue("STORM-2", "Open", "new")}, jiraResponse(200, 3), nil
		}
		return []jira.Issue{jiraIssue("STORM-3", "Closed", "done")}, jiraResponse(200, 3), nil
	}

	issues, err := ListIssues(context.Background(), client, "project = 'STORM'")
	require.NoError(t, err)

	assert.Len(t, issues, 3)
	assert.Equal(t, []int{0, 2}, starts)
}

func TestListIssuesStopsOnEmptyPage(t *testing.T) {
	client := newTestClient()

	calls := 0
	client.handleSearchIssues = func(context.Context, string, *jira.SearchOptions) ([]jira.Issue, *jira.Response, error) {
		calls++
		return nil, jiraResponse(200, 10), nil
	}

	issues, err := ListIssues(context.Background(), client, "project = 'STORM'")
	require.NoError(t, err)

	assert.Empty(t, issues)
	assert.Equal(t, 1, calls)
}

func TestListIssuesFailsOnTransportError(t *testing.T) {
	client := newTestClient()
	client.timeout = time.Minute

	calls := 0
	client.handleSearchIssues = func(context.Context, string, *jira.SearchOptions) ([]jira.Issue, *jira.Response, error) {
		calls++
		return nil, jiraResponse(401, 0), errors.New("request failed")
	}

	_, err := ListIssues(context.Background(), client, "project = 'STORM'")

	assert.ErrorContains(t, err, "searching JIRA issues: 401 Unauthorized")
	assert.Equal(t, 1, calls)
}

func TestGetProject(t *testing.T) {
	client := newTestClient()
	client.handleGetProject = func(ctx context.Context, key string) (*jira.Project, *jira.Response, error) {
		return &jira.Project{Key: key, Name: "Apache Storm"}, jiraResponse(200, 0), nil
	}

	p, err := GetProject(context.Background(), client, "STORM")
	require.NoError(t, err)
	assert.Equal(t, "Apache Storm", p.Name)

	client.handleGetProject = func(context.Context, string) (*jira.Project, *jira.Response, error) {
		return nil, jiraResponse(404, 0), errors.New("no project")
	}
	_, err = GetProject(context.Background(), client, "NOPE")
	assert.ErrorContains(t, err, "getting JIRA project NOPE")
}

func TestToIssueRecord(t *testing.T) {
	issue := jiraIssue("STORM-3021", "Patch Available", "indeterminate")
	issue.Fields.Description = "See https://github.com/apache/storm/pull/2611"
	issue.Fields.Comments = &jira.Comments{Comments: []*jira.Comment{
		{Body: "GitHub user srdo opened a pull request:\n\n    https://github.com/apache/storm/pull/2612"},
		nil,
		{Body: "again https://github.com/apache/storm/pull/2611"},
	}}

	r := ToIssueRecord(issue, "https://issues.example.org/browse/STORM-3021", pullMatcher(t))

	assert.Equal(t, models.IssueRecord{
		ID:      "STORM-3021",
		Status:  "Patch Available",
		State:   models.IssueInProgress,
		Summary: "STORM-3021 summary",
		URL:     "https://issues.example.org/browse/STORM-3021",
		Refs:    []string{"PR-2611", "PR-2612"},
	}, r)
}

func TestToIssueRecordWithoutFields(t *testing.T) {
	r := ToIssueRecord(jira.Issue{}, "https://issues.example.org/browse/", pullMatcher(t))

	assert.False(t, r.Valid())
	assert.Empty(t, r.URL)
	assert.Equal(t, models.IssueUnknown, r.State)
}

func TestSourceFetchIssues(t *testing.T) {
	client := newTestClient()
	client.handleSearchIssues = func(context.Context, string, *jira.SearchOptions) ([]jira.Issue, *jira.Response, error) {
		closed := jiraIssue("STORM-2", "Closed", "done")
		closed.Fields.Description = "fixed by github.com/apache/storm/pull/7"
		return []jira.Issue{jiraIssue("STORM-1", "Open", "new"), closed}, jiraResponse(200, 2), nil
	}

	records, err := NewSource(client, "project = 'STORM'", pullMatcher(t)).FetchIssues(context.Background())
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, models.IssueOpen, records[0].State)
	assert.Equal(t, "https://issues.example.org/browse/STORM-2", records[1].URL)
	assert.Equal(t, []string{"PR-7"}, records[1].Refs)
}

func TestSourceFetchIssuesError(t *testing.T) {
	client := newTestClient()
	client.handleSearchIssues = func(context.Context, string, *jira.SearchOptions) ([]jira.Issue, *jira.Response, error) {
		return nil, nil, errors.New("dial tcp: connection refused")
	}

	_, err := NewSource(client, "x", pullMatcher(t)).FetchIssues(context.Background())
	assert.ErrorContains(t, err, "connection refused")
}

func TestListIssuesByKeyBatchesKeys(t *testing.T) {
	client := newTestClient()

	keys := []string{"#12", "storm-1"}
	for i := 1; i <= lookupBatch+10; i++ {
		keys = append(keys, fmt.Sprintf("STORM-%d", i))
	}

	var queries []string
	client.handleSearchIssues = func(ctx context.Context, jql string, options *jira.SearchOptions) ([]jira.Issue, *jira.Response, error) {
		assert.Equal(t, "warn", options.ValidateQuery)
		queries = append(queries, jql)
		return []jira.Issue{jiraIssue(fmt.Sprintf("STORM-%d", len(queries)), "Resolved", "done")}, jiraResponse(200, 1), nil
	}

	issues, err := ListIssuesByKey(context.Background(), client, keys)
	require.NoError(t, err)

	require.Len(t, queries, 2)
	assert.True(t, strings.HasPrefix(queries[0], "key in (STORM-1, STORM-2, "))
	assert.Equal(t, "key in (STORM-51, STORM-52, STORM-53, STORM-54, STORM-55, STORM-56, STORM-57, STORM-58, STORM-59, STORM-60) ORDER BY key ASC", queries[1])
	assert.NotContains(t, queries[0], "#12")
	assert.NotContains(t, queries[0], "storm-1,")
	assert.Len(t, issues, 2)
}

func TestListIssuesByKeyWithoutValidKeys(t *testing.T) {
	client := newTestClient()
	client.handleSearchIssues = func(context.Context, string, *jira.SearchOptions) ([]jira.Issue, *jira.Response, error) {
		t.Fatal("no search expected")
		return nil, nil, nil
	}

	issues, err := ListIssuesByKey(context.Background(), client, []string{"PR-x", ""})
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestSourceLookupIssues(t *testing.T) {
	client := newTestClient()
	client.handleSearchIssues = func(ctx context.Context, jql string, options *jira.SearchOptions) ([]jira.Issue, *jira.Response, error) {
		assert.Equal(t, "key in (STORM-5) ORDER BY key ASC", jql)
		return []jira.Issue{jiraIssue("STORM-5", "Resolved", "done")}, jiraResponse(200, 1), nil
	}

	records, err := NewSource(client, "project = 'STORM'", pullMatcher(t)).LookupIssues(context.Background(), []string{"STORM-5"})
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, models.IssueResolved, records[0].State)
	assert.Equal(t, "https://issues.example.org/browse/STORM-5", records[0].URL)
}
