package issuejoinjira

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/andygrunwald/go-jira"
	"github.com/sirupsen/logrus"

	"github.com/crfeliz/issue-join/cfg"
	"github.com/crfeliz/issue-join/lib/models"
	"github.com/crfeliz/issue-join/lib/utils"
)

// maxResults is the page size of JIRA searches.
const maxResults = 100

// requestTimeout bounds a single HTTP request to JIRA.
const requestTimeout = 60 * time.Second

// lookupBatch is the number of keys looked up in one search.
const lookupBatch = 50

// issueKeyRegex matches a JIRA issue key such as STORM-123.
var issueKeyRegex = regexp.MustCompile(`^[A-Z][A-Z0-9_]*-[0-9]+$`)

// searchFields are the issue fields an IssueRecord is built from.
var searchFields = []string{"summary", "status", "description", "comment"}

// Client is a wrapper around the JIRA API client library we use. It
// hides the library and retries behind a small surface so tests can swap
// in their own implementation.
type Client interface {
	getLogger() *logrus.Entry
	getTimeout() time.Duration
	browseURL(key string) string
	searchIssues(ctx context.Context, jql string, options *jira.SearchOptions) ([]jira.Issue, *jira.Response, error)
	getProject(ctx context.Context, key string) (*jira.Project, *jira.Response, error)
}

// realJIRAClient makes all of its requests against the JIRA REST API. It
// is the canonical implementation of Client.
type realJIRAClient struct {
	log     *logrus.Entry
	timeout time.Duration
	browse  string
	client  *jira.Client
}

func (j realJIRAClient) getLogger() *logrus.Entry {
	return j.log
}

func (j realJIRAClient) getTimeout() time.Duration {
	return j.timeout
}

func (j realJIRAClient) browseURL(key string) string {
	return j.browse + key
}

func (j realJIRAClient) searchIssues(ctx context.Context, jql string, options *jira.SearchOptions) ([]jira.Issue, *jira.Response, error) {
	return j.client.Issue.SearchWithContext(ctx, jql, options)
}

func (j realJIRAClient) getProject(ctx context.Context, key string) (*jira.Project, *jira.Response, error) {
	return j.client.Project.GetWithContext(ctx, key)
}

// NewClient creates a Client for the configured JIRA instance. Requests
// are anonymous unless basic or OAuth credentials are configured. It
// fetches the configured project once to check that JIRA is reachable.
func NewClient(ctx context.Context, config cfg.Config) (Client, error) {
	log := config.GetLogger()
	jc := config.GetJiraConfig()

	httpClient := &http.Client{Timeout: requestTimeout}
	switch {
	case jc.OAuth != nil:
		var err error
		httpClient, err = newJIRAHTTPClient(ctx, jc)
		if err != nil {
			log.Errorf("Error getting OAuth config: %v", err)
			return nil, err
		}
		log.Debug("Using JIRA OAuth")
	case jc.IsBasicAuth():
		tp := jira.BasicAuthTransport{Username: jc.User, Password: jc.Pass}
		httpClient = tp.Client()
		httpClient.Timeout = requestTimeout
		log.Debugf("Using JIRA basic auth as %s", jc.User)
	default:
		log.Debug("Using anonymous JIRA access")
	}

	client, err := jira.NewClient(httpClient, jc.Endpoint.String())
	if err != nil {
		log.Errorf("Error initializing JIRA client; check your base URI. Error: %v", err)
		return nil, err
	}

	j := realJIRAClient{
		log:     log,
		timeout: config.GetTimeout(),
		browse:  jc.Endpoint.String() + "browse/",
		client:  client,
	}

	if _, err := GetProject(ctx, j, jc.Project); err != nil {
		return nil, err
	}
	log.Debug("Successfully connected to JIRA.")

	return j, nil
}

// GetProject returns the JIRA project with the given key.
func GetProject(ctx context.Context, j Client, key string) (jira.Project, error) {
	log := j.getLogger()

	p, err := utils.Retry(ctx, log, j.getTimeout(), func() (*jira.Project, error) {
		p, res, err := j.getProject(ctx, key)
		return p, utils.Permanent(httpResponse(res), err)
	})
	if err != nil {
		log.Errorf("Error retrieving JIRA project %s: %v", key, err)
		return jira.Project{}, fmt.Errorf("getting JIRA project %s: %w", key, err)
	}
	if p == nil {
		return jira.Project{}, fmt.Errorf("getting JIRA project %s: empty response", key)
	}
	return *p, nil
}

// ListIssues returns every JIRA issue matching jql, walking all result
// pages.
func ListIssues(ctx context.Context, j Client, jql string) ([]jira.Issue, error) {
	return search(ctx, j, jql, "")
}

// ListIssuesByKey returns the JIRA issues with the given keys, searching
// lookupBatch keys at a time. Keys that are not JIRA issue keys, or that
// do not exist, are left out.
func ListIssuesByKey(ctx context.Context, j Client, keys []string) ([]jira.Issue, error) {
	log := j.getLogger()

	var valid []string
	for _, k := range keys {
		if !issueKeyRegex.MatchString(k) {
			log.Debugf("Not looking up %q: not a JIRA issue key", k)
			continue
		}
		valid = append(valid, k)
	}

	var issues []jira.Issue
	for len(valid) > 0 {
		n := min(len(valid), lookupBatch)
		jql := fmt.Sprintf("key in (%s) ORDER BY key ASC", strings.Join(valid[:n], ", "))
		valid = valid[n:]

		// Unknown keys only warn instead of failing the whole search.
		batch, err := search(ctx, j, jql, "warn")
		if err != nil {
			return nil, err
		}
		issues = append(issues, batch...)
	}
	return issues, nil
}

func search(ctx context.Context, j Client, jql, validate string) ([]jira.Issue, error) {
	log := j.getLogger()
	log.Debugf("Searching JIRA issues: %s", jql)

	var issues []jira.Issue
	startAt := 0
	for {
		opts := &jira.SearchOptions{
			StartAt:       startAt,
			MaxResults:    maxResults,
			Fields:        searchFields,
			ValidateQuery: validate,
		}

		var total int
		page, err := utils.Retry(ctx, log, j.getTimeout(), func() ([]jira.Issue, error) {
			is, res, err := j.searchIssues(ctx, jql, opts)
			if res != nil {
				total = res.Total
			}
			return is, utils.Permanent(httpResponse(res), err)
		})
		if err != nil {
			log.Errorf("Error retrieving JIRA issues: %v", err)
			return nil, fmt.Errorf("searching JIRA issues: %w", err)
		}

		issues = append(issues, page...)
		startAt += len(page)
		log.Debugf("Collected %d of %d JIRA issues", len(issues), total)

		if len(page) == 0 || startAt >= total {
			break
		}
	}

	log.Debug("Collected all JIRA issues")
	return issues, nil
}

// ToIssueRecord maps a JIRA issue onto an IssueRecord. Change references
// are extracted with m from the summary, description and comments.
func ToIssueRecord(issue jira.Issue, browseURL string, m cfg.Matcher) models.IssueRecord {
	record := models.IssueRecord{
		ID:    issue.Key,
		State: models.IssueUnknown,
	}
	if issue.Key != "" {
		record.URL = browseURL
	}

	f := issue.Fields
	if f == nil {
		return record
	}

	record.Summary = f.Summary
	if f.Status != nil {
		record.Status = f.Status.Name
		record.State = models.IssueStateFromName(f.Status.Name, f.Status.StatusCategory.Key)
	}

	texts := []string{f.Summary, f.Description}
	if f.Comments != nil {
		for _, c := range f.Comments.Comments {
			if c != nil {
				texts = append(texts, c.Body)
			}
		}
	}
	record.Refs = m.Extract(strings.Join(texts, "\n"))

	return record
}

// Source fetches the issue side of a report from JIRA.
type Source struct {
	client  Client
	jql     string
	matcher cfg.Matcher
}

// NewSource returns a Source running jql through client and extracting
// change references with m.
func NewSource(client Client, jql string, m cfg.Matcher) Source {
	return Source{client: client, jql: jql, matcher: m}
}

// FetchIssues returns every matching issue as an IssueRecord.
func (s Source) FetchIssues(ctx context.Context) ([]models.IssueRecord, error) {
	issues, err := ListIssues(ctx, s.client, s.jql)
	if err != nil {
		return nil, err
	}
	return s.toRecords(issues), nil
}

// LookupIssues returns the issues with the given keys, whether or not
// they match the source's JQL.
func (s Source) LookupIssues(ctx context.Context, keys []string) ([]models.IssueRecord, error) {
	issues, err := ListIssuesByKey(ctx, s.client, keys)
	if err != nil {
		return nil, err
	}
	return s.toRecords(issues), nil
}

func (s Source) toRecords(issues []jira.Issue) []models.IssueRecord {
	records := make([]models.IssueRecord, 0, len(issues))
	for _, issue := range issues {
		records = append(records, ToIssueRecord(issue, s.client.browseURL(issue.Key), s.matcher))
	}
	return records
}

func httpResponse(res *jira.Response) *http.Response {
	if res == nil {
		return nil
	}
	return res.Response
}
