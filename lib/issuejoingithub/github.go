package issuejoingithub

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v68/github"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/crfeliz/issue-join/cfg"
	"github.com/crfeliz/issue-join/lib/models"
	"github.com/crfeliz/issue-join/lib/utils"
)

// perPage is the page size of GitHub list calls.
const perPage = 100

// requestTimeout bounds a single HTTP request to GitHub.
const requestTimeout = 60 * time.Second

// Client is a wrapper around the GitHub API client library we use. It
// allows us to swap in other implementations, such as mock clients for
// testing.
type Client interface {
	getLogger() *logrus.Entry
	getTimeout() time.Duration
	listPullRequests(ctx context.Context, owner, repo, state string, page int) ([]*github.PullRequest, *github.Response, error)
	getRepository(ctx context.Context, owner, repo string) (*github.Repository, *github.Response, error)
	getUser(ctx context.Context, user string) (*github.User, *github.Response, error)
}

// realGHClient makes all of its requests against the GitHub REST API. It
// is the canonical implementation of Client.
type realGHClient struct {
	client  *github.Client
	log     *logrus.Entry
	timeout time.Duration
}

func (g realGHClient) getLogger() *logrus.Entry {
	return g.log
}

func (g realGHClient) getTimeout() time.Duration {
	return g.timeout
}

func (g realGHClient) listPullRequests(ctx context.Context, owner, repo, state string, page int) ([]*github.PullRequest, *github.Response, error) {
	return g.client.PullRequests.List(ctx, owner, repo, &github.PullRequestListOptions{
		State:     state,
		Sort:      "created",
		Direction: "asc",
		ListOptions: github.ListOptions{
			Page:    page,
			PerPage: perPage,
		},
	})
}

func (g realGHClient) getRepository(ctx context.Context, owner, repo string) (*github.Repository, *github.Response, error) {
	return g.client.Repositories.Get(ctx, owner, repo)
}

func (g realGHClient) getUser(ctx context.Context, user string) (*github.User, *github.Response, error) {
	return g.client.Users.Get(ctx, user)
}

// NewClient creates a Client for the configured repository. Without a
// GitHub user every request is anonymous; with one, requests carry its
// token. It fetches the repository once to check that we can connect.
func NewClient(ctx context.Context, config cfg.Config) (Client, error) {
	log := config.GetLogger()
	gc := config.GetGitHubConfig()

	httpClient := &http.Client{Timeout: requestTimeout}
	if gc.IsAuthenticated() {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: gc.Token})
		httpClient = oauth2.NewClient(ctx, ts)
		httpClient.Timeout = requestTimeout
	}

	client := github.NewClient(httpClient)
	if gc.Endpoint != nil {
		var err error
		client, err = client.WithEnterpriseURLs(gc.Endpoint.String(), gc.Endpoint.String())
		if err != nil {
			log.Errorf("Error initializing GitHub client; check your base URI. Error: %v", err)
			return nil, err
		}
	}

	g := realGHClient{
		client:  client,
		log:     log,
		timeout: config.GetTimeout(),
	}

	if _, err := GetRepository(ctx, g, gc.Owner, gc.Repo); err != nil {
		return nil, err
	}
	if gc.IsAuthenticated() {
		if err := CheckIdentity(ctx, g, gc.User); err != nil {
			return nil, err
		}
	}
	log.Debug("Successfully connected to GitHub.")

	return g, nil
}

// GetRepository returns the repository owner/repo.
func GetRepository(ctx context.Context, g Client, owner, repo string) (*github.Repository, error) {
	log := g.getLogger()

	r, err := utils.Retry(ctx, log, g.getTimeout(), func() (*github.Repository, error) {
		r, res, err := g.getRepository(ctx, owner, repo)
		return r, utils.Permanent(httpResponse(res), err)
	})
	if err != nil {
		log.Errorf("Error retrieving GitHub repository %s/%s: %v", owner, repo, err)
		return nil, fmt.Errorf("getting GitHub repository %s/%s: %w", owner, repo, err)
	}
	return r, nil
}

// CheckIdentity fetches the user the token belongs to and warns when it
// is not user.
func CheckIdentity(ctx context.Context, g Client, user string) error {
	log := g.getLogger()

	u, err := utils.Retry(ctx, log, g.getTimeout(), func() (*github.User, error) {
		u, res, err := g.getUser(ctx, "")
		return u, utils.Permanent(httpResponse(res), err)
	})
	if err != nil {
		log.Errorf("Error retrieving authenticated GitHub user: %v", err)
		return fmt.Errorf("authenticating GitHub user %s: %w", user, err)
	}

	if login := u.GetLogin(); !strings.EqualFold(login, user) {
		log.Warnf("GitHub token belongs to %s, not %s", login, user)
	} else {
		log.Debugf("Authenticated to GitHub as %s", login)
	}
	return nil
}

// ListPullRequests returns the pull requests of owner/repo in the given
// state, oldest first, walking all result pages.
func ListPullRequests(ctx context.Context, g Client, owner, repo, state string) ([]*github.PullRequest, error) {
	log := g.getLogger()

	var prs []*github.PullRequest
	for page := 1; page != 0; {
		var next int
		ps, err := utils.Retry(ctx, log, g.getTimeout(), func() ([]*github.PullRequest, error) {
			ps, res, err := g.listPullRequests(ctx, owner, repo, state, page)
			if res != nil {
				next = res.NextPage
			}
			return ps, utils.Permanent(httpResponse(res), err)
		})
		if err != nil {
			log.Errorf("Error retrieving GitHub pull requests: %v", err)
			return nil, fmt.Errorf("listing pull requests of %s/%s (page %d): %w", owner, repo, page, err)
		}

		prs = append(prs, ps...)
		log.Debugf("Collected page %d of GitHub pull requests (%d so far)", page, len(prs))
		page = next
	}

	log.Debug("Collected all GitHub pull requests")
	return prs, nil
}

// ToChangeRecord maps a pull request onto a ChangeRecord. Issue
// references are extracted with m from the title and body.
func ToChangeRecord(pr *github.PullRequest, m cfg.Matcher) models.ChangeRecord {
	record := models.ChangeRecord{
		Number: pr.GetNumber(),
		Title:  pr.GetTitle(),
		Author: pr.GetUser().GetLogin(),
		URL:    pr.GetHTMLURL(),
		Refs:   m.Extract(pr.GetTitle() + "\n" + pr.GetBody()),
	}
	if pr.Number != nil {
		record.ID = fmt.Sprintf("PR-%d", pr.GetNumber())
	}

	switch {
	case pr.MergedAt != nil:
		record.State = models.ChangeMerged
	case pr.GetState() == "open":
		record.State = models.ChangeOpen
	default:
		record.State = models.ChangeClosed
	}
	return record
}

// Host fetches the change side of a report from one GitHub repository.
type Host struct {
	client  Client
	owner   string
	repo    string
	state   string
	matcher cfg.Matcher
}

// NewHost returns a Host listing pull requests of gc's repository and
// extracting issue references with m.
func NewHost(client Client, gc cfg.GitHubConfig, m cfg.Matcher) Host {
	return Host{client: client, owner: gc.Owner, repo: gc.Repo, state: gc.State, matcher: m}
}

// FetchChanges returns every pull request as a ChangeRecord.
func (h Host) FetchChanges(ctx context.Context) ([]models.ChangeRecord, error) {
	prs, err := ListPullRequests(ctx, h.client, h.owner, h.repo, h.state)
	if err != nil {
		return nil, err
	}

	records := make([]models.ChangeRecord, 0, len(prs))
	for _, pr := range prs {
		if pr == nil {
			// Kept as an invalid record so the report counts it as skipped.
			records = append(records, models.ChangeRecord{})
			continue
		}
		records = append(records, ToChangeRecord(pr, h.matcher))
	}
	return records, nil
}

func httpResponse(res *github.Response) *http.Response {
	if res == nil {
		return nil
	}
	return res.Response
}
