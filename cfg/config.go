package cfg

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/crypto/ssh/terminal"
)

// DateFormat is the format of the report timestamp, in UTC.
const DateFormat = "2006-01-02 15:04:05"

// Output formats understood by the report renderers.
const (
	OutputText = "text"
	OutputJSON = "json"
	OutputYAML = "yaml"
)

const (
	defaultJiraURI     = "https://issues.apache.org/jira"
	defaultJiraProject = "STORM"
	defaultGitHubOwner = "apache"
	defaultGitHubRepo  = "storm"
)

// JiraConfig holds the validated settings of the issue tracker.
type JiraConfig struct {
	Endpoint *url.URL
	Project  string
	JQL      string
	User     string
	Pass     string
	// OAuth is nil unless a full set of OAuth1 credentials was given.
	OAuth *OAuthConfig
}

// IsBasicAuth reports whether requests should carry basic credentials.
func (j JiraConfig) IsBasicAuth() bool {
	return j.OAuth == nil && j.User != ""
}

// OAuthConfig is a pre-provisioned Jira OAuth1 credential set.
type OAuthConfig struct {
	ConsumerKey    string
	PrivateKeyPath string
	Token          string
	TokenSecret    string
}

// GitHubConfig holds the validated settings of the code host.
type GitHubConfig struct {
	// Endpoint is nil for github.com.
	Endpoint *url.URL
	Owner    string
	Repo     string
	State    string
	User     string
	Token    string
}

// IsAuthenticated reports whether a GitHub identity was selected.
func (g GitHubConfig) IsAuthenticated() bool {
	return g.User != ""
}

// Config is the configuration of one run. It is built once from flags,
// environment and the optional config file, and validated on construction.
type Config struct {
	cmdConfig *viper.Viper

	log *logrus.Entry

	jira   JiraConfig
	github GitHubConfig

	issueMatcher  Matcher
	changeMatcher Matcher

	output  string
	timeout time.Duration
}

// readPassword prompts for a secret on the controlling terminal.
var readPassword = func(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !terminal.IsTerminal(fd) {
		return "", errors.New("stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := terminal.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// AddFlags registers every configuration flag on flags.
func AddFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "config file (default is $HOME/.issue-join.yaml)")
	flags.String("log-level", logrus.InfoLevel.String(), "set the global log level")
	flags.String("output", OutputText, "report format: text, json or yaml")
	flags.Duration("timeout", 0, "retry failed API calls with backoff for up to this long (0 disables retries)")

	flags.String("jira-uri", defaultJiraURI, "base URL of the JIRA instance")
	flags.String("jira-project", defaultJiraProject, "key of the JIRA project")
	flags.String("jira-jql", "", "JQL selecting the issues to report (default: unresolved issues of the project)")
	flags.String("jira-user", "", "JIRA user for basic auth")
	flags.String("jira-pass", "", "JIRA password or API token for basic auth")
	flags.String("jira-consumer-key", "", "JIRA OAuth consumer key")
	flags.String("jira-private-key", "", "path to the PEM private key of the JIRA OAuth consumer")
	flags.String("jira-token", "", "JIRA OAuth access token")
	flags.String("jira-token-secret", "", "JIRA OAuth access token secret")

	flags.StringP("github-user", "g", "", "GitHub user; if not supplied no auth is used")
	flags.String("github-token", "", "GitHub personal access token of --github-user")
	flags.String("github-owner", defaultGitHubOwner, "owner of the GitHub repository")
	flags.String("github-repo", defaultGitHubRepo, "name of the GitHub repository")
	flags.String("github-state", "all", "pull requests to fetch: open, closed or all")
	flags.String("github-uri", "", "base URL of a GitHub Enterprise instance")

	flags.String("match-mode", string(MatchPattern), "how references are found in text: pattern or prefix")
	flags.String("issue-pattern", "", "regexp finding issue keys in pull requests (default: <jira-project>-<number>)")
	flags.String("change-pattern", "", "regexp finding pull requests in issues (default: links to the repository's pulls)")
}

// NewConfig reads the configuration of cmd, including its config file and
// ISSUE_JOIN_* environment variables, and validates it.
func NewConfig(cmd *cobra.Command) (Config, error) {
	config := Config{}

	v := viper.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return config, err
	}
	v.SetEnvPrefix("issue_join")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	config.cmdConfig = v
	config.log = NewLogger("issue-join", v.GetString("log-level"))

	if err := config.loadConfigFile(); err != nil {
		return config, err
	}
	// The file may change the level.
	if lvl, err := logrus.ParseLevel(v.GetString("log-level")); err == nil {
		config.log.Logger.SetLevel(lvl)
	}

	if err := config.validateConfig(); err != nil {
		return config, err
	}

	return config, nil
}

// loadConfigFile merges the explicit or default config file into the
// command configuration. A missing default file is not an error.
func (c *Config) loadConfigFile() error {
	if path := c.cmdConfig.GetString("config"); path != "" {
		c.cmdConfig.SetConfigFile(path)
	} else {
		c.cmdConfig.SetConfigName(".issue-join")
		c.cmdConfig.AddConfigPath("$HOME")
		c.cmdConfig.AddConfigPath(".")
	}

	if err := c.cmdConfig.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			c.log.Debug("No config file found; using flags and environment")
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}
	c.log.Debugf("Using config file %s", c.cmdConfig.ConfigFileUsed())
	return nil
}

// GetLogger returns the logger of this run.
func (c Config) GetLogger() *logrus.Entry {
	return c.log
}

// GetConfigString returns a raw string value from the command configuration.
func (c Config) GetConfigString(key string) string {
	return strings.TrimSpace(c.cmdConfig.GetString(key))
}

// GetTimeout returns how long failing API calls are retried; zero means
// every call is attempted once.
func (c Config) GetTimeout() time.Duration {
	return c.timeout
}

// GetJiraConfig returns the issue tracker settings.
func (c Config) GetJiraConfig() JiraConfig {
	return c.jira
}

// GetGitHubConfig returns the code host settings.
func (c Config) GetGitHubConfig() GitHubConfig {
	return c.github
}

// GetIssueMatcher returns the matcher finding issue keys in pull requests.
func (c Config) GetIssueMatcher() Matcher {
	return c.issueMatcher
}

// GetChangeMatcher returns the matcher finding pull requests in issues.
func (c Config) GetChangeMatcher() Matcher {
	return c.changeMatcher
}

// GetOutputFormat returns the report format.
func (c Config) GetOutputFormat() string {
	return c.output
}

// validateConfig checks every setting and builds the typed sections.
func (c *Config) validateConfig() error {
	c.output = strings.ToLower(c.GetConfigString("output"))
	switch c.output {
	case OutputText, OutputJSON, OutputYAML:
	default:
		return fmt.Errorf("unknown output format %q", c.output)
	}

	c.timeout = c.cmdConfig.GetDuration("timeout")
	if c.timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", c.timeout)
	}

	if err := c.validateJira(); err != nil {
		return err
	}
	if err := c.validateGitHub(); err != nil {
		return err
	}
	if err := c.validateMatchers(); err != nil {
		return err
	}

	c.log.Debug("All config values checked")
	return nil
}

func (c *Config) validateJira() error {
	endpoint, err := parseEndpoint(c.GetConfigString("jira-uri"))
	if err != nil {
		return fmt.Errorf("jira-uri: %w", err)
	}
	if endpoint == nil {
		return errors.New("jira-uri must be set")
	}
	if !strings.HasSuffix(endpoint.Path, "/") {
		endpoint.Path += "/"
	}

	j := JiraConfig{
		Endpoint: endpoint,
		Project:  strings.ToUpper(c.GetConfigString("jira-project")),
		JQL:      c.GetConfigString("jira-jql"),
		User:     c.GetConfigString("jira-user"),
		Pass:     c.cmdConfig.GetString("jira-pass"),
	}
	if j.Project == "" {
		return errors.New("jira-project must be set")
	}
	if j.JQL == "" {
		j.JQL = fmt.Sprintf("project = '%s' AND resolution = Unresolved ORDER BY key ASC", j.Project)
	}
	if j.User != "" && j.Pass == "" {
		return errors.New("jira-pass is required when jira-user is set")
	}

	oauth := OAuthConfig{
		ConsumerKey:    c.GetConfigString("jira-consumer-key"),
		PrivateKeyPath: c.GetConfigString("jira-private-key"),
		Token:          c.GetConfigString("jira-token"),
		TokenSecret:    c.GetConfigString("jira-token-secret"),
	}
	switch {
	case oauth == (OAuthConfig{}):
	case oauth.ConsumerKey == "" || oauth.PrivateKeyPath == "" || oauth.Token == "" || oauth.TokenSecret == "":
		return errors.New("jira OAuth needs jira-consumer-key, jira-private-key, jira-token and jira-token-secret")
	default:
		j.OAuth = &oauth
	}

	c.jira = j
	return nil
}

func (c *Config) validateGitHub() error {
	endpoint, err := parseEndpoint(c.GetConfigString("github-uri"))
	if err != nil {
		return fmt.Errorf("github-uri: %w", err)
	}

	g := GitHubConfig{
		Endpoint: endpoint,
		Owner:    c.GetConfigString("github-owner"),
		Repo:     c.GetConfigString("github-repo"),
		State:    strings.ToLower(c.GetConfigString("github-state")),
		User:     c.GetConfigString("github-user"),
		Token:    c.GetConfigString("github-token"),
	}
	if g.Owner == "" || g.Repo == "" {
		return errors.New("github-owner and github-repo must be set")
	}
	switch g.State {
	case "open", "closed", "all":
	default:
		return fmt.Errorf("github-state must be open, closed or all, got %q", g.State)
	}

	if g.IsAuthenticated() && g.Token == "" {
		token, err := readPassword(fmt.Sprintf("GitHub token for %s: ", g.User))
		if err != nil {
			return fmt.Errorf("github-token is required when github-user is set: %w", err)
		}
		g.Token = strings.TrimSpace(token)
		if g.Token == "" {
			return errors.New("github-token is required when github-user is set")
		}
	}
	if !g.IsAuthenticated() && g.Token != "" {
		c.log.Debug("github-token given without github-user; it is ignored")
		g.Token = ""
	}

	c.github = g
	return nil
}

func (c *Config) validateMatchers() error {
	mode := MatchMode(strings.ToLower(c.GetConfigString("match-mode")))

	issuePattern := c.GetConfigString("issue-pattern")
	if issuePattern == "" {
		issuePattern = fmt.Sprintf(`(?i)\b%s-[0-9]+\b`, regexp.QuoteMeta(c.jira.Project))
	}
	issueMatcher, err := newMatcher(mode, issuePattern, c.jira.Project+"-", "")
	if err != nil {
		return err
	}

	host := "github.com"
	if c.github.Endpoint != nil {
		host = c.github.Endpoint.Host
	}
	pullsPath := fmt.Sprintf("%s/%s/%s/pull/", host, c.github.Owner, c.github.Repo)
	changePattern := c.GetConfigString("change-pattern")
	if changePattern == "" {
		changePattern = fmt.Sprintf(`(?i)%s([0-9]+)`, regexp.QuoteMeta(pullsPath))
	}
	changeMatcher, err := newMatcher(mode, changePattern, pullsPath, "PR-%s")
	if err != nil {
		return err
	}

	c.issueMatcher = issueMatcher
	c.changeMatcher = changeMatcher
	return nil
}

// parseEndpoint parses an absolute http(s) URL. An empty string yields nil.
func parseEndpoint(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%q is not an http(s) URL", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%q has no host", raw)
	}
	return u, nil
}
