package cfg

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	cmd := &cobra.Command{Use: "issue-join"}
	AddFlags(cmd.Flags())
	require.NoError(t, cmd.Flags().Parse(args))
	return cmd
}

func TestNewConfigDefaults(t *testing.T) {
	config, err := NewConfig(newTestCommand(t))
	require.NoError(t, err)

	jira := config.GetJiraConfig()
	assert.Equal(t, "https://issues.apache.org/jira/", jira.Endpoint.String())
	assert.Equal(t, "STORM", jira.Project)
	assert.Equal(t, "project = 'STORM' AND resolution = Unresolved ORDER BY key ASC", jira.JQL)
	assert.False(t, jira.IsBasicAuth())
	assert.Nil(t, jira.OAuth)

	gh := config.GetGitHubConfig()
	assert.Nil(t, gh.Endpoint)
	assert.Equal(t, "apache", gh.Owner)
	assert.Equal(t, "storm", gh.Repo)
	assert.Equal(t, "all", gh.State)
	assert.False(t, gh.IsAuthenticated())

	assert.Equal(t, OutputText, config.GetOutputFormat())
	assert.Equal(t, time.Duration(0), config.GetTimeout())
	assert.NotNil(t, config.GetLogger())

	assert.Equal(t, []string{"STORM-7"}, config.GetIssueMatcher().Extract("storm-7: fix"))
	assert.Equal(t, []string{"PR-42"}, config.GetChangeMatcher().Extract("see https://github.com/apache/storm/pull/42"))
}

func TestNewConfigFromFlags(t *testing.T) {
	cmd := newTestCommand(t,
		"-g", "octocat",
		"--github-token", "abc",
		"--jira-project", "kafka",
		"--github-repo", "kafka",
		"--jira-user", "bob",
		"--jira-pass", "pw",
		"--output", "JSON",
		"--timeout", "30s",
		"--match-mode", "prefix",
	)

	config, err := NewConfig(cmd)
	require.NoError(t, err)

	assert.Equal(t, "KAFKA", config.GetJiraConfig().Project)
	assert.True(t, config.GetJiraConfig().IsBasicAuth())
	assert.Equal(t, "octocat", config.GetGitHubConfig().User)
	assert.Equal(t, "abc", config.GetGitHubConfig().Token)
	assert.Equal(t, OutputJSON, config.GetOutputFormat())
	assert.Equal(t, 30*time.Second, config.GetTimeout())

	assert.IsType(t, PrefixMatcher{}, config.GetIssueMatcher())
	assert.Equal(t, []string{"KAFKA-1"}, config.GetIssueMatcher().Extract("kafka-1"))
	assert.Equal(t, []string{"PR-3"}, config.GetChangeMatcher().Extract("github.com/apache/kafka/pull/3"))
}

func TestNewConfigFromEnvironment(t *testing.T) {
	cmd := newTestCommand(t)
	t.Setenv("ISSUE_JOIN_JIRA_PROJECT", "hadoop")
	t.Setenv("ISSUE_JOIN_GITHUB_STATE", "open")

	config, err := NewConfig(cmd)
	require.NoError(t, err)

	assert.Equal(t, "HADOOP", config.GetJiraConfig().Project)
	assert.Equal(t, "open", config.GetGitHubConfig().State)
}

func TestNewConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "join.yaml")
	content := "jira-jql: project = STORM ORDER BY key\ngithub-uri: https://git.example.com/api/v3/\noutput: yaml\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	config, err := NewConfig(newTestCommand(t, "--config", path))
	require.NoError(t, err)

	assert.Equal(t, "project = STORM ORDER BY key", config.GetJiraConfig().JQL)
	assert.Equal(t, "git.example.com", config.GetGitHubConfig().Endpoint.Host)
	assert.Equal(t, OutputYAML, config.GetOutputFormat())
	assert.Equal(t, []string{"PR-5"}, config.GetChangeMatcher().Extract("https://git.example.com/apache/storm/pull/5"))
}

func TestNewConfigMissingFile(t *testing.T) {
	_, err := NewConfig(newTestCommand(t, "--config", filepath.Join(t.TempDir(), "nope.yaml")))
	assert.Error(t, err)
}

func TestNewConfigPromptsForGitHubToken(t *testing.T) {
	saved := readPassword
	defer func() { readPassword = saved }()

	var prompt string
	readPassword = func(p string) (string, error) {
		prompt = p
		return " s3cret\n", nil
	}

	config, err := NewConfig(newTestCommand(t, "--github-user", "octocat"))
	require.NoError(t, err)

	assert.Equal(t, "GitHub token for octocat: ", prompt)
	assert.Equal(t, "s3cret", config.GetGitHubConfig().Token)
}

func TestNewConfigPromptFailure(t *testing.T) {
	saved := readPassword
	defer func() { readPassword = saved }()

	readPassword = func(string) (string, error) {
		return "", errors.New("stdin is not a terminal")
	}

	_, err := NewConfig(newTestCommand(t, "--github-user", "octocat"))
	assert.ErrorContains(t, err, "github-token is required")
}

func TestNewConfigDropsTokenWithoutUser(t *testing.T) {
	config, err := NewConfig(newTestCommand(t, "--github-token", "abc"))
	require.NoError(t, err)

	assert.Empty(t, config.GetGitHubConfig().Token)
}

func TestNewConfigOAuth(t *testing.T) {
	config, err := NewConfig(newTestCommand(t,
		"--jira-consumer-key", "issue-join",
		"--jira-private-key", "/tmp/key.pem",
		"--jira-token", "tok",
		"--jira-token-secret", "sec",
		"--jira-user", "ignored",
		"--jira-pass", "ignored",
	))
	require.NoError(t, err)

	jira := config.GetJiraConfig()
	require.NotNil(t, jira.OAuth)
	assert.Equal(t, "tok", jira.OAuth.Token)
	assert.False(t, jira.IsBasicAuth())
}

func TestNewConfigInvalid(t *testing.T) {
	cases := map[string][]string{
		"output":         {"--output", "xml"},
		"timeout":        {"--timeout", "-1s"},
		"jira uri":       {"--jira-uri", "ftp://jira"},
		"jira host":      {"--jira-uri", "https://"},
		"project":        {"--jira-project", ""},
		"jira pass":      {"--jira-user", "bob"},
		"partial oauth":  {"--jira-token", "tok"},
		"github repo":    {"--github-repo", ""},
		"github state":   {"--github-state", "merged"},
		"github uri":     {"--github-uri", "git.example.com"},
		"match mode":     {"--match-mode", "fuzzy"},
		"issue pattern":  {"--issue-pattern", "STORM-("},
		"change pattern": {"--change-pattern", "pull/(["},
	}

	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewConfig(newTestCommand(t, args...))
			assert.Error(t, err)
		})
	}
}

func TestNewLoggerUnknownLevel(t *testing.T) {
	log := NewLogger("test", "chatty")
	assert.Equal(t, "info", log.Logger.GetLevel().String())
	assert.Equal(t, "test", log.Data["app"])
	assert.NotEmpty(t, log.Data["run"])
}
