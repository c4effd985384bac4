package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/crfeliz/issue-join/cfg"
	"github.com/crfeliz/issue-join/lib"
	"github.com/crfeliz/issue-join/lib/issuejoingithub"
	"github.com/crfeliz/issue-join/lib/issuejoinjira"
)

// RootCmd represents the command itself and its configuration.
var RootCmd = NewRootCmd()

// NewRootCmd builds the issue-join command with all of its flags.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issue-join",
		Short: "A tool to join JIRA issues with GitHub pull requests",
		Long: `issue-join fetches the issues of a JIRA project and the pull requests
of a GitHub repository, joins records that reference each other and prints
a report grouped by the state of each joined entry.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := cfg.NewConfig(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, config, cmd.OutOrStdout())
		},
	}
	cfg.AddFlags(cmd.Flags())
	return cmd
}

func run(ctx context.Context, config cfg.Config, w io.Writer) error {
	log := config.GetLogger()

	jiraClient, err := issuejoinjira.NewClient(ctx, config)
	if err != nil {
		return err
	}
	ghClient, err := issuejoingithub.NewClient(ctx, config)
	if err != nil {
		return err
	}

	source := issuejoinjira.NewSource(jiraClient, config.GetJiraConfig().JQL, config.GetChangeMatcher())
	host := issuejoingithub.NewHost(ghClient, config.GetGitHubConfig(), config.GetIssueMatcher())

	if err := lib.GenerateReport(ctx, config, source, host, w, time.Now()); err != nil {
		return err
	}
	log.Debug("Report complete")
	return nil
}

// Execute runs the root command, exiting non-zero on failure.
func Execute(ctx context.Context) {
	if err := RootCmd.ExecuteContext(ctx); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
