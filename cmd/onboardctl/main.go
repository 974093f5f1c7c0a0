package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"KinLink/config"
	"KinLink/pkg/logger"
)

var version = "dev"

// options 所有子命令共用的全局参数
type options struct {
	userID  string
	store   string
	dbPath  string
	apiURL  string
	token   string
	jsonOut bool
	verbose bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	var env *cliEnv

	rootCmd := &cobra.Command{
		Use:   "onboardctl",
		Short: "Inspect and drive KinLink onboarding from a terminal",
		Long: `onboardctl keeps a device-local copy of a user's onboarding progress and
answers, and syncs it with the KinLink API the same way the mobile app does.

Local writes always succeed; when the API is unreachable the result is
reported as "deferred" and the next sync retries.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if opts.verbose {
				if err := logger.Setup(logger.Options{Level: "debug", Format: "text", Output: "stderr"}); err != nil {
					return err
				}
			}
			if cmd.Annotations["standalone"] == "true" {
				return nil
			}
			var err error
			env, err = openEnv(cmd.Context(), opts)
			return err
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			defer logger.Sync()
			if env == nil {
				return nil
			}
			return env.Close()
		},
	}

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.userID, "user", "u", "", "user public id")
	flags.StringVar(&opts.store, "store", "sqlite", "local store: sqlite|redis|memory")
	flags.StringVar(&opts.dbPath, "db", config.Cfg.LocalStorePath, "sqlite database path")
	flags.StringVar(&opts.apiURL, "api", config.Cfg.APIBaseURL, "KinLink API base URL, empty to work offline")
	flags.StringVar(&opts.token, "token", config.Cfg.APIToken, "bearer token for the API")
	flags.BoolVar(&opts.jsonOut, "json", false, "print JSON instead of text")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log engine activity to stderr")

	envOf := func() *cliEnv { return env }
	rootCmd.AddCommand(
		newStatusCmd(opts, envOf),
		newStepCmd(opts, envOf, "complete", "Mark a step as completed", false),
		newStepCmd(opts, envOf, "skip", "Skip an optional step", true),
		newAnswerCmd(opts, envOf),
		newAnswersCmd(opts, envOf),
		newNextCmd(opts, envOf),
		newSyncCmd(opts, envOf),
		newFinishCmd(opts, envOf),
		newResetCmd(opts, envOf),
		newProfileCmd(opts, envOf),
		newTokenCmd(),
	)
	return rootCmd
}
