package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"KinLink/config"
	"KinLink/internal/onboarding"
	"KinLink/pkg/token"
)

type envFunc func() *cliEnv

func newStatusCmd(opts *options, env envFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show step progress, answer summary and what comes next",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if _, err := env().coord.Load(ctx, opts.userID); err != nil {
				return err
			}
			snap, err := env().coord.Snapshot(ctx, opts.userID)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return writeJSON(cmd.OutOrStdout(), snap)
			}
			printSnapshot(cmd.OutOrStdout(), snap)
			return nil
		},
	}
}

func newStepCmd(opts *options, env envFunc, use, short string, skip bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <step-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var (
				p   *onboarding.OnboardingProgress
				res onboarding.SyncResult
				err error
			)
			if skip {
				p, res, err = env().coord.SkipStep(ctx, opts.userID, args[0])
			} else {
				p, res, err = env().coord.CompleteStep(ctx, opts.userID, args[0])
			}
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"progress": p, "sync": res})
			}
			printProgress(cmd.OutOrStdout(), p)
			printSync(cmd.OutOrStdout(), "progress", res)
			return nil
		},
	}
}

func newAnswerCmd(opts *options, env envFunc) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "answer <question-id> <value>",
		Short: "Record an answer; value is JSON, bare words are stored as strings",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			answer := onboarding.Answer{QuestionID: args[0], Value: parseValue(args[1])}
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
				answer.AnsweredAt = t
			}

			st, res, err := env().coord.AnswerQuestion(cmd.Context(), opts.userID, answer)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"answers": st, "sync": res})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d answers, phase %s\n", st.Answers.Len(), st.Phase)
			printSync(cmd.OutOrStdout(), "answers", res)
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "answered_at in RFC3339, defaults to now")
	return cmd
}

// parseValue 合法 JSON 原样保留，否则按字符串编码
func parseValue(s string) json.RawMessage {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	raw, _ := json.Marshal(s)
	return raw
}

func newAnswersCmd(opts *options, env envFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "answers",
		Short: "List local answers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := env().coord.LoadAnswers(cmd.Context(), opts.userID)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return writeJSON(cmd.OutOrStdout(), st)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "QUESTION\tPHASE\tVALUE\tANSWERED AT")
			for _, a := range st.Answers.List() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.QuestionID, a.Phase, a.Value, a.AnsweredAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func newNextCmd(opts *options, env envFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Show the next step and the recommended next question",
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := env().coord.Snapshot(cmd.Context(), opts.userID)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
					"next_step":     snap.NextStep,
					"next_question": snap.NextQuestion,
				})
			}

			out := cmd.OutOrStdout()
			if snap.NextStep != nil {
				fmt.Fprintf(out, "next step:     %s (%s)\n", snap.NextStep.ID, snap.NextStep.Title)
			} else {
				fmt.Fprintln(out, "next step:     none, all required steps done")
			}
			if snap.NextQuestion != nil {
				fmt.Fprintf(out, "next question: %s [%s, %s]\n", snap.NextQuestion.ID, snap.NextQuestion.Phase, snap.NextQuestion.MatchingValue)
			} else {
				fmt.Fprintln(out, "next question: none, every question answered")
			}
			return nil
		},
	}
}

func newSyncCmd(opts *options, env envFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Merge local state with the API and push what the API is missing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			p, progressRes, err := env().coord.Refresh(ctx, opts.userID)
			if err != nil {
				return err
			}
			st, answersRes, err := env().coord.RefreshAnswers(ctx, opts.userID)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
					"progress":      p,
					"progress_sync": progressRes,
					"answers":       st,
					"answers_sync":  answersRes,
				})
			}
			printSync(cmd.OutOrStdout(), "progress", progressRes)
			printSync(cmd.OutOrStdout(), "answers", answersRes)
			return nil
		},
	}
}

func newFinishCmd(opts *options, env envFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "finish",
		Short: "Complete onboarding once the answer summary reaches the threshold",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, res, err := env().coord.CompleteOnboarding(ctx, opts.userID)
			if errors.Is(err, onboarding.ErrNotReady) {
				snap, snapErr := env().coord.Snapshot(ctx, opts.userID)
				if snapErr != nil {
					return err
				}
				return fmt.Errorf("onboarding not ready: total %d%%, need %d%%",
					snap.Summary.TotalPercent, config.Cfg.OnboardingCompleteThreshold)
			}
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"answers": st, "sync": res})
			}
			fmt.Fprintln(cmd.OutOrStdout(), "onboarding completed")
			printSync(cmd.OutOrStdout(), "completion", res)
			return nil
		},
	}
}

func newResetCmd(opts *options, env envFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Discard this device's progress and answers (the API is untouched)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := env().coord.ResetProgress(cmd.Context(), opts.userID)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return writeJSON(cmd.OutOrStdout(), p)
			}
			printProgress(cmd.OutOrStdout(), p)
			return nil
		},
	}
}

func newProfileCmd(opts *options, env envFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "profile",
		Short: "Fetch the signed-in user's profile from the API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if env().client == nil {
				return errors.New("profile needs --api")
			}
			p, err := env().client.FetchProfile(cmd.Context())
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return writeJSON(cmd.OutOrStdout(), p)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s), %s, %s\n", p.PreferredName, p.ID, p.FamilyRole, p.Status)
			return nil
		},
	}
}

// newTokenCmd 用 JWT_SECRET 签发访问令牌，便于本地联调
func newTokenCmd() *cobra.Command {
	var (
		userID string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:         "token",
		Short:       "Sign an access token with JWT_SECRET for local testing",
		Annotations: map[string]string{"standalone": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID == "" {
				return errors.New("--for is required")
			}
			if err := token.Init(); err != nil {
				return err
			}
			tok, expiresIn, err := token.GenerateAccessToken(userID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires in %ds\n", expiresIn)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "for", "", "user public id to put in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

// ========== 输出 ==========

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printProgress(w io.Writer, p *onboarding.OnboardingProgress) {
	done := make([]string, 0, len(p.Steps))
	for _, s := range p.Steps {
		mark := " "
		if s.IsCompleted {
			mark = "x"
		}
		done = append(done, fmt.Sprintf("[%s] %d %s", mark, s.Order, s.ID))
	}
	fmt.Fprintf(w, "steps %d%%, current %d/%d, completed=%t, %s\n",
		onboarding.Percentage(p), p.CurrentStepOrder, p.TotalSteps, p.IsCompleted, p.SyncState)
	fmt.Fprintln(w, "  "+strings.Join(done, "\n  "))
}

func printSnapshot(w io.Writer, snap *onboarding.Snapshot) {
	printProgress(w, snap.Progress)
	s := snap.Summary
	fmt.Fprintf(w, "answers %d, essential %d%% core %d%% rich %d%% total %d%%, phase %s, %s\n",
		snap.Answers.Answers.Len(), s.EssentialPercent, s.CorePercent, s.RichPercent, s.TotalPercent,
		snap.Answers.Phase, snap.Answers.SyncState)
	if snap.NextStep != nil {
		fmt.Fprintf(w, "next step: %s\n", snap.NextStep.ID)
	}
	if snap.NextQuestion != nil {
		fmt.Fprintf(w, "next question: %s\n", snap.NextQuestion.ID)
	}
}

func printSync(w io.Writer, what string, res onboarding.SyncResult) {
	if res.OK() {
		fmt.Fprintf(w, "%s sync: ok\n", what)
		return
	}
	fmt.Fprintf(w, "%s sync: deferred (%s)\n", what, res.Reason)
}
