package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ent0n29/voicecart/internal/app"
	"github.com/ent0n29/voicecart/internal/speech"
	"github.com/ent0n29/voicecart/internal/voice"
)

func newSimulateCmd(v *viper.Viper) *cobra.Command {
	var userID string
	var texts []string

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run typed commands through an in-process conversation",
		Long: "simulate builds the full service in-process with a mock speech session and feeds it " +
			"one command per --text flag, or one per stdin line when no --text is given.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lines := texts
			if len(lines) == 0 {
				var err error
				if lines, err = readLines(cmd.InOrStdin()); err != nil {
					return err
				}
			}
			return runSimulate(cmd, v, userID, lines)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "simulator", "User ID whose profile the session uses")
	cmd.Flags().StringArrayVar(&texts, "text", nil, "Command to run (repeatable)")
	return cmd
}

func runSimulate(cmd *cobra.Command, v *viper.Viper, userID string, lines []string) error {
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	// Answers arrive back to back; nothing is played aloud.
	cfg.CheckoutGracePeriod = -1
	logger := app.NewLogger(cfg, io.Discard)

	ctx := cmd.Context()
	built, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = built.Cleanup() }()

	s := built.Sessions.Create(userID, cfg.SpeechLanguage, "mock")
	conv, err := built.Orchestrator.Open(ctx, s)
	if err != nil {
		return err
	}
	mock, _ := conv.Speech().(*speech.Mock)

	out := cmd.OutOrStdout()
	spoken := 0
	for _, line := range lines {
		res := conv.HandleText(ctx, line)
		fmt.Fprintf(out, "> %s\n", line)
		fmt.Fprintf(out, "  %s\n", describeTurn(res))
		if mock != nil {
			utterances := mock.Utterances()
			for _, u := range utterances[spoken:] {
				fmt.Fprintf(out, "  says: %s\n", u)
			}
			spoken = len(utterances)
		}
	}

	snap := conv.Checkout()
	fmt.Fprintf(out, "checkout: step=%s active=%t\n", snap.Step, snap.Active)
	for _, e := range conv.Actions() {
		status := "ok"
		if !e.Success {
			status = "failed"
		}
		fmt.Fprintf(out, "  %s [%s] %s\n", e.Timestamp.Format(time.TimeOnly), status, e.Description)
	}
	return nil
}

func describeTurn(res voice.TurnResult) string {
	switch res.Mode {
	case voice.TurnSuppressed:
		return "suppressed: " + res.Reason
	case voice.TurnCheckout:
		return fmt.Sprintf("checkout step=%s reason=%s accepted=%t finalized=%t", res.Step, res.Reason, res.Accepted, res.Finalized)
	default:
		handledBy := res.HandledBy
		if handledBy == "" {
			handledBy = "-"
		}
		return fmt.Sprintf("command label=%s source=%s handled=%t by=%s", res.Label, res.Source, res.Handled, handledBy)
	}
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}
