// Command simulate plays scripted candidate sessions against a proctor
// server and checks the risk it reports.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/proctor/internal/simulate"
	"github.com/okian/proctor/pkg/logger"
)

const defaultRunTimeout = 10 * time.Minute

type runFlags struct {
	url         string
	settle      time.Duration
	concurrency int
	timeout     time.Duration
	asJSON      bool
	verbose     bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "simulate",
		Short:         "Drive synthetic interview sessions against a proctor server",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.AddCommand(newRunCmd(), newValidateCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Play a scenario and verify the reported risk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(cmd, args[0], &f)
		},
	}
	cmd.Flags().StringVar(&f.url, "url", "", "server base URL, overrides the scenario")
	cmd.Flags().DurationVar(&f.settle, "settle", 0, "wait after the last step before reading risk, overrides the scenario")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 4, "sessions played at once")
	cmd.Flags().DurationVar(&f.timeout, "timeout", defaultRunTimeout, "overall run deadline")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "print the report as JSON")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "log each session")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <scenario.yaml>",
		Short: "Check a scenario file without contacting the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := simulate.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d sessions against %s\n", args[0], len(sc.Sessions), sc.BaseURL)
			return nil
		},
	}
}

func runScenario(cmd *cobra.Command, path string, f *runFlags) error {
	sc, err := simulate.Load(path)
	if err != nil {
		return err
	}
	if f.url != "" {
		sc.BaseURL = f.url
	}
	if f.settle > 0 {
		sc.Settle = f.settle
	}
	if err := sc.Validate(); err != nil {
		return err
	}

	if err := logger.Init(logger.WithOutput(cmd.ErrOrStderr())); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	level := "warn"
	if f.verbose {
		level = "debug"
	}
	if err := logger.SetLevelString(level); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), f.timeout)
	defer cancel()

	runner := simulate.NewRunner(sc,
		simulate.WithLogger(logger.Named("simulate")),
		simulate.WithConcurrency(f.concurrency))
	report, runErr := runner.Run(ctx)
	if report == nil {
		return runErr
	}

	out := cmd.OutOrStdout()
	if f.asJSON {
		err = report.WriteJSON(out)
	} else {
		err = report.WriteText(out)
	}
	return errors.Join(runErr, err)
}
