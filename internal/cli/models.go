package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rescale/modelbench/internal/config"
	"github.com/rescale/modelbench/internal/core"
	"github.com/rescale/modelbench/internal/datastack"
	"github.com/rescale/modelbench/internal/events"
	"github.com/rescale/modelbench/internal/logging"
	"github.com/rescale/modelbench/internal/models"
	"github.com/rescale/modelbench/internal/pathutil"
	"github.com/rescale/modelbench/internal/progress"
	"github.com/rescale/modelbench/internal/state"
)

// ErrInvalidArguments is returned by commands that refuse to continue with
// arguments the validator rejected.
var ErrInvalidArguments = errors.New("arguments are not valid")

// sessionFlags are shared by every command that edits arguments.
type sessionFlags struct {
	sets      []string
	datastack string
	logfile   string
	workers   int
}

func (f *sessionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&f.sets, "set", nil, "Set an argument value (key=value, repeatable)")
	cmd.Flags().StringVar(&f.datastack, "datastack", "", "Load arguments from a parameter set (local, s3:// or az://)")
	cmd.Flags().StringVar(&f.logfile, "logfile", "", "Load arguments from a model run logfile")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "Override n_workers for this invocation")
}

// parseAssignment splits a key=value flag. The value may contain '='.
func parseAssignment(s string) (key, value string, err error) {
	key, value, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", "", fmt.Errorf("invalid --set %q: expected key=value", s)
	}
	return key, value, nil
}

// prepare opens a session, applies the flags and waits for validation of
// the final values.
func (f *sessionFlags) prepare(ctx context.Context, cmd *cobra.Command, a *app, module string) (*core.Session, error) {
	var (
		s   *core.Session
		err error
	)
	if f.datastack, err = pathutil.Expand(f.datastack); err != nil {
		return nil, err
	}
	if f.logfile, err = pathutil.Expand(f.logfile); err != nil {
		return nil, err
	}
	if module == "" && f.datastack == "" && f.logfile != "" {
		s, err = loadInto(ctx, a, f.logfile, true)
		if err != nil {
			return nil, err
		}
	} else {
		s, err = a.open(ctx, module, f.datastack)
		if err != nil {
			return nil, err
		}
		if f.logfile != "" {
			res, _, err := s.LoadLogfile(ctx, f.logfile)
			if err != nil {
				return nil, err
			}
			warnDropped(res)
		}
	}

	for _, assignment := range f.sets {
		key, value, err := parseAssignment(assignment)
		if err != nil {
			return nil, err
		}
		if _, err := s.SetValue(key, value); err != nil {
			return nil, err
		}
	}

	if cmd.Flags().Changed("workers") {
		if err := s.SetWorkers(f.workers); err != nil {
			return nil, err
		}
	}

	s.Revalidate()
	if err := s.WaitValidation(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func moduleArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

// printOutcome writes the validation result of s and reports whether the
// arguments are valid.
func printOutcome(w io.Writer, s *core.Session) bool {
	if err := s.ValidationErr(); err != nil {
		fmt.Fprintln(w, core.UserMessage(err))
		return false
	}
	outcome := s.Outcome()
	if len(outcome) == 0 && s.OverallValid() {
		fmt.Fprintf(w, "✓ %s arguments are valid\n", s.Spec().ModelName)
		return true
	}
	fmt.Fprintf(w, "✗ %s arguments are not valid:\n", s.Spec().ModelName)
	for _, e := range outcome {
		fmt.Fprintf(w, "  %s: %s\n", strings.Join(e.AffectedKeys, ", "), e.Message)
	}
	return false
}

func printValues(w io.Writer, s *core.Session) {
	values := s.Snapshot().Values()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tVALUE")
	for _, k := range keys {
		fmt.Fprintf(tw, "%s\t%s\n", k, values[k])
	}
	fmt.Fprintf(tw, "%s\t%d\n", "n_workers", s.Workers())
	tw.Flush()
}

func newSpecCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spec",
		Short: "List models and show their argument specs",
	}
	cmd.AddCommand(newSpecListCmd())
	cmd.AddCommand(newSpecShowCmd())
	return cmd
}

func newSpecListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the available models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			source, _, err := newModelSource(settings)
			if err != nil {
				return err
			}
			metas, err := source.List(GetContext())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "MODULE\tNAME")
			for _, m := range metas {
				fmt.Fprintf(tw, "%s\t%s\n", m.ModuleName, m.ModelName)
			}
			return tw.Flush()
		},
	}
}

func newSpecShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <module>",
		Short: "Show the arguments of a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			source, _, err := newModelSource(settings)
			if err != nil {
				return err
			}
			spec, err := source.GetSpec(GetContext(), args[0])
			if err != nil {
				return err
			}
			return printSpec(cmd.OutOrStdout(), spec)
		},
	}
}

func printSpec(w io.Writer, spec models.ModelSpec) error {
	fmt.Fprintf(w, "%s (%s)\n\n", spec.ModelName, spec.ModuleName)

	keys := make([]string, 0, len(spec.Args))
	for k := range spec.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tTYPE\tREQUIRED\tNAME")
	for _, k := range keys {
		arg := spec.Args[k]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", k, arg.Type, requiredLabel(arg.Required), arg.DisplayName)
	}
	return tw.Flush()
}

func requiredLabel(r models.RequiredRule) string {
	switch {
	case r.Always:
		return "yes"
	case r.When != "":
		return "if " + r.When
	default:
		return "no"
	}
}

func newValidateCmd() *cobra.Command {
	var flags sessionFlags
	cmd := &cobra.Command{
		Use:   "validate [module]",
		Short: "Validate a set of model arguments",
		Long: `Validate model arguments given with --set, read from a parameter set
(--datastack) or recovered from a run logfile (--logfile).

Exits with an error when any argument is invalid.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.engine.Close()

			s, err := flags.prepare(ctx, cmd, a, moduleArg(args))
			if err != nil {
				return err
			}
			if !printOutcome(cmd.OutOrStdout(), s) {
				return ErrInvalidArguments
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newSaveCmd() *cobra.Command {
	var (
		flags  sessionFlags
		out    string
		script bool
	)
	cmd := &cobra.Command{
		Use:   "save [module]",
		Short: "Save model arguments as a parameter set or script",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.engine.Close()

			s, err := flags.prepare(ctx, cmd, a, moduleArg(args))
			if err != nil {
				return err
			}
			if out, err = pathutil.Expand(out); err != nil {
				return err
			}

			if script {
				_, err = s.SaveScript(ctx, out)
			} else {
				_, err = s.Save(ctx, out)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Saved %s\n", out)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output path (local, s3:// or az://)")
	cmd.Flags().BoolVar(&script, "script", false, "Write a runnable script instead of a parameter set")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func newLoadCmd() *cobra.Command {
	var logfile bool
	cmd := &cobra.Command{
		Use:   "load <file>",
		Short: "Show the arguments stored in a parameter set or logfile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.engine.Close()

			path, err := pathutil.Expand(args[0])
			if err != nil {
				return err
			}
			s, err := loadInto(ctx, a, path, logfile)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s (%s)\n\n", s.Spec().ModelName, s.Spec().ModuleName)
			printValues(w, s)
			fmt.Fprintln(w)
			printOutcome(w, s)
			return nil
		},
	}
	cmd.Flags().BoolVar(&logfile, "logfile", false, "Treat the file as a model run logfile")
	return cmd
}

// loadInto opens the model named by the parameter set or logfile at path
// and applies its arguments.
func loadInto(ctx context.Context, a *app, path string, logfile bool) (*core.Session, error) {
	if !logfile {
		s, err := a.open(ctx, "", path)
		if err != nil {
			return nil, err
		}
		return s, s.WaitValidation(ctx)
	}

	ds, _, err := datastack.LoadFromLogfile(ctx, a.store, path)
	if err != nil {
		return nil, err
	}
	s, err := a.engine.Open(ctx, ds.ModuleName)
	if err != nil {
		return nil, err
	}
	res, err := s.Apply(ds, path)
	if err != nil {
		return nil, err
	}
	warnDropped(res)
	return s, s.WaitValidation(ctx)
}

func newRunCmd() *cobra.Command {
	var flags sessionFlags
	cmd := &cobra.Command{
		Use:   "run [module]",
		Short: "Validate the arguments and run the model",
		Long: `Validate the arguments and launch the model executable (runner.executable).
Model output is shown as a spinner on a terminal and kept in the log file.
Press Ctrl+C to cancel the run.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()

			if path, err := logging.EnableFileLogging(config.LogDirectory()); err != nil {
				GetLogger().Warn().Err(err).Msg("file logging disabled")
			} else {
				defer logging.CloseFileLogging()
				GetLogger().SetOutput(GetLogger().Output())
				GetLogger().Debug().Str("path", path).Msg("logging to file")
			}

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.engine.Close()

			s, err := flags.prepare(ctx, cmd, a, moduleArg(args))
			if err != nil {
				return err
			}
			if !s.CanRun() {
				printOutcome(cmd.OutOrStdout(), s)
				return ErrInvalidArguments
			}

			bus := a.engine.Events()
			lines := bus.Subscribe(events.EventJobLog)
			defer bus.Unsubscribe(events.EventJobLog, lines)

			reporter := progress.New(os.Stderr)
			reporter.Start("Running " + s.Spec().ModelName)

			// The run outlives ctx so that Ctrl+C is turned into a cancel
			// and the final status is still recorded.
			if _, err := s.Run(context.WithoutCancel(ctx)); err != nil {
				reporter.Finish("not started")
				return err
			}

			status := waitForRun(ctx, s, lines, reporter)
			reporter.Finish(string(status))

			j := s.Job()
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Run %s: %s\n", j.ID, j.Status)
			if j.LogFile != "" {
				fmt.Fprintf(w, "Log file: %s\n", j.LogFile)
			}
			if j.WorkspaceDir != "" {
				fmt.Fprintf(w, "Workspace: %s\n", j.WorkspaceDir)
			}
			return s.RunErr()
		},
	}
	flags.register(cmd)
	return cmd
}

// waitForRun feeds model output to reporter until the run is terminal and
// cancels the run when ctx is done.
func waitForRun(ctx context.Context, s *core.Session, lines <-chan events.Event, reporter progress.Reporter) models.JobStatus {
	cancelRequested := false
	for {
		select {
		case ev, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if logEv, ok := ev.(*events.JobLogEvent); ok {
				reporter.Line(logEv.Line)
			}
		case <-ctx.Done():
			if !cancelRequested {
				cancelRequested = true
				if err := s.Cancel(); err != nil {
					GetLogger().Debug().Err(err).Msg("cancel ignored")
				}
			}
		case <-s.Done():
			return s.Status()
		}
	}
}

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent model runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hm, err := state.NewHistoryManager(config.HistoryPath())
			if err != nil {
				return err
			}
			records, err := hm.Recent(limit)
			if err != nil {
				return err
			}
			return printHistory(cmd.OutOrStdout(), records)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	return cmd
}

func printHistory(w io.Writer, records []models.JobRecord) error {
	if len(records) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMODEL\tSTATUS\tFINISHED\tWORKSPACE")
	for _, r := range records {
		finished := ""
		if !r.FinishedAt.IsZero() {
			finished = r.FinishedAt.Local().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.ModelName, r.Status, finished, r.WorkspaceDir)
	}
	return tw.Flush()
}
