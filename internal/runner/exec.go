// Package runner launches models as child processes of the model CLI.
package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rescale/modelbench/internal/constants"
	"github.com/rescale/modelbench/internal/datastack"
	"github.com/rescale/modelbench/internal/diskspace"
	"github.com/rescale/modelbench/internal/job"
	"github.com/rescale/modelbench/internal/logging"
	"github.com/rescale/modelbench/internal/models"
)

// logfileLine matches the line a model prints when it opens its logfile.
var logfileLine = regexp.MustCompile(`(?i)(?:writing log messages|logging will be saved|log file) (?:to|at):?\s+\[?([^\]]+?)\]?\s*$`)

// ExecRunner runs "<Executable> --language <lang> run <module> -d <params> -w <workspace>"
// and streams its output.
type ExecRunner struct {
	Executable string
	Language   string
	// ShutdownGrace is how long a canceled model gets between the interrupt
	// and the kill.
	ShutdownGrace time.Duration
	// MinFreeBytes is the free space the workspace filesystem must have for
	// a launch. Zero disables the check.
	MinFreeBytes int64

	logger *logging.Logger
}

var _ job.Runner = (*ExecRunner)(nil)

// NewExecRunner creates a runner for the model CLI at executable.
func NewExecRunner(executable, language string, logger *logging.Logger) *ExecRunner {
	return &ExecRunner{
		Executable:    executable,
		Language:      language,
		ShutdownGrace: constants.RunnerShutdownGrace,
		MinFreeBytes:  constants.MinWorkspaceFreeBytes,
		logger:        logger.Named("runner"),
	}
}

// Args returns the command line for req with the parameter set at paramsPath.
func (r *ExecRunner) Args(req job.Request, paramsPath string) []string {
	args := []string{}
	if r.Language != "" {
		args = append(args, "--language", r.Language)
	}
	args = append(args, "run", req.ModuleName, "--datastack", paramsPath)
	if req.WorkspaceDir != "" {
		args = append(args, "--workspace", req.WorkspaceDir)
	}
	return args
}

// Launch writes the run's parameter set to a temporary file and starts the
// model CLI on it. Canceling ctx interrupts the process and kills it after
// ShutdownGrace.
func (r *ExecRunner) Launch(ctx context.Context, req job.Request) (<-chan job.Update, error) {
	if err := diskspace.CheckWorkspace(req.WorkspaceDir, r.MinFreeBytes); err != nil {
		return nil, err
	}

	paramsPath, err := writeParams(req)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, r.Executable, r.Args(req, paramsPath)...)
	cmd.Cancel = func() error { return interrupt(cmd.Process) }
	cmd.WaitDelay = r.ShutdownGrace

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		os.Remove(paramsPath)
		return nil, fmt.Errorf("setup stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		os.Remove(paramsPath)
		return nil, fmt.Errorf("setup stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		os.Remove(paramsPath)
		return nil, fmt.Errorf("start %s: %w", r.Executable, err)
	}
	r.logger.Info().Str("job_id", req.JobID).Int("pid", cmd.Process.Pid).Msg("model process started")

	updates := make(chan job.Update, 64)
	go func() {
		defer close(updates)
		defer os.Remove(paramsPath)

		var (
			mu      sync.Mutex
			errTail tail
			wg      sync.WaitGroup
		)
		read := func(rd io.Reader, stderr bool) {
			defer wg.Done()
			scanner := bufio.NewScanner(rd)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for scanner.Scan() {
				line := scanner.Text()
				u := job.Update{LogLine: line}
				if m := logfileLine.FindStringSubmatch(line); m != nil {
					u.LogFile = m[1]
				}
				if stderr {
					mu.Lock()
					errTail.add(line)
					mu.Unlock()
				}
				updates <- u
			}
		}
		wg.Add(2)
		go read(stdoutPipe, false)
		go read(stderrPipe, true)
		wg.Wait()

		waitErr := cmd.Wait()
		switch {
		case ctx.Err() != nil:
			updates <- job.Update{Status: models.StatusError, Traceback: constants.CanceledTraceback}
		case waitErr != nil:
			tb := strings.TrimSpace(errTail.String())
			if tb != "" {
				tb += "\n"
			}
			updates <- job.Update{Status: models.StatusError, Traceback: tb + waitErr.Error()}
		default:
			updates <- job.Update{Status: models.StatusSuccess}
		}
		r.logger.Debug().Str("job_id", req.JobID).Err(waitErr).Msg("model process exited")
	}()
	return updates, nil
}

func writeParams(req job.Request) (string, error) {
	args, err := datastack.EncodeArgs(req.Args, req.Workers)
	if err != nil {
		return "", err
	}
	data, err := datastack.MarshalParameterSet(models.ParameterSet{
		ModuleName: req.ModuleName,
		ModelName:  req.ModelName,
		Args:       args,
	})
	if err != nil {
		return "", err
	}

	f, err := os.CreateTemp("", "modelbench-params-*.json")
	if err != nil {
		return "", fmt.Errorf("create parameter file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write parameter file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close parameter file: %w", err)
	}
	return f.Name(), nil
}

func interrupt(p *os.Process) error {
	if runtime.GOOS == "windows" {
		return p.Kill()
	}
	return p.Signal(os.Interrupt)
}

// tail keeps the last few kilobytes of stderr for the traceback.
type tail struct {
	lines []string
	size  int
}

const maxTailBytes = 8192

func (t *tail) add(line string) {
	t.lines = append(t.lines, line)
	t.size += len(line) + 1
	for t.size > maxTailBytes && len(t.lines) > 1 {
		t.size -= len(t.lines[0]) + 1
		t.lines = t.lines[1:]
	}
}

func (t *tail) String() string {
	return strings.Join(t.lines, "\n")
}
