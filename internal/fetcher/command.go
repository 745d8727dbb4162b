package fetcher

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"pmboard/internal/model"
)

const defaultBinary = "polymarket"

// CommandOptions parameterise the subprocess fetcher.
type CommandOptions struct {
	BinaryPath string
	Timeout    time.Duration
	// WaitDelay bounds how long output pipes may stay open after the process is killed.
	WaitDelay time.Duration
}

// Command fetches events by running the polymarket CLI.
type Command struct {
	opts   CommandOptions
	logger zerolog.Logger
}

// NewCommand constructs a subprocess fetcher.
func NewCommand(opts CommandOptions, logger zerolog.Logger) *Command {
	if opts.BinaryPath == "" {
		opts.BinaryPath = defaultBinary
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.WaitDelay <= 0 {
		opts.WaitDelay = time.Second
	}
	return &Command{opts: opts, logger: logger.With().Str("component", "command_fetcher").Logger()}
}

// Args derives the CLI arguments for a query.
func Args(query model.Query) []string {
	return []string{
		"-o", "json",
		"events", "list",
		"--active", strconv.FormatBool(query.ActiveOnly),
		"--limit", strconv.Itoa(query.Limit),
	}
}

// Fetch runs the data source and parses its stdout. It blocks until the process exits or the timeout elapses.
func (c *Command) Fetch(ctx context.Context, query model.Query) ([]model.EventRecord, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	args := Args(query)
	cmd := exec.CommandContext(ctx, c.opts.BinaryPath, args...)
	cmd.WaitDelay = c.opts.WaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	c.logger.Debug().Str("binary", c.opts.BinaryPath).Strs("args", args).Msg("running data source")

	runErr := cmd.Run()
	elapsed := time.Since(start)

	if err := runFailure(runErr, ctx.Err(), stderr.String()); err != nil {
		if errors.Is(err, ErrTimeout) {
			c.logger.Warn().Dur("elapsed", elapsed).Dur("timeout", c.opts.Timeout).Msg("data source timed out")
		}
		return nil, err
	}

	events, err := ParseEvents(stdout.Bytes())
	if err != nil {
		return nil, err
	}

	c.logger.Debug().Int("events", len(events)).Dur("elapsed", elapsed).Msg("data source returned")
	return events, nil
}

// runFailure maps the outcome of a finished run to the error callers see.
// A process that exited cleanly is a success even if the deadline passed meanwhile.
func runFailure(runErr, ctxErr error, stderr string) error {
	if runErr == nil {
		return nil
	}
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return ErrTimeout
	}
	if ctxErr != nil {
		return ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return &ProcessError{ExitCode: exitErr.ExitCode(), Stderr: stderr, Err: runErr}
	}
	return &ProcessError{ExitCode: -1, Stderr: stderr, Err: runErr}
}

var _ EventFetcher = (*Command)(nil)
