package fetcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pmboard/internal/model"
)

var testQuery = model.Query{ActiveOnly: true, Limit: 100, Sort: model.SortVolume}

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

// writeScript installs a fake data source binary and returns its path.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "polymarket")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestArgs(t *testing.T) {
	got := strings.Join(Args(model.Query{ActiveOnly: false, Limit: 250}), " ")
	want := "-o json events list --active false --limit 250"
	if got != want {
		t.Fatalf("Args = %q, want %q", got, want)
	}
}

func TestCommandFetchSuccess(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")
	bin := writeScript(t, `echo "$@" > `+argsFile+`
cat <<'JSON'
[{"id": "1", "title": "Fed decision", "volume": 10, "markets": [{"groupItemTitle": "Cut", "outcomePrices": "[\"0.7\",\"0.3\"]"}]}]
JSON`)

	c := NewCommand(CommandOptions{BinaryPath: bin, Timeout: 5 * time.Second}, noopLogger())
	events, err := c.Fetch(context.Background(), testQuery)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(events) != 1 || events[0].Title != "Fed decision" {
		t.Fatalf("unexpected events: %+v", events)
	}

	recorded, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	if strings.TrimSpace(string(recorded)) != "-o json events list --active true --limit 100" {
		t.Fatalf("data source invoked with %q", recorded)
	}
}

func TestCommandFetchProcessFailed(t *testing.T) {
	bin := writeScript(t, `echo "upstream returned 502" >&2
exit 3`)

	c := NewCommand(CommandOptions{BinaryPath: bin, Timeout: 5 * time.Second}, noopLogger())
	_, err := c.Fetch(context.Background(), testQuery)

	var procErr *ProcessError
	if !errors.As(err, &procErr) {
		t.Fatalf("expected ProcessError, got %v", err)
	}
	if procErr.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", procErr.ExitCode)
	}
	if !strings.Contains(procErr.Stderr, "upstream returned 502") {
		t.Fatalf("stderr not captured: %q", procErr.Stderr)
	}
}

func TestCommandFetchMissingBinary(t *testing.T) {
	c := NewCommand(CommandOptions{BinaryPath: filepath.Join(t.TempDir(), "missing"), Timeout: time.Second}, noopLogger())
	_, err := c.Fetch(context.Background(), testQuery)

	var procErr *ProcessError
	if !errors.As(err, &procErr) {
		t.Fatalf("expected ProcessError, got %v", err)
	}
	if procErr.ExitCode != -1 {
		t.Fatalf("exit code = %d, want -1", procErr.ExitCode)
	}
}

func TestCommandFetchMalformed(t *testing.T) {
	bin := writeScript(t, `echo "not json at all"`)

	c := NewCommand(CommandOptions{BinaryPath: bin, Timeout: 5 * time.Second}, noopLogger())
	if _, err := c.Fetch(context.Background(), testQuery); !errors.Is(err, ErrMalformedOutput) {
		t.Fatalf("expected ErrMalformedOutput, got %v", err)
	}
}

func TestCommandFetchTimeout(t *testing.T) {
	bin := writeScript(t, `exec sleep 5`)

	c := NewCommand(CommandOptions{BinaryPath: bin, Timeout: 100 * time.Millisecond}, noopLogger())
	start := time.Now()
	_, err := c.Fetch(context.Background(), testQuery)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("timeout not enforced, took %s", elapsed)
	}
}

func TestCommandFetchRejectsInvalidQuery(t *testing.T) {
	c := NewCommand(CommandOptions{BinaryPath: "unused"}, noopLogger())
	if _, err := c.Fetch(context.Background(), model.Query{}); err == nil {
		t.Fatal("zero limit should be rejected before running the process")
	}
}

func TestRunFailureCleanExitBeatsDeadline(t *testing.T) {
	if err := runFailure(nil, context.DeadlineExceeded, ""); err != nil {
		t.Fatalf("clean exit at the deadline reported %v", err)
	}
	if err := runFailure(nil, context.Canceled, ""); err != nil {
		t.Fatalf("clean exit after cancellation reported %v", err)
	}

	killed := errors.New("signal: killed")
	if err := runFailure(killed, context.DeadlineExceeded, ""); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if err := runFailure(killed, context.Canceled, ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	var procErr *ProcessError
	if err := runFailure(killed, nil, "boom"); !errors.As(err, &procErr) || procErr.ExitCode != -1 || procErr.Stderr != "boom" {
		t.Fatalf("expected ProcessError, got %v", err)
	}
}

func TestCommandFetchSucceedsNearTimeout(t *testing.T) {
	bin := writeScript(t, `sleep 0.2
echo '[{"id": "1", "title": "Late but valid", "volume": 1}]'`)

	c := NewCommand(CommandOptions{BinaryPath: bin, Timeout: 2 * time.Second}, noopLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	events, err := c.Fetch(ctx, testQuery)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(events) != 1 || events[0].Title != "Late but valid" {
		t.Fatalf("unexpected events: %+v", events)
	}
}
