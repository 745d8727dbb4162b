package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pmboard/internal/model"
)

var (
	// ErrTimeout means the data source did not finish within the configured timeout and was killed.
	ErrTimeout = errors.New("fetcher: data source timed out")
	// ErrMalformedOutput means the data source exited cleanly but stdout was not the expected JSON.
	ErrMalformedOutput = errors.New("fetcher: malformed data source output")
)

// ProcessError reports a data source that could not start or exited non-zero.
type ProcessError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if e.ExitCode < 0 {
		return fmt.Sprintf("fetcher: run data source: %v", e.Err)
	}
	if stderr == "" {
		return fmt.Sprintf("fetcher: data source exited with status %d", e.ExitCode)
	}
	return fmt.Sprintf("fetcher: data source exited with status %d: %s", e.ExitCode, stderr)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// EventFetcher retrieves the current list of market events for a query.
type EventFetcher interface {
	Fetch(ctx context.Context, query model.Query) ([]model.EventRecord, error)
}
