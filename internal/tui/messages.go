package tui

import (
	"time"

	"pmboard/internal/model"
)

type snapshotMsg struct {
	snap *model.Snapshot
}

type fetchErrMsg struct {
	err error
}

type tickMsg time.Time
