package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pmboard/internal/board"
	"pmboard/internal/model"
)

// Source supplies snapshots. The coordinator satisfies it.
type Source interface {
	Snapshot(ctx context.Context) (*model.Snapshot, error)
}

// Options configure the live board.
type Options struct {
	View     board.View
	Interval time.Duration
}

// Board is the bubbletea model behind the watch command.
type Board struct {
	ctx    context.Context
	source Source
	opts   Options
	now    func() time.Time

	rows      []board.DisplayRow
	fetchedAt time.Time
	loading   bool
	err       error

	width  int
	height int
}

// New builds a Board that pulls from source every opts.Interval.
func New(ctx context.Context, source Source, opts Options) *Board {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	return &Board{
		ctx:     ctx,
		source:  source,
		opts:    opts,
		now:     time.Now,
		loading: true,
	}
}

func (b *Board) Init() tea.Cmd {
	return tea.Batch(b.fetchCmd(), b.tickCmd())
}

func (b *Board) fetchCmd() tea.Cmd {
	ctx := b.ctx
	source := b.source
	return func() tea.Msg {
		snap, err := source.Snapshot(ctx)
		if err != nil {
			return fetchErrMsg{err: err}
		}
		return snapshotMsg{snap: snap}
	}
}

func (b *Board) tickCmd() tea.Cmd {
	return tea.Tick(b.opts.Interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (b *Board) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		b.width = msg.Width
		b.height = msg.Height
		return b, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return b, tea.Quit
		case "r":
			if b.loading {
				return b, nil
			}
			b.loading = true
			return b, b.fetchCmd()
		}
		return b, nil

	case tickMsg:
		if b.loading {
			return b, b.tickCmd()
		}
		b.loading = true
		return b, tea.Batch(b.fetchCmd(), b.tickCmd())

	case snapshotMsg:
		b.loading = false
		b.err = nil
		b.fetchedAt = msg.snap.FetchedAt
		b.rows = board.Build(msg.snap, b.opts.View)
		return b, nil

	case fetchErrMsg:
		b.loading = false
		b.err = msg.err
		return b, nil
	}

	return b, nil
}

func (b *Board) View() string {
	width := b.width
	if width <= 0 {
		width = 100
	}

	title := headerStyle.Render(fmt.Sprintf("pmboard · top %d by volume", len(b.rows)))
	updated := "loading..."
	if !b.fetchedAt.IsZero() {
		updated = fmt.Sprintf("updated %s (%s ago)", b.fetchedAt.Local().Format("15:04:05"),
			b.now().Sub(b.fetchedAt).Truncate(time.Second))
	}
	gap := max(0, width-lipgloss.Width(title)-lipgloss.Width(updated)-1)
	header := title + strings.Repeat(" ", gap) + headerTimeStyle.Render(updated)

	var body strings.Builder
	for _, row := range b.rows {
		body.WriteString(renderRow(row, width))
		body.WriteByte('\n')
	}
	if len(b.rows) == 0 && !b.loading && b.err == nil {
		body.WriteString(flatStyle.Render(" no events match this view\n"))
	}

	status := renderStatusBar(b.opts.View, b.loading, width)
	if b.err != nil {
		status = errorStyle.Render(" " + errorText(b.err))
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, "", body.String(), status)
}

func errorText(err error) string {
	if errors.Is(err, context.Canceled) {
		return "stopped"
	}
	return strings.ReplaceAll(err.Error(), "\n", " ")
}

func renderRow(row board.DisplayRow, width int) string {
	titleWidth := max(20, min(60, width/3))
	line := fmt.Sprintf("%s %s  %s %s",
		rankStyle.Render(fmt.Sprintf("%3d.", row.Rank)),
		titleStyle.Render(padRight(truncateStr(row.Title, titleWidth), titleWidth)),
		volumeStyle.Render(fmt.Sprintf("%7s", row.Volume)),
		flatStyle.Render(fmt.Sprintf("24h %7s", row.Volume24h)),
	)

	parts := make([]string, 0, len(row.Contenders))
	for _, c := range row.Contenders {
		price := c.Price
		if price == "" {
			price = "-"
		}
		parts = append(parts, fmt.Sprintf("%s %s %s",
			contenderStyle.Render(truncateStr(c.Name, 24)), price, renderDelta(c.Delta)))
	}
	if len(parts) > 0 {
		line += "  " + strings.Join(parts, "  │  ")
	}
	return line
}

func renderDelta(d board.Delta) string {
	switch d.Direction {
	case board.DirectionUp:
		return upStyle.Render(d.Text)
	case board.DirectionDown:
		return downStyle.Render(d.Text)
	default:
		return flatStyle.Render(d.Text)
	}
}

func renderStatusBar(view board.View, loading bool, width int) string {
	left := fmt.Sprintf(" %d events · %d contenders · sort %s", view.Limit, view.Contenders, view.Sort)
	if view.Search != "" {
		left += fmt.Sprintf(" · %q", view.Search)
	}
	if loading {
		left += " (refreshing...)"
	}
	right := " r refresh  q quit "

	gap := max(0, width-lipgloss.Width(left)-lipgloss.Width(right))
	return statusBarStyle.Width(width).Render(left + strings.Repeat(" ", gap) + right)
}

func truncateStr(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}

func padRight(s string, n int) string {
	if w := lipgloss.Width(s); w < n {
		return s + strings.Repeat(" ", n-w)
	}
	return s
}

// Run starts the live board and blocks until the user quits or ctx ends.
func Run(ctx context.Context, source Source, opts Options) error {
	p := tea.NewProgram(New(ctx, source, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
