// Package tui is the terminal control surface for a fill session.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/gezibash/quotafill/internal/fill"
	"github.com/gezibash/quotafill/internal/report"
)

// Controller is the session the keys drive.
type Controller interface {
	Start(ctx context.Context) bool
	Stop(ctx context.Context)
	Resume(ctx context.Context) bool
}

// Options configures the TUI.
type Options struct {
	Controller Controller
	Panel      *report.Panel
	Profile    string
	Backend    string
}

type snapshotMsg report.Snapshot

type closedMsg struct{}

// Model is the bubbletea model. Panel snapshots arrive through a
// subscription; key presses call the controller directly.
type Model struct {
	ctx     context.Context
	ctrl    Controller
	snaps   <-chan report.Snapshot
	snap    report.Snapshot
	layout  Layout
	spinner spinner.Model
	bar     progress.Model
}

// NewModel builds a model subscribed to opts.Panel. The returned func
// unsubscribes.
func NewModel(ctx context.Context, opts Options) (Model, func()) {
	ch, unsubscribe := opts.Panel.Subscribe()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(AccentColor)

	return Model{
		ctx:     ctx,
		ctrl:    opts.Controller,
		snaps:   ch,
		snap:    opts.Panel.Snapshot(),
		layout:  Layout{Profile: opts.Profile, Backend: opts.Backend, Width: 80, Height: 24},
		spinner: s,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
	}, unsubscribe
}

// Snapshot returns the last panel snapshot the model received.
func (m Model) Snapshot() report.Snapshot { return m.snap }

func waitForSnapshot(ch <-chan report.Snapshot) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return snapshotMsg(s)
	}
}

// Init starts the spinner and the snapshot pump.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForSnapshot(m.snaps))
}

// Update handles keys, window size, spinner ticks, and snapshots.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		case "s":
			m.ctrl.Start(m.ctx)
		case "x":
			m.ctrl.Stop(m.ctx)
		case "r":
			m.ctrl.Resume(m.ctx)
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.layout.Width = msg.Width
		m.layout.Height = msg.Height
		m.bar.Width = min(max(msg.Width-20, 10), 60)
		return m, nil
	case spinner.TickMsg:
		m.layout.Frame++
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case snapshotMsg:
		m.snap = report.Snapshot(msg)
		m.layout.Running = m.snap.State == fill.StateRunning
		return m, waitForSnapshot(m.snaps)
	case closedMsg:
		return m, nil
	}
	return m, nil
}

// View renders the buttons, the result text, and the quota panel.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.buttons())
	b.WriteString("\n\n")

	status := string(m.snap.State)
	if m.snap.State == fill.StateRunning {
		status = m.spinner.View() + " " + status
	}
	fmt.Fprintf(&b, "%s%s\n", LabelStyle.Render("State"), ValueStyle.Render(status))
	fmt.Fprintf(&b, "%s%d (this run %d)\n", LabelStyle.Render("Records"), m.snap.Records, m.snap.RunRecords)

	if m.snap.StorageResult != "" {
		text := wordwrap.String(m.snap.StorageResult, m.layout.BodyWidth())
		style := ResultStyle
		if m.snap.State == fill.StateQuotaExceeded || strings.HasPrefix(m.snap.StorageResult, "Error:") {
			style = ErrorStyle
		}
		b.WriteString("\n" + style.Render(text) + "\n")
	}

	if m.snap.HasEstimate {
		b.WriteString("\n")
		fmt.Fprintf(&b, "%s%s\n", LabelStyle.Render("Total"), m.snap.TotalStorage)
		fmt.Fprintf(&b, "%s%s\n", LabelStyle.Render("Used"), m.snap.UsedStorage)
		fmt.Fprintf(&b, "%s%s\n", LabelStyle.Render("Remaining"), m.snap.RemainingStorage)
		b.WriteString("\n" + m.bar.ViewAs(usedFraction(m.snap)) + "\n")
	}

	return m.layout.Render(b.String(), "s: start · x: stop · r: resume · q: quit")
}

func (m Model) buttons() string {
	render := func(id, label string) string {
		if m.snap.Active == id {
			return ActiveButtonStyle.Render(label)
		}
		return ButtonStyle.Render(label)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top,
		render(fill.ButtonStart, "Start"),
		" ",
		render(fill.ButtonStop, "Stop"),
		" ",
		render(fill.ButtonResume, "Resume"),
	)
}

func usedFraction(s report.Snapshot) float64 {
	if s.Estimate.Quota <= 0 {
		return 0
	}
	return min(max(float64(s.Estimate.Usage)/float64(s.Estimate.Quota), 0), 1)
}

// Run runs the TUI until the user quits or ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	m, unsubscribe := NewModel(ctx, opts)
	defer unsubscribe()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		if ctx.Err() != nil && errors.Is(err, tea.ErrProgramKilled) {
			return nil
		}
		return err
	}
	return nil
}
