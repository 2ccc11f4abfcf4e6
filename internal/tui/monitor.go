// Package tui provides the live terminal monitor for a run.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/taskmill/taskmill/internal/cancel"
	"github.com/taskmill/taskmill/pkg/models"
)

// maxLogLines is how many recent events the monitor renders.
const maxLogLines = 10

// EventMsg wraps an execution event for the monitor.
type EventMsg struct {
	Event models.Event
}

// DoneMsg signals that the run has finished and freezes the view.
type DoneMsg struct {
	Success bool
	Message string
}

// tickMsg drives the elapsed-time display.
type tickMsg time.Time

// Monitor is the bubbletea model for the live run view. It is read-only:
// all state arrives as messages, and the only inputs it accepts are the
// quit and cancel keys.
type Monitor struct {
	// runID identifies the run being watched.
	runID string
	// total is the number of tasks in the graph.
	total int
	// run is the cancellation handle, used when Ctrl+C is pressed.
	run *cancel.Run

	// started is when the monitor began watching.
	started time.Time
	// elapsed is the running duration, updated once per tick.
	elapsed time.Duration

	// completed counts finished tasks, including cache hits.
	completed int
	// failed counts permanently failed tasks.
	failed int
	// skipped counts tasks skipped after an upstream failure.
	skipped int
	// cached counts tasks satisfied from the result cache.
	cached int
	// running counts tasks currently in flight.
	running int
	// tokens is the total token usage reported so far.
	tokens int64

	// events holds every event received; View renders the tail.
	events []models.Event

	// width is the terminal width.
	width int
	// quitting indicates the monitor is shutting down.
	quitting bool
	// done indicates the run has finished.
	done bool
	// success indicates whether the run finished without failures.
	success bool
	// message holds the final result line.
	message string

	bar progress.Model

	titleStyle     lipgloss.Style
	successStyle   lipgloss.Style
	errorStyle     lipgloss.Style
	hintStyle      lipgloss.Style
	separatorStyle lipgloss.Style
}

// NewMonitor creates a Monitor for the given run. The run handle may be
// nil, in which case Ctrl+C only quits the view.
func NewMonitor(runID string, total int, run *cancel.Run) *Monitor {
	return &Monitor{
		runID:   runID,
		total:   total,
		run:     run,
		started: time.Now(),
		bar:     progress.New(progress.WithDefaultGradient()),

		titleStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4")).
			Bold(true),

		successStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("28")).
			Bold(true),

		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),

		hintStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		separatorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("236")),
	}
}

// NewProgram creates a Bubbletea program running the monitor. The returned
// program receives events via Send().
func NewProgram(runID string, total int, run *cancel.Run) (*tea.Program, *Monitor) {
	m := NewMonitor(runID, total, run)
	p := tea.NewProgram(m, tea.WithAltScreen())
	return p, m
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init implements tea.Model.
func (m *Monitor) Init() tea.Cmd {
	return tick()
}

// Update implements tea.Model.
func (m *Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q":
			m.quitting = true
			return m, tea.Quit
		case "ctrl+c":
			if m.run != nil && !m.done {
				m.run.Cancel("interrupted from monitor")
			}
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		w := msg.Width - 16
		if w > 60 {
			w = 60
		}
		if w > 0 {
			m.bar.Width = w
		}

	case EventMsg:
		m.apply(msg.Event)

	case DoneMsg:
		m.done = true
		m.success = msg.Success
		m.message = msg.Message
		m.elapsed = time.Since(m.started)

	case tickMsg:
		if m.done {
			return m, nil
		}
		m.elapsed = time.Since(m.started)
		return m, tick()
	}

	return m, nil
}

// apply folds one event into the counters and the log.
func (m *Monitor) apply(ev models.Event) {
	switch ev.Type {
	case models.EventTaskStarted:
		m.running++
	case models.EventTaskCompleted:
		m.running--
		m.completed++
	case models.EventTaskCacheHit:
		m.running--
		m.completed++
		m.cached++
	case models.EventTaskFailed:
		m.running--
		m.failed++
	case models.EventTaskSkipped:
		m.skipped++
	}
	if m.running < 0 {
		m.running = 0
	}
	m.tokens += ev.TokensUsed
	m.events = append(m.events, ev)
}

// settled reports how many tasks have reached a terminal state.
func (m *Monitor) settled() int {
	return m.completed + m.failed + m.skipped
}

// percent reports run progress in [0, 1].
func (m *Monitor) percent() float64 {
	if m.total <= 0 {
		return 0
	}
	return float64(m.settled()) / float64(m.total)
}

// View implements tea.Model.
func (m *Monitor) View() string {
	if m.quitting {
		return ""
	}

	return fmt.Sprintf("\n %s\n\n %s\n\n %s\n\n%s\n %s\n",
		m.viewTitle(),
		m.viewBar(),
		m.viewCounts(),
		m.viewLog(),
		m.viewFooter(),
	)
}

// viewTitle renders the name, run ID, and elapsed time.
func (m *Monitor) viewTitle() string {
	sep := m.separatorStyle.Render(" │ ")
	title := m.titleStyle.Render("taskmill")
	return title + "  run " + m.runID + sep + formatElapsed(m.elapsed)
}

// viewBar renders the progress bar with the settled/total ratio.
func (m *Monitor) viewBar() string {
	return fmt.Sprintf("%s %d/%d", m.bar.ViewAs(m.percent()), m.settled(), m.total)
}

// viewCounts renders the per-status counters and the token total.
func (m *Monitor) viewCounts() string {
	counts := m.successStyle.Render(fmt.Sprintf("✓%d", m.completed))
	if m.failed > 0 {
		counts += m.errorStyle.Render(fmt.Sprintf(" ✗%d", m.failed))
	}
	if m.skipped > 0 {
		counts += m.hintStyle.Render(fmt.Sprintf(" -%d skipped", m.skipped))
	}
	if m.cached > 0 {
		counts += fmt.Sprintf(" ↻%d cached", m.cached)
	}
	if m.running > 0 {
		counts += fmt.Sprintf(" ⏳%d", m.running)
	}
	if m.tokens > 0 {
		counts += m.separatorStyle.Render(" │ ") + m.hintStyle.Render(fmt.Sprintf("%d tokens", m.tokens))
	}
	return counts
}

// viewLog renders the most recent events, one per line.
func (m *Monitor) viewLog() string {
	if len(m.events) == 0 {
		return m.hintStyle.Render("  waiting for tasks...") + "\n"
	}

	start := 0
	if len(m.events) > maxLogLines {
		start = len(m.events) - maxLogLines
	}

	var view string
	for _, ev := range m.events[start:] {
		view += "  " + m.logLine(ev) + "\n"
	}
	return view
}

// logLine formats one event for the log.
func (m *Monitor) logLine(ev models.Event) string {
	ts := m.hintStyle.Render(ev.Timestamp.Format("15:04:05"))

	switch ev.Type {
	case models.EventTaskStarted:
		return fmt.Sprintf("%s ⏳ %s %s", ts, ev.TaskID, ev.TaskTitle)
	case models.EventTaskCompleted:
		detail := fmt.Sprintf("(%.1fs, %d tokens)", ev.Duration.Seconds(), ev.TokensUsed)
		return fmt.Sprintf("%s %s %s %s %s", ts, m.successStyle.Render("✓"), ev.TaskID, ev.TaskTitle, m.hintStyle.Render(detail))
	case models.EventTaskCacheHit:
		return fmt.Sprintf("%s ↻ %s %s %s", ts, ev.TaskID, ev.TaskTitle, m.hintStyle.Render("(cached)"))
	case models.EventTaskFailed:
		return fmt.Sprintf("%s %s %s %s: %s", ts, m.errorStyle.Render("✗"), ev.TaskID, ev.TaskTitle, ev.Err)
	case models.EventTaskSkipped:
		return fmt.Sprintf("%s - %s %s %s", ts, ev.TaskID, ev.TaskTitle, m.hintStyle.Render("("+ev.Message+")"))
	case models.EventRunCancelled:
		return fmt.Sprintf("%s %s run cancelled: %s", ts, m.errorStyle.Render("✗"), ev.Message)
	case models.EventRunDone:
		return fmt.Sprintf("%s %s", ts, ev.Message)
	default:
		return fmt.Sprintf("%s %s", ts, ev.Message)
	}
}

// viewFooter renders the result line once done, keyboard hints otherwise.
func (m *Monitor) viewFooter() string {
	if m.done {
		var result string
		if m.success {
			result = m.successStyle.Render("✓ " + m.message)
		} else {
			result = m.errorStyle.Render("✗ " + m.message)
		}
		return result + m.separatorStyle.Render(" │ ") + m.hintStyle.Render("Press q to exit")
	}
	return m.hintStyle.Render("q quit │ ctrl+c cancel run")
}

// formatElapsed renders a duration as m:ss.
func formatElapsed(d time.Duration) string {
	secs := int(d.Seconds())
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
