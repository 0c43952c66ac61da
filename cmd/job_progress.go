package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/bnema/accountctl/internal/application"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type jobLogMsg struct {
	line string
}

type jobLogsClosedMsg struct{}

type jobProgressModel struct {
	spinner spinner.Model
	label   string
	events  <-chan application.LogEvent
	lines   int
	done    bool
}

func newJobProgressModel(label string, events <-chan application.LogEvent) jobProgressModel {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("69"))),
	)

	return jobProgressModel{
		spinner: s,
		label:   label,
		events:  events,
	}
}

func (m jobProgressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.next())
}

// next reads one event off the subscription.
func (m jobProgressModel) next() tea.Cmd {
	events := m.events
	return func() tea.Msg {
		event, ok := <-events
		if !ok {
			return jobLogsClosedMsg{}
		}
		return jobLogMsg{line: event.Line}
	}
}

func (m jobProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case jobLogMsg:
		m.lines++
		return m, tea.Batch(tea.Println(msg.line), m.next())
	case jobLogsClosedMsg:
		m.done = true
		return m, tea.Quit
	default:
		return m, nil
	}
}

func (m jobProgressModel) View() string {
	if m.done {
		return ""
	}

	return fmt.Sprintf("%s %s (%d log lines)", m.spinner.View(), m.label, m.lines)
}

// streamJobLogs shows a spinner while relaying job log lines to output until
// the subscription closes.
func streamJobLogs(ctx context.Context, output io.Writer, label string, events <-chan application.LogEvent) error {
	p := tea.NewProgram(
		newJobProgressModel(label, events),
		tea.WithInput(nil),
		tea.WithOutput(output),
		tea.WithContext(ctx),
		tea.WithoutSignalHandler(),
	)

	finalModel, err := p.Run()
	if err != nil {
		return err
	}

	if _, ok := finalModel.(jobProgressModel); !ok {
		return fmt.Errorf("unexpected final progress model type %T", finalModel)
	}

	return nil
}

// drainJobLogs writes log lines without any terminal decoration.
func drainJobLogs(ctx context.Context, output io.Writer, events <-chan application.LogEvent) error {
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return nil
			}
			_, _ = fmt.Fprintln(output, event.Line)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
