package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/ucdsync/workflow"
)

const timeLayout = "2006-01-02 15:04:05"

// StatusModel is a Bubble Tea model for the workflow status view.
type StatusModel struct {
	viewType string
	data     any
	width    int
	height   int
	quitting bool
}

// NewStatusModel creates a new status model.
func NewStatusModel(viewType string, data any) StatusModel {
	return StatusModel{
		viewType: viewType,
		data:     data,
	}
}

// Init implements tea.Model.
func (m StatusModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m StatusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m StatusModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case ViewWorkflowStatus:
		content = m.renderWorkflowStatus()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return content + "\n" + help
}

func (m StatusModel) renderWorkflowStatus() string {
	data, ok := m.data.(*workflow.Inspection)
	if !ok || data.Instance == nil {
		return "Invalid data type for " + ViewWorkflowStatus
	}
	inst := data.Instance

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Upload Workflow"))
	b.WriteString("\n\n")

	rows := [][]string{
		{"Workflow ID", inst.ID},
		{"Version", inst.Version},
		{"Archive", inst.ArchiveKey},
		{"Created At", inst.CreatedAt.Format(timeLayout)},
	}
	if inst.StartedAt != nil {
		rows = append(rows, []string{"Started At", inst.StartedAt.Format(timeLayout)})
	}
	rows = append(rows, []string{"Updated At", inst.UpdatedAt.Format(timeLayout)})

	b.WriteString(fmt.Sprintf("%s %s\n",
		LabelStyle.Render("State:"),
		StateStyle(inst.State).Render(string(inst.State))))
	for _, row := range rows {
		b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render(row[0]+":"), ValueStyle.Render(row[1])))
	}

	if inst.Output != nil {
		b.WriteString(fmt.Sprintf("%s %s\n",
			LabelStyle.Render("Uploaded:"),
			SuccessStyle.Render(fmt.Sprintf("%d files in %s", inst.Output.FilesUploaded, inst.Output.Duration))))
	}
	if inst.Error != "" {
		b.WriteString(fmt.Sprintf("%s %s\n",
			LabelStyle.Render("Failed Step:"),
			ErrorStyle.Render(inst.FailedStep)))
		b.WriteString(fmt.Sprintf("%s %s\n",
			LabelStyle.Render("Error:"),
			ErrorStyle.Render(wrap(inst.Error, m.width))))
	}

	b.WriteString("\n")
	b.WriteString(TitleStyle.Render("Steps"))
	b.WriteString("\n")
	for _, s := range data.Steps {
		marker := ValueStyle.Render("○")
		if s.Recorded {
			marker = SuccessStyle.Render("●")
		} else if s.Name == inst.FailedStep {
			marker = ErrorStyle.Render("✗")
		}
		b.WriteString(fmt.Sprintf("  %s %s %s\n", marker, LabelStyle.Render(s.Name), ValueStyle.Render(s.Detail)))
	}

	return BoxStyle.Render(b.String())
}

// wrap breaks long error messages to fit the terminal width.
func wrap(s string, width int) string {
	if width <= 40 {
		return s
	}
	return lipgloss.NewStyle().Width(width - 30).Render(s)
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// RunStatusTUI runs the status TUI.
func RunStatusTUI(viewType string, data any) error {
	model := NewStatusModel(viewType, data)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderStatusStatic renders status data without full TUI (for fallback).
func RenderStatusStatic(viewType string, data any) string {
	model := NewStatusModel(viewType, data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}

