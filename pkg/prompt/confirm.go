// Package prompt provides the interactive terminal prompts of ezfwd.
package prompt

import (
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	questionStyle = lipgloss.NewStyle().Bold(true)
	hintStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	labelStyle    = lipgloss.NewStyle().Bold(true).Width(14)
	titleStyle    = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			MarginBottom(1)
)

// ConfirmModel is a yes/no question. Anything but an explicit yes declines.
type ConfirmModel struct {
	question  string
	confirmed bool
	done      bool
}

// NewConfirm creates a ConfirmModel asking question.
func NewConfirm(question string) ConfirmModel {
	return ConfirmModel{question: question}
}

func (m ConfirmModel) Init() tea.Cmd {
	return nil
}

func (m ConfirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch keyMsg.String() {
	case "y", "Y":
		m.confirmed = true
		m.done = true
		return m, tea.Quit
	case "n", "N", "q", "esc", "ctrl+c", "enter":
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m ConfirmModel) View() string {
	if m.done {
		return ""
	}
	return questionStyle.Render(m.question) + " " + hintStyle.Render("[y/N]") + "\n"
}

// Confirmed reports whether the operator answered yes.
func (m ConfirmModel) Confirmed() bool {
	return m.confirmed
}

// Confirm asks question on out and reads the answer from in.
func Confirm(question string, in io.Reader, out io.Writer) (bool, error) {
	p := tea.NewProgram(NewConfirm(question), tea.WithInput(in), tea.WithOutput(out))

	finalModel, err := p.Run()
	if err != nil {
		return false, fmt.Errorf("confirmation prompt failed: %w", err)
	}
	return finalModel.(ConfirmModel).Confirmed(), nil
}
