package prompt

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/easzlab/ezfwd/pkg/forward"
	"github.com/easzlab/ezfwd/pkg/ruletable"
)

// editField identifies an input of the edit form.
type editField int

const (
	fieldTarget editField = iota
	fieldRelay
	fieldCount
)

// EditResult is what the operator submitted.
type EditResult struct {
	TargetPort uint16
	RelayPort  uint16
	Cancelled  bool
}

// EditModel is a two-field form editing the target and relay port of a rule.
type EditModel struct {
	current ruletable.ForwardRule
	inputs  [fieldCount]textinput.Model
	focus   editField
	err     string
	result  EditResult
	done    bool
}

// NewEdit creates an EditModel prefilled with current.
func NewEdit(current ruletable.ForwardRule) EditModel {
	target := textinput.New()
	target.Placeholder = "target port"
	target.CharLimit = 5
	target.Width = 10
	target.SetValue(strconv.Itoa(int(current.TargetPort)))
	target.Focus()

	relay := textinput.New()
	relay.Placeholder = "relay port"
	relay.CharLimit = 5
	relay.Width = 10
	relay.SetValue(strconv.Itoa(int(current.RelayPort)))

	return EditModel{
		current: current,
		inputs:  [fieldCount]textinput.Model{target, relay},
	}
}

func (m EditModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m EditModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch keyMsg.String() {
		case "ctrl+c", "esc":
			m.result = EditResult{Cancelled: true}
			m.done = true
			return m, tea.Quit
		case "tab", "down":
			return m.moveFocus(1)
		case "shift+tab", "up":
			return m.moveFocus(-1)
		case "enter":
			if m.focus < fieldCount-1 {
				return m.moveFocus(1)
			}
			return m.submit()
		}
	}

	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	return m, cmd
}

func (m EditModel) moveFocus(delta int) (tea.Model, tea.Cmd) {
	m.inputs[m.focus].Blur()
	m.focus = editField((int(m.focus) + delta + int(fieldCount)) % int(fieldCount))
	return m, m.inputs[m.focus].Focus()
}

func (m EditModel) submit() (tea.Model, tea.Cmd) {
	target, err := forward.ParsePort(m.inputs[fieldTarget].Value())
	if err != nil {
		m.err = "target port: " + err.Error()
		return m, nil
	}
	relay, err := forward.ParsePort(m.inputs[fieldRelay].Value())
	if err != nil {
		m.err = "relay port: " + err.Error()
		return m, nil
	}

	m.err = ""
	m.result = EditResult{TargetPort: target, RelayPort: relay}
	m.done = true
	return m, tea.Quit
}

func (m EditModel) View() string {
	if m.done {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render(fmt.Sprintf("Edit %s", m.current)))
	sb.WriteString("\n")
	sb.WriteString(labelStyle.Render("Target port") + m.inputs[fieldTarget].View() + "\n")
	sb.WriteString(labelStyle.Render("Relay port") + m.inputs[fieldRelay].View() + "\n")
	if m.err != "" {
		sb.WriteString(errorStyle.Render(m.err) + "\n")
	}
	sb.WriteString(hintStyle.Render("[tab] Next  [enter] Save  [esc] Cancel") + "\n")
	return sb.String()
}

// Result returns the submitted values.
func (m EditModel) Result() EditResult {
	return m.result
}

// Edit runs the edit form for current.
func Edit(current ruletable.ForwardRule, in io.Reader, out io.Writer) (EditResult, error) {
	p := tea.NewProgram(NewEdit(current), tea.WithInput(in), tea.WithOutput(out))

	finalModel, err := p.Run()
	if err != nil {
		return EditResult{}, fmt.Errorf("edit form failed: %w", err)
	}
	return finalModel.(EditModel).Result(), nil
}
