package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/easzlab/ezfwd/pkg/availability"
	"github.com/easzlab/ezfwd/pkg/forward"
	"github.com/easzlab/ezfwd/pkg/report"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
)

func printSuccess(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, successStyle.Render("✓ ")+fmt.Sprintf(format, args...))
}

func printInfo(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, infoStyle.Render("ℹ ")+fmt.Sprintf(format, args...))
}

func printWarning(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, warnStyle.Render("⚠ ")+fmt.Sprintf(format, args...))
}

func printError(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, errorStyle.Render("✗ ")+fmt.Sprintf(format, args...))
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

// printResult renders a reconciliation outcome and returns its error.
func printResult(w io.Writer, action string, result forward.Result) error {
	for _, warning := range result.Warnings {
		printWarning(w, "%s", warning)
	}

	switch result.Kind {
	case forward.Success:
		if result.Previous != result.Rule && result.Previous.RelayPort != 0 {
			printSuccess(w, "%s: %s => %s", action, result.Previous, result.Rule)
		} else {
			printSuccess(w, "%s: %s", action, result.Rule)
		}
	case forward.NoChange:
		printInfo(w, "nothing to change for %s", result.Rule)
	case forward.Declined:
		printInfo(w, "cancelled, %s left unchanged", result.Rule)
	case forward.PartialFailure:
		printError(w, "%s failed after: %s", action, strings.Join(result.CompletedSteps, ", "))
		if result.Compensated {
			printInfo(w, "completed steps were rolled back")
		} else {
			printWarning(w, "rollback incomplete, inspect the table with 'ezfwd cleanup' and 'ezfwd list'")
		}
	}
	return result.Err
}

func conflictText(c availability.PortConflict) string {
	switch c {
	case availability.Available:
		return successStyle.Render(c.String())
	case availability.Both:
		return errorStyle.Render(c.String())
	default:
		return warnStyle.Render(c.String())
	}
}

func stateText(s report.RuleState) string {
	switch s {
	case report.StateActive:
		return successStyle.Render(string(s))
	case report.StateDuplicate:
		return errorStyle.Render(string(s))
	default:
		return warnStyle.Render(string(s))
	}
}

func yesNo(v bool) string {
	if v {
		return successStyle.Render("yes")
	}
	return warnStyle.Render("no")
}
