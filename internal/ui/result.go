package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/bulkota/internal/ota"
)

// Summary is the box printed when a run ends.
type Summary struct {
	Result   ota.Result
	Firmware string
	Elapsed  time.Duration
	Width    int
}

// NewSummary creates a summary for result.
func NewSummary(result ota.Result, firmware string, elapsed time.Duration) *Summary {
	return &Summary{
		Result:   result,
		Firmware: firmware,
		Elapsed:  elapsed,
		Width:    GetTerminalWidth(),
	}
}

// SetWidth sets the terminal width for responsive rendering
func (s *Summary) SetWidth(width int) *Summary {
	s.Width = width
	return s
}

// Render returns the styled summary box as a string
func (s *Summary) Render() string {
	width := clampWidth(s.Width)

	var lines []string
	border := SuccessColor

	if s.Result.OK() {
		lines = append(lines, "", SuccessTitleStyle.Render(fmt.Sprintf("   %s  SUCCESS  ─  %s", MarkerFinished, "All devices updated")), "")
	} else {
		border = ErrorColor
		lines = append(lines, "", ErrorTitleStyle.Render(fmt.Sprintf("   %s  INCOMPLETE  ─  %s", MarkerAbandoned, "Some devices did not finish")), "")
	}

	lines = append(lines,
		detailLine("Firmware", s.Firmware),
		detailLine("Finished", countList(s.Result.Finished)),
	)
	if len(s.Result.Abandoned) > 0 {
		lines = append(lines, detailLine("Abandoned", countList(s.Result.Abandoned)))
	}
	lines = append(lines, detailLine("Elapsed", s.Elapsed.Round(100*time.Millisecond).String()), "")

	return lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(border).
		Width(width - 2).
		Padding(0, 2).
		Render(strings.Join(lines, "\n"))
}

// String implements fmt.Stringer
func (s *Summary) String() string {
	return s.Render()
}

func detailLine(key, value string) string {
	return ResultKeyStyle.Render("   "+key+":") + " " + ResultValueStyle.Render(value)
}

func countList(ids []string) string {
	if len(ids) == 0 {
		return "0"
	}
	return fmt.Sprintf("%d (%s)", len(ids), strings.Join(ids, ", "))
}
