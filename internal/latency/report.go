package latency

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Level grades one step or a whole round trip
type Level int

const (
	LevelFast Level = iota
	LevelOK
	LevelSlow
)

func (l Level) String() string {
	switch l {
	case LevelFast:
		return "fast"
	case LevelOK:
		return "ok"
	default:
		return "slow"
	}
}

// StepLevel grades the time between two checkpoints
func StepLevel(d time.Duration) Level {
	switch {
	case d < 500*time.Millisecond:
		return LevelFast
	case d < 1500*time.Millisecond:
		return LevelOK
	default:
		return LevelSlow
	}
}

// TotalLevel grades a complete round trip
func TotalLevel(d time.Duration) Level {
	switch {
	case d < 3*time.Second:
		return LevelFast
	case d < 5*time.Second:
		return LevelOK
	default:
		return LevelSlow
	}
}

func rating(l Level) string {
	switch l {
	case LevelFast:
		return "EXCELLENT"
	case LevelOK:
		return "GOOD"
	default:
		return "SLOW"
	}
}

// Report is a rendered-ready view of a timer
type Report struct {
	Title       string
	Checkpoints []Checkpoint
	Total       time.Duration
}

// Step is one report row
type Step struct {
	Checkpoint
	Delta time.Duration
	Level Level
}

// Steps pairs every checkpoint with the time since the previous one
func (r Report) Steps() []Step {
	steps := make([]Step, 0, len(r.Checkpoints))
	var prev time.Duration
	for _, cp := range r.Checkpoints {
		delta := cp.Elapsed - prev
		steps = append(steps, Step{Checkpoint: cp, Delta: delta, Level: StepLevel(delta)})
		prev = cp.Elapsed
	}
	return steps
}

type styles struct {
	title  lipgloss.Style
	header lipgloss.Style
	name   lipgloss.Style
	detail lipgloss.Style
	rule   lipgloss.Style
	levels map[Level]lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("241")),
		name:   lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		detail: lipgloss.NewStyle().Faint(true),
		rule:   lipgloss.NewStyle().Foreground(lipgloss.Color("238")),
		levels: map[Level]lipgloss.Style{
			LevelFast: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
			LevelOK:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
			LevelSlow: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		},
	}
}

func ms(d time.Duration) string {
	return fmt.Sprintf("%8dms", d.Milliseconds())
}

// Render draws the report as a table
func Render(r Report) string {
	s := newStyles()
	const nameWidth = 24

	rule := s.rule.Render(strings.Repeat("─", 60))
	lines := []string{
		s.title.Render("LATENCY REPORT: " + r.Title),
		rule,
		s.header.Render(fmt.Sprintf("%-*s %10s %10s", nameWidth, "Checkpoint", "Step", "Cumulative")),
	}

	for _, step := range r.Steps() {
		row := fmt.Sprintf("%s %s %s",
			s.name.Render(fmt.Sprintf("%-*s", nameWidth, step.Name)),
			s.levels[step.Level].Render(" "+ms(step.Delta)),
			" "+ms(step.Elapsed),
		)
		if step.Description != "" {
			row += "  " + s.detail.Render(step.Description)
		}
		lines = append(lines, row)
	}

	total := TotalLevel(r.Total)
	lines = append(lines,
		rule,
		fmt.Sprintf("%s %s  %s",
			s.header.Render(fmt.Sprintf("%-*s", nameWidth, "TOTAL")),
			s.levels[total].Render(" "+ms(r.Total)),
			s.levels[total].Render(rating(total)),
		),
	)

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
