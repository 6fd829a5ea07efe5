package viz

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/san-kum/kppsim/internal/dynamo"
	"github.com/san-kum/kppsim/internal/transient"
)

// Theme is the dashboard colour scheme.
type Theme struct {
	Name    string
	Primary lipgloss.Color
	Accent  lipgloss.Color
	Text    lipgloss.Color
	Muted   lipgloss.Color
	Good    lipgloss.Color
	Warning lipgloss.Color
	Alarm   lipgloss.Color
}

var Themes = []Theme{
	{
		Name:    "control-room",
		Primary: lipgloss.Color("#00ffff"),
		Accent:  lipgloss.Color("#ffff00"),
		Text:    lipgloss.Color("#e0e0e0"),
		Muted:   lipgloss.Color("#666688"),
		Good:    lipgloss.Color("#00ff88"),
		Warning: lipgloss.Color("#ffaa00"),
		Alarm:   lipgloss.Color("#ff4444"),
	},
	{
		Name:    "ocean",
		Primary: lipgloss.Color("#00a8cc"),
		Accent:  lipgloss.Color("#ffd700"),
		Text:    lipgloss.Color("#e0f0ff"),
		Muted:   lipgloss.Color("#4488aa"),
		Good:    lipgloss.Color("#00ff88"),
		Warning: lipgloss.Color("#ffcc00"),
		Alarm:   lipgloss.Color("#ff4444"),
	},
	{
		Name:    "mono",
		Primary: lipgloss.Color("#ffffff"),
		Accent:  lipgloss.Color("#0088ff"),
		Text:    lipgloss.Color("#ffffff"),
		Muted:   lipgloss.Color("#888888"),
		Good:    lipgloss.Color("#cccccc"),
		Warning: lipgloss.Color("#ffffff"),
		Alarm:   lipgloss.Color("#ffffff"),
	},
}

// GetTheme returns a theme by name, falling back to the first.
func GetTheme(name string) Theme {
	for _, t := range Themes {
		if t.Name == name {
			return t
		}
	}
	return Themes[0]
}

// next returns the theme after t, wrapping around.
func (t Theme) next() Theme {
	for i, th := range Themes {
		if th.Name == t.Name {
			return Themes[(i+1)%len(Themes)]
		}
	}
	return Themes[0]
}

// StateColor colours a system state badge.
func (t Theme) StateColor(k transient.Kind) lipgloss.Color {
	switch k {
	case transient.Operational:
		return t.Good
	case transient.Starting, transient.Shutdown:
		return t.Warning
	case transient.Emergency, transient.Fault:
		return t.Alarm
	}
	return t.Muted
}

func (t Theme) SeverityColor(s dynamo.Severity) lipgloss.Color {
	switch {
	case s >= dynamo.High:
		return t.Alarm
	case s >= dynamo.Medium:
		return t.Warning
	}
	return t.Muted
}
