package viz

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/kppsim/internal/config"
	"github.com/san-kum/kppsim/internal/electrical"
	"github.com/san-kum/kppsim/internal/engine"
)

const (
	canvasWidth     = 40
	canvasHeight    = 24
	historyCapacity = 600
	frameRate       = 30
	maxSpeed        = 64
)

type TickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(time.Second/frameRate, func(t time.Time) tea.Msg { return TickMsg(t) })
}

// Model is the live dashboard. It owns stepping: each frame advances the
// engine by speed steps.
type Model struct {
	eng      *engine.Engine
	loop     *Loop
	theme    Theme
	st       styles
	snap     engine.Snapshot
	power    []float64
	velocity []float64
	running  bool
	speed    int
	sag      bool
	showHelp bool
	message  string
	err      error
}

func NewModel(e *engine.Engine, theme string) Model {
	t := GetTheme(theme)
	return Model{
		eng:      e,
		loop:     NewLoop(e.Geometry(), canvasWidth, canvasHeight),
		theme:    t,
		st:       newStyles(t),
		snap:     e.Snapshot(),
		power:    make([]float64, 0, historyCapacity),
		velocity: make([]float64, 0, historyCapacity),
		running:  true,
		speed:    4,
	}
}

func (m Model) Init() tea.Cmd { return tick() }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ":
			m.running = !m.running
		case "s":
			m.command("start", m.eng.Start)
		case "x":
			m.command("stop", m.eng.Stop)
		case "a":
			m.command("acknowledge", m.eng.Acknowledge)
		case "r":
			m.command("reset", m.eng.Reset)
			m.power, m.velocity, m.err, m.sag = m.power[:0], m.velocity[:0], nil, false
			m.snap = m.eng.Snapshot()
		case "o":
			w := m.eng.Config().Transient.Emergency.Overspeed * 1.1
			m.command("overspeed", func() error { return m.eng.Perturb(engine.Perturbation{FlywheelSpeed: &w}) })
		case "g":
			m.toggleSag()
		case "+", "=":
			m.speed = min(maxSpeed, m.speed*2)
		case "-", "_":
			m.speed = max(1, m.speed/2)
		case "t":
			m.theme = m.theme.next()
			m.st = newStyles(m.theme)
		case "?":
			m.showHelp = !m.showHelp
		}
	case TickMsg:
		if m.running && m.err == nil {
			m.advance()
		}
		return m, tick()
	}
	return m, nil
}

func (m *Model) command(name string, fn func() error) {
	if err := fn(); err != nil {
		m.message = fmt.Sprintf("%s rejected: %v", name, err)
		return
	}
	m.message = name
}

func (m *Model) toggleSag() {
	grid := m.eng.Config().Electrical.Grid
	c := electrical.GridCondition{VoltagePU: 0.8, Frequency: grid.NominalFrequency}
	if m.sag {
		c.VoltagePU = 1
	}
	if err := m.eng.Perturb(engine.Perturbation{Grid: &c}); err != nil {
		m.message = "grid rejected: " + err.Error()
		return
	}
	m.sag = !m.sag
	m.message = fmt.Sprintf("grid %.2f pu", c.VoltagePU)
}

func (m *Model) advance() {
	for i := 0; i < m.speed; i++ {
		snap, err := m.eng.Step()
		if err != nil {
			m.err = err
			m.running = false
			return
		}
		m.snap = snap
		m.power = push(m.power, snap.Electrical.Power)
		m.velocity = push(m.velocity, snap.Chain.Velocity)
	}
}

func push(h []float64, v float64) []float64 {
	h = append(h, v)
	if len(h) > historyCapacity {
		h = h[1:]
	}
	return h
}

func (m Model) View() string {
	s, st := &m.snap, m.st
	var b strings.Builder

	badge := lipgloss.NewStyle().Bold(true).Foreground(m.theme.StateColor(s.State.Kind)).
		Render(strings.ToUpper(s.State.String()))
	b.WriteString(st.header.Render("KINETIC POWER PLANT") + "  " + badge + "\n")
	status := "RUNNING"
	if !m.running {
		status = "PAUSED"
	}
	b.WriteString(st.muted.Render(fmt.Sprintf("%s  x%d  source %s", status, m.speed, s.Source)) + "\n\n")

	row := func(label, value string) {
		b.WriteString(st.label.Render(label) + st.value.Render(value) + "\n")
	}
	row("Time", fmt.Sprintf("%.2f s (dt %.4f)", s.Time, s.Dt))
	row("Chain", fmt.Sprintf("%6.3f m/s", s.Chain.Velocity))
	row("Flywheel", fmt.Sprintf("%6.1f rad/s", s.Drivetrain.FlywheelSpeed))
	row("Clutch", fmt.Sprintf("%s slip %.2f", s.Drivetrain.Clutch, s.Drivetrain.Slip))
	row("Power", fmt.Sprintf("%8.0f W", s.Electrical.Power))
	row("Load", Gauge(m.theme, s.LoadFactor, 20, 0.9, 1)+fmt.Sprintf(" %.2f", s.LoadFactor))
	sync := "no"
	if s.Electrical.Synchronized {
		sync = "yes"
	}
	row("Grid", fmt.Sprintf("%.2f pu %.2f Hz sync %s", s.Electrical.GridVoltagePU, s.Electrical.GridFrequency, sync))
	row("Residual", fmt.Sprintf("%.2e", s.Energy.Residual()))

	b.WriteString("\n" + separator(st, 46) + "\n")
	b.WriteString(m.temperatures())

	if len(m.power) > 1 {
		chart := asciigraph.Plot(m.power, asciigraph.Height(5), asciigraph.Width(40), asciigraph.Caption("power [W]"))
		b.WriteString("\n" + st.graph.Render(chart) + "\n")
	}
	b.WriteString(st.muted.Render("v "+Sparkline(m.velocity, 40)) + "\n")

	b.WriteString(m.faults())
	if m.err != nil {
		b.WriteString(lipgloss.NewStyle().Foreground(m.theme.Alarm).Render("halted: "+m.err.Error()) + "\n")
	} else if m.message != "" {
		b.WriteString(st.muted.Render(m.message) + "\n")
	}
	b.WriteString(st.help.Render("SP pause  s start  x stop  a ack  r reset  o overspeed\ng sag  +/- speed  t theme  ? help  q quit"))

	view := lipgloss.JoinHorizontal(lipgloss.Top,
		lipgloss.NewStyle().Padding(1, 2).Render(m.loop.Render(s)),
		st.panel.Render(b.String()))
	if m.showHelp {
		return helpText + "\n" + view
	}
	return view
}

func (m Model) temperatures() string {
	var b strings.Builder
	limits := m.eng.Config().Thermal.Components
	for _, name := range config.ThermalComponents {
		t, limit := m.snap.Temps[name], limits[name].Max
		frac := 0.0
		if limit > 0 {
			frac = t / limit
		}
		b.WriteString(m.st.label.Render(name) + Gauge(m.theme, frac, 20, 0.8, 0.95) + fmt.Sprintf(" %5.1f C\n", t))
	}
	return b.String()
}

func (m Model) faults() string {
	if len(m.snap.Faults) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n")
	for i, f := range m.snap.Faults {
		if i == 3 {
			b.WriteString(m.st.muted.Render(fmt.Sprintf("+%d more\n", len(m.snap.Faults)-3)))
			break
		}
		b.WriteString(lipgloss.NewStyle().Foreground(m.theme.SeverityColor(f.Severity)).
			Render(fmt.Sprintf("%-8s %s", f.Severity, f.Message)) + "\n")
	}
	return b.String()
}

const helpText = `
  Space  pause / resume        s  start
  x      stop                  a  acknowledge emergency
  r      reset plant           o  inject flywheel overspeed
  g      toggle grid sag       +  faster    -  slower
  t      cycle theme           q  quit`

// Run starts the dashboard full screen and blocks until it quits.
func Run(e *engine.Engine, theme string) error {
	_, err := tea.NewProgram(NewModel(e, theme), tea.WithAltScreen()).Run()
	return err
}

