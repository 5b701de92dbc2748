// SPDX-License-Identifier: MIT

// Package tui is the interactive capture-device picker behind the select
// command.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zmk5566/Crowd-Sonic/internal/audio"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5"))

	highlightStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065")).
			Bold(true)

	ultrasonicStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E3B341"))
)

var keys = struct {
	Quit, Up, Down, Enter, Back key.Binding
}{
	Quit:  key.NewBinding(key.WithKeys("q", "ctrl+c")),
	Up:    key.NewBinding(key.WithKeys("up", "k")),
	Down:  key.NewBinding(key.WithKeys("down", "j")),
	Enter: key.NewBinding(key.WithKeys("enter")),
	Back:  key.NewBinding(key.WithKeys("esc")),
}

// Screen identifies the active page of the picker.
type Screen int

const (
	ListScreen Screen = iota
	RateScreen
)

// ultrasonicRate is the lowest capture rate whose Nyquist limit reaches the
// 20 kHz..100 kHz band of interest.
const ultrasonicRate = 200000

// Lister returns the capture devices to choose from.
type Lister func() ([]audio.Device, error)

// Prober returns the sample rates dev accepts.
type Prober func(dev audio.Device) []float64

// Selection is the confirmed device and capture rate.
type Selection struct {
	Device     audio.Device
	SampleRate float64
}

type devicesMsg struct{ devices []audio.Device }

type ratesMsg struct {
	deviceID int
	rates    []float64
}

type errMsg struct{ err error }

// Picker is the bubbletea model: a device list followed by a sample-rate
// screen for the chosen device.
type Picker struct {
	list      Lister
	probe     Prober
	preferred float64

	devices  []audio.Device
	selected int
	screen   Screen
	rates    []float64
	rateIdx  int
	probing  bool
	viewport viewport.Model
	ready    bool
	err      error
	choice   *Selection
}

// NewPicker returns a picker that preselects preferredRate on the rate
// screen when the device accepts it.
func NewPicker(list Lister, probe Prober, preferredRate float64) Picker {
	return Picker{list: list, probe: probe, preferred: preferredRate}
}

// Init fetches the device list.
func (m Picker) Init() tea.Cmd {
	list := m.list
	return func() tea.Msg {
		devices, err := list()
		if err != nil {
			return errMsg{err}
		}
		return devicesMsg{inputsOnly(devices)}
	}
}

func inputsOnly(devices []audio.Device) []audio.Device {
	out := make([]audio.Device, 0, len(devices))
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			out = append(out, d)
		}
	}
	return out
}

func (m Picker) probeCmd(dev audio.Device) tea.Cmd {
	probe := m.probe
	return func() tea.Msg {
		return ratesMsg{deviceID: dev.ID, rates: probe(dev)}
	}
}

func (m Picker) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-4)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 4
		}

	case devicesMsg:
		m.devices = msg.devices
		m.selected = 0
		for i, d := range m.devices {
			if d.IsDefault {
				m.selected = i
			}
		}

	case ratesMsg:
		if m.screen != RateScreen || msg.deviceID != m.devices[m.selected].ID {
			break
		}
		m.probing = false
		m.setRates(msg.rates)

	case errMsg:
		m.err = msg.err

	case tea.KeyMsg:
		if m.err != nil || key.Matches(msg, keys.Quit) {
			return m, tea.Quit
		}
		switch m.screen {
		case ListScreen:
			switch {
			case key.Matches(msg, keys.Up):
				if m.selected > 0 {
					m.selected--
				}
			case key.Matches(msg, keys.Down):
				if m.selected < len(m.devices)-1 {
					m.selected++
				}
			case key.Matches(msg, keys.Enter):
				if len(m.devices) > 0 {
					m.screen = RateScreen
					m.probing = true
					m.rates = nil
					cmds = append(cmds, m.probeCmd(m.devices[m.selected]))
				}
			}
		case RateScreen:
			switch {
			case key.Matches(msg, keys.Back):
				m.screen = ListScreen
				m.probing = false
			case key.Matches(msg, keys.Up):
				if m.rateIdx > 0 {
					m.rateIdx--
				}
			case key.Matches(msg, keys.Down):
				if m.rateIdx < len(m.rates)-1 {
					m.rateIdx++
				}
			case key.Matches(msg, keys.Enter):
				if !m.probing && len(m.rates) > 0 {
					m.choice = &Selection{Device: m.devices[m.selected], SampleRate: m.rates[m.rateIdx]}
					return m, tea.Quit
				}
			}
		}
	}

	if m.ready {
		m.viewport.SetContent(m.render())
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

// setRates installs the probed rates. A device that accepted none still
// offers its default rate. The cursor starts on the preferred rate, then the
// device default, then the highest rate.
func (m *Picker) setRates(rates []float64) {
	dev := m.devices[m.selected]
	if len(rates) == 0 {
		rates = []float64{dev.DefaultSampleRate}
	}
	m.rates = rates
	m.rateIdx = len(rates) - 1
	for _, want := range []float64{m.preferred, dev.DefaultSampleRate} {
		for i, r := range rates {
			if r == want {
				m.rateIdx = i
				return
			}
		}
	}
}

func (m Picker) View() string {
	if !m.ready {
		return "Initializing..."
	}
	if m.err != nil {
		return fmt.Sprintf("Error: %v\n\nPress any key to exit.", m.err)
	}

	var title, help string
	if m.screen == ListScreen {
		title = titleStyle.Render("Select Capture Device")
		help = infoStyle.Render("↑/↓: Navigate • Enter: Choose • q: Quit")
	} else {
		title = titleStyle.Render("Select Sample Rate")
		help = infoStyle.Render("↑/↓: Change • Enter: Confirm • Esc: Back • q: Quit")
	}
	return fmt.Sprintf("%s\n\n%s\n\n%s", title, m.viewport.View(), help)
}

func (m Picker) render() string {
	if m.screen == RateScreen {
		return m.renderRates()
	}
	return m.renderDevices()
}

func (m Picker) renderDevices() string {
	if len(m.devices) == 0 {
		return "No input devices found."
	}

	var sb strings.Builder
	for i, d := range m.devices {
		entry := fmt.Sprintf("[%d] %s", d.ID, d.Name)
		if d.IsDefault {
			entry += " (default)"
		}
		entry += fmt.Sprintf("\n    Input channels: %d, Default sample rate: %.0f Hz", d.MaxInputChannels, d.DefaultSampleRate)
		if d.HostAPI != "" {
			entry += ", Host API: " + d.HostAPI
		}
		entry += "\n"
		if i == m.selected {
			entry = highlightStyle.Render(entry)
		}
		sb.WriteString(entry)
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m Picker) renderRates() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Device: %s\n\n", m.devices[m.selected].Name)
	if m.probing {
		sb.WriteString("Probing sample rates...\n")
		return sb.String()
	}

	sb.WriteString("Sample Rate:\n")
	for i, r := range m.rates {
		marker := " "
		if i == m.rateIdx {
			marker = "▶"
		}
		line := fmt.Sprintf("  %s %.0f Hz", marker, r)
		if r >= ultrasonicRate {
			line += ultrasonicStyle.Render(" (ultrasonic)")
		}
		line += "\n"
		if i == m.rateIdx {
			line = highlightStyle.Render(line)
		}
		sb.WriteString(line)
	}
	return sb.String()
}

// Screen returns the active page.
func (m Picker) Screen() Screen { return m.screen }

// Choice returns the confirmed selection, if the user made one.
func (m Picker) Choice() (Selection, bool) {
	if m.choice == nil {
		return Selection{}, false
	}
	return *m.choice, true
}

// Run shows the picker full screen and returns what the user confirmed.
func Run(list Lister, probe Prober, preferredRate float64) (Selection, bool, error) {
	p := tea.NewProgram(NewPicker(list, probe, preferredRate), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return Selection{}, false, err
	}
	if m, ok := final.(Picker); ok {
		if err := m.err; err != nil {
			return Selection{}, false, err
		}
		sel, ok := m.Choice()
		return sel, ok, nil
	}
	return Selection{}, false, nil
}
