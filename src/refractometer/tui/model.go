// Package tui is the operator's terminal front end. The bubbletea update loop
// is the only goroutine touching the measurement session.
package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/dividat/refractometer/src/refractometer/acquisition"
	"github.com/dividat/refractometer/src/refractometer/device"
	"github.com/dividat/refractometer/src/refractometer/workpoint"
)

// PortLister lists the ports a measurement can be started on.
type PortLister interface {
	ListPorts() ([]device.PortInfo, error)
}

type Config struct {
	FrameSize  int
	Decoder    acquisition.Decoder
	WorkPoints []string
	Tick       time.Duration
	PlotWidth  int
}

// plot rows, excluding the axis
const plotHeight = 10

type Model struct {
	log     *logrus.Entry
	session *acquisition.Session
	lister  PortLister
	config  Config

	ports      []device.PortInfo
	portIndex  int
	workPoints *workpoint.Selector

	infoMessage  string
	errorMessage string

	quitting bool
}

// Messages

type tickMsg time.Time

// sampleMsg wakes the loop when the reader has produced a sample
type sampleMsg struct{}

type portsMsg struct {
	ports []device.PortInfo
	err   error
}

// NewModel builds the UI around session, which must not be used elsewhere.
func NewModel(log *logrus.Entry, session *acquisition.Session, lister PortLister, config Config) (Model, error) {
	workPoints, err := workpoint.NewSelector(config.WorkPoints)
	if err != nil {
		return Model{}, err
	}
	return Model{
		log:        log,
		session:    session,
		lister:     lister,
		config:     config,
		workPoints: workPoints,
	}, nil
}

// Commands

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.config.Tick, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) listPorts() tea.Cmd {
	lister := m.lister
	return func() tea.Msg {
		ports, err := lister.ListPorts()
		return portsMsg{ports: ports, err: err}
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.tick(), m.listPorts())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeypress(msg)

	case tickMsg:
		m.poll()
		return m, m.tick()

	case sampleMsg:
		m.poll()
		return m, nil

	case portsMsg:
		if msg.err != nil {
			m.errorMessage = fmt.Sprintf("Could not list serial ports: %v", msg.err)
			return m, nil
		}
		m.setPorts(msg.ports)
		return m, nil
	}

	return m, nil
}

func (m *Model) poll() {
	before := m.session.State()
	m.session.Poll()
	if before == acquisition.Measuring && m.session.State() == acquisition.Faulted {
		m.errorMessage = fmt.Sprintf("Measurement failed: %v", m.session.Fault())
	}
}

// setPorts replaces the port list, keeping the selected port if still present
func (m *Model) setPorts(ports []device.PortInfo) {
	selected := m.selectedPort()
	m.ports = ports
	m.portIndex = 0
	for i, port := range ports {
		if port.Path == selected {
			m.portIndex = i
		}
	}
	m.infoMessage = device.Summary(ports)
	m.errorMessage = ""
}

func (m Model) selectedPort() string {
	if len(m.ports) == 0 {
		return ""
	}
	return m.ports[m.portIndex].Path
}

func (m Model) handleKeypress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	measuring := m.session.State() == acquisition.Measuring

	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		m.session.Close()
		return m, tea.Quit

	case "p":
		if measuring || len(m.ports) == 0 {
			return m, nil
		}
		m.portIndex = (m.portIndex + 1) % len(m.ports)

	case "r":
		m.infoMessage = "Looking for serial ports..."
		return m, m.listPorts()

	case "w":
		if measuring {
			return m, nil
		}
		m.workPoints.Next()

	case "s":
		m.start()

	case "x":
		m.session.Stop()
		m.poll()
	}

	return m, nil
}

func (m *Model) start() {
	port := m.selectedPort()
	if port == "" {
		m.errorMessage = device.ErrNoPort.Error()
		return
	}

	// pick up the tail of a previous run before the history is reset
	m.poll()

	if err := m.session.Start(port, m.config.FrameSize, m.config.Decoder); err != nil {
		m.errorMessage = err.Error()
		return
	}
	m.log.WithField("workPoint", m.workPoints.Selected()).Info("Measurement started by operator.")
	m.errorMessage = ""
}
