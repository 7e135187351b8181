package tui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/dividat/refractometer/src/refractometer/acquisition"
)

// Run shows the UI until the operator quits or ctx is done. The port is
// released before Run returns.
func Run(ctx context.Context, log *logrus.Entry, config Config, open acquisition.Opener, lister PortLister) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// the reader must never block on the UI, samples only set a flag here
	redraw := make(chan struct{}, 1)
	notify := func() {
		select {
		case redraw <- struct{}{}:
		default:
		}
	}

	session := acquisition.NewSession(ctx, log, open, acquisition.WithNotify(notify))
	defer session.Close()

	model, err := NewModel(log, session, lister, config)
	if err != nil {
		return err
	}

	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	go forwardRedraws(ctx, redraw, program)

	_, err = program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func forwardRedraws(ctx context.Context, redraw <-chan struct{}, program *tea.Program) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-redraw:
			program.Send(sampleMsg{})
		}
	}
}
