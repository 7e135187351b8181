package instrument

/* Runs measurements headless and streams them to remote viewers.

The Backend owns one acquisition session and is its UI loop:

- Run ticks, wakes up when the reader signals a new sample and polls the session
- Drained samples and status changes are published to all connected clients
- Commands from clients are queued and executed by Run, so the session is never
  touched from another goroutine

*/

import (
	"context"
	"errors"
	"time"

	"github.com/cskr/pubsub"
	"github.com/sirupsen/logrus"

	"github.com/dividat/refractometer/src/refractometer/acquisition"
	"github.com/dividat/refractometer/src/refractometer/device"
	"github.com/dividat/refractometer/src/refractometer/protocol"
	"github.com/dividat/refractometer/src/refractometer/util"
	"github.com/dividat/refractometer/src/refractometer/util/websocket"
	"github.com/dividat/refractometer/src/refractometer/workpoint"
)

// pubsub topic name, must be unique
const brokerTopicBroadcast = "refractometer-broadcast"

var ErrShutdown = errors.New("instrument backend is shut down")

// PortLister lists the ports a measurement can be started on.
type PortLister interface {
	ListPorts() ([]device.PortInfo, error)
}

type Config struct {
	FrameSize  int
	Decoder    acquisition.Decoder
	WorkPoints []string
	// interval at which the session is polled when no sample wakes the loop
	Tick time.Duration
	// identifies this machine to clients
	Host string
}

type Backend struct {
	ctx context.Context
	log *logrus.Entry

	broker *pubsub.PubSub

	session    *acquisition.Session
	ports      PortLister
	workPoints *workpoint.Selector

	frameSize int
	decoder   acquisition.Decoder
	tick      time.Duration
	host      string

	redraw   chan struct{}
	requests chan func()

	lastState acquisition.State
}

// New returns a backend that measures on ports opened by open. Call Run to
// start serving it.
func New(ctx context.Context, log *logrus.Entry, config Config, open acquisition.Opener, ports PortLister, options ...acquisition.Option) (*Backend, error) {
	if config.Decoder == nil {
		return nil, errors.New("no decoder configured")
	}
	if config.Tick <= 0 {
		return nil, errors.New("tick interval must be positive")
	}
	workPoints, err := workpoint.NewSelector(config.WorkPoints)
	if err != nil {
		return nil, err
	}

	backend := &Backend{
		ctx: ctx,
		log: log,

		broker: pubsub.New(32),

		ports:      ports,
		workPoints: workPoints,

		frameSize: config.FrameSize,
		decoder:   config.Decoder,
		tick:      config.Tick,
		host:      config.Host,

		redraw:   make(chan struct{}, 1),
		requests: make(chan func()),
	}

	options = append(options, acquisition.WithNotify(backend.requestRedraw))
	backend.session = acquisition.NewSession(ctx, log, open, options...)
	backend.lastState = backend.session.State()

	return backend, nil
}

// Handle returns the WebSocket handler for remote viewers of this backend.
func (backend *Backend) Handle() *websocket.Handle {
	return &websocket.Handle{
		Broker:          backend.broker,
		BrokerBroadcast: brokerTopicBroadcast,
		Log:             backend.log,
		Backend:         backend,
	}
}

// Broker and Topic give access to the messages broadcast to clients.
func (backend *Backend) Broker() *pubsub.PubSub {
	return backend.broker
}

func (backend *Backend) Topic() string {
	return brokerTopicBroadcast
}

// Run is the loop driving the session. It returns when the context given to
// New is done, after the port has been released.
func (backend *Backend) Run() {
	ticker := time.NewTicker(backend.tick)
	defer func() {
		ticker.Stop()
		backend.session.Close()
		backend.log.Info("Instrument backend stopped.")
		backend.broker.Shutdown()
	}()

	backend.log.Info("Instrument backend started.")

	for {
		select {
		case <-backend.ctx.Done():
			return

		case request := <-backend.requests:
			request()

		case <-backend.redraw:
			backend.poll()

		case <-ticker.C:
			backend.poll()
		}
	}
}

// requestRedraw is called by the reader goroutine after every sample
func (backend *Backend) requestRedraw() {
	select {
	case backend.redraw <- struct{}{}:
	default:
	}
}

func (backend *Backend) poll() {
	samples := backend.session.Poll()
	if len(samples) > 0 {
		backend.broadcastMessage(protocol.Message{Samples: samples})
	}

	state := backend.session.State()
	if len(samples) > 0 || state != backend.lastState {
		backend.broadcastStatusUpdate()
	}
}

func (backend *Backend) broadcastMessage(msg protocol.Message) {
	backend.broker.TryPub(msg, brokerTopicBroadcast)
}

func (backend *Backend) broadcastStatusUpdate() {
	status := backend.status()
	backend.lastState = status.State
	backend.broadcastMessage(protocol.Message{Status: &status})
}

func (backend *Backend) status() protocol.Status {
	status := protocol.Status{
		State:     backend.session.State(),
		WorkPoint: backend.workPoints.Selected(),
		Elapsed:   backend.session.Elapsed().Seconds(),
		Host:      backend.host,
	}
	if port := backend.session.Port(); port != "" {
		status.Port = util.PointerTo(port)
	}
	if latest, ok := backend.session.Latest(); ok {
		status.Latest = &latest
	}
	if fault := backend.session.Fault(); fault != nil {
		status.Fault = util.PointerTo(fault.Error())
	}
	return status
}

// do runs f on the Run goroutine and waits for it to finish.
func (backend *Backend) do(f func()) error {
	done := make(chan struct{})
	request := func() {
		defer close(done)
		f()
	}

	select {
	case backend.requests <- request:
	case <-backend.ctx.Done():
		return ErrShutdown
	}

	<-done
	return nil
}

// COMMANDS

func (backend *Backend) GetStatus() protocol.Status {
	var status protocol.Status
	err := backend.do(func() {
		status = backend.status()
	})
	if err != nil {
		return protocol.Status{State: acquisition.Idle, Host: backend.host}
	}
	return status
}

func (backend *Backend) ListPorts() (protocol.Ports, error) {
	ports, err := backend.ports.ListPorts()
	if err != nil {
		return protocol.Ports{}, err
	}
	return protocol.Ports{Ports: ports, Info: device.Summary(ports)}, nil
}

// Start begins a measurement on port, switching to workPoint if one is given
// and the port could be opened.
func (backend *Backend) Start(port string, workPoint string) error {
	var err error
	doErr := backend.do(func() {
		if port == "" {
			err = device.ErrNoPort
			return
		}
		if workPoint != "" {
			if err = backend.workPoints.Check(workPoint); err != nil {
				return
			}
		}

		// pick up what a previous measurement left behind before history is reset
		backend.poll()

		err = backend.session.Start(port, backend.frameSize, backend.decoder)
		if err != nil {
			return
		}
		// a failed start leaves the selection alone
		if workPoint != "" {
			backend.workPoints.Select(workPoint)
		}
		backend.log.WithField("workPoint", backend.workPoints.Selected()).Info("Measurement requested by client.")
		backend.broadcastStatusUpdate()
	})
	if doErr != nil {
		return doErr
	}
	return err
}

func (backend *Backend) Stop() {
	backend.do(func() {
		backend.session.Stop()
		backend.broadcastStatusUpdate()
	})
}

func (backend *Backend) SelectWorkPoint(workPoint string) error {
	var err error
	doErr := backend.do(func() {
		err = backend.workPoints.Select(workPoint)
		if err == nil {
			backend.broadcastStatusUpdate()
		}
	})
	if doErr != nil {
		return doErr
	}
	return err
}
