package acquisition

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// stand-in for the read timeout of a real port
const fakeReadTimeout = 2 * time.Millisecond

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

// readResult is one scripted answer of a fakePort. An empty result simulates
// a read timeout.
type readResult struct {
	data []byte
	err  error
}

func chunk(data []byte) readResult {
	return readResult{data: data}
}

func idle() readResult {
	return readResult{}
}

func failure(err error) readResult {
	return readResult{err: err}
}

// frame builds a frame whose first byte is value*10, see tenthsDecoder.
func frame(size int, tenths byte) []byte {
	buf := make([]byte, size)
	buf[0] = tenths
	return buf
}

var tenthsDecoder = DecoderFunc(func(frame []byte) (float64, error) {
	return float64(frame[0]) / 10, nil
})

// fakePort plays back a script of reads, then times out forever.
type fakePort struct {
	mu     sync.Mutex
	script []readResult
	reads  int

	closeOnce sync.Once
	closed    chan struct{}
	onClose   func()
}

func newFakePort(script ...readResult) *fakePort {
	return &fakePort{
		script: script,
		closed: make(chan struct{}),
	}
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	p.reads++
	if len(p.script) == 0 {
		p.mu.Unlock()
		time.Sleep(fakeReadTimeout)
		return 0, nil
	}
	next := p.script[0]
	if next.err != nil {
		p.script = p.script[1:]
		p.mu.Unlock()
		return 0, next.err
	}
	n := copy(b, next.data)
	if n < len(next.data) {
		p.script[0].data = next.data[n:]
	} else {
		p.script = p.script[1:]
	}
	p.mu.Unlock()

	if n == 0 {
		time.Sleep(fakeReadTimeout)
	}
	return n, nil
}

func (p *fakePort) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
		if p.onClose != nil {
			p.onClose()
		}
	})
	return nil
}

func (p *fakePort) readCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reads
}

func (p *fakePort) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

func (p *fakePort) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-p.closed:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for port to be closed")
	}
}

var errNoSuchPort = errors.New("no such port")

// fakeOpener hands out scripted ports by name and tracks how many are open.
type fakeOpener struct {
	mu      sync.Mutex
	ports   map[string][]*fakePort
	errs    map[string]error
	opened  int
	open    int
	maxOpen int
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{
		ports: map[string][]*fakePort{},
		errs:  map[string]error{},
	}
}

// add queues a port to be returned by the next open of name.
func (o *fakeOpener) add(name string, port *fakePort) *fakePort {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ports[name] = append(o.ports[name], port)
	return port
}

func (o *fakeOpener) fail(name string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs[name] = err
}

func (o *fakeOpener) Open(name string) (Port, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err, ok := o.errs[name]; ok {
		return nil, err
	}
	queued := o.ports[name]
	if len(queued) == 0 {
		return nil, errNoSuchPort
	}
	port := queued[0]
	o.ports[name] = queued[1:]

	o.opened++
	o.open++
	if o.open > o.maxOpen {
		o.maxOpen = o.open
	}
	port.onClose = func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.open--
	}
	return port, nil
}

func (o *fakeOpener) counts() (opened, open, maxOpen int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened, o.open, o.maxOpen
}

// steppingClock returns the scripted instants one per call, then keeps
// returning the last one.
type steppingClock struct {
	mu    sync.Mutex
	times []time.Time
	next  int
}

func newSteppingClock(base time.Time, offsets ...time.Duration) *steppingClock {
	times := make([]time.Time, len(offsets))
	for i, offset := range offsets {
		times[i] = base.Add(offset)
	}
	return &steppingClock{times: times}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.next
	if i >= len(c.times) {
		i = len(c.times) - 1
	}
	c.next++
	return c.times[i]
}
