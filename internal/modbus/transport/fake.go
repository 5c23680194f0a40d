package transport

import (
	"errors"
	"sync"
)

// ErrFakeClosed is returned by Fake operations after Close.
var ErrFakeClosed = errors.New("transport: fake port closed")

// Responder computes a response frame (or an error) for a given request
// frame, letting tests script CRC errors, timeouts (via ErrTimeout), and
// partial responses.
type Responder func(req []byte) (resp []byte, err error)

// ErrTimeout is returned by a Responder to simulate a read timeout.
var ErrTimeout = errors.New("transport: fake read timeout")

// Fake is an in-memory Port for controller unit tests (scenario
// 4: "instrument Modbus transport to fail the first two writes with CRC
// error, succeed thereafter").
type Fake struct {
	mu         sync.Mutex
	closed     bool
	respond    Responder
	writes     [][]byte
	openState  bool
	pending    []byte
	pendingErr error
}

// NewFake creates a Fake transport driven by respond.
func NewFake(respond Responder) *Fake {
	return &Fake{respond: respond, openState: true}
}

// Write records the request and queues the scripted response for the
// following Read.
func (f *Fake) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, ErrFakeClosed
	}
	req := append([]byte{}, p...)
	f.writes = append(f.writes, req)
	resp, err := f.respond(req)
	if err != nil {
		f.pending = nil
		f.pendingErr = err
		return len(p), nil
	}
	f.pending = resp
	f.pendingErr = nil
	return len(p), nil
}

func (f *Fake) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, ErrFakeClosed
	}
	if f.pendingErr != nil {
		err := f.pendingErr
		f.pendingErr = nil
		return 0, err
	}
	n := copy(p, f.pending)
	f.pending = f.pending[n:]
	return n, nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.openState = false
	return nil
}

// IsOpen reports whether Close has not been called, for health-supervisor
// tests that simulate port loss.
func (f *Fake) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openState
}

// Writes returns every request frame seen so far, for assertions.
func (f *Fake) Writes() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte{}, f.writes...)
}
