package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/scalebots/sharder/gateway"
)

// fakeBroker implements brokerClient in memory.
type fakeBroker struct {
	mu      sync.Mutex
	pushed  map[string][][]byte
	pushErr error

	popQ chan []string
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		pushed: make(map[string][][]byte),
		popQ:   make(chan []string, 16),
	}
}

func (f *fakeBroker) BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd {
	select {
	case reply := <-f.popQ:
		return redis.NewStringSliceResult(reply, nil)
	case <-ctx.Done():
		return redis.NewStringSliceResult(nil, ctx.Err())
	}
}

func (f *fakeBroker) RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.pushErr != nil {
		return redis.NewIntResult(0, f.pushErr)
	}

	for _, v := range values {
		record, _ := v.([]byte)
		f.pushed[key] = append(f.pushed[key], append([]byte(nil), record...))
	}

	return redis.NewIntResult(int64(len(f.pushed[key])), nil)
}

func (f *fakeBroker) records(key string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([][]byte, len(f.pushed[key]))
	copy(out, f.pushed[key])

	return out
}

func (f *fakeBroker) setPushErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pushErr = err
}

// fakeShard implements ShardConn without touching the network. Every
// Autoreconnect swaps in a fresh message stream, mirroring the real shard.
type fakeShard struct {
	mu sync.Mutex

	messages chan gateway.Frame
	errs     chan error

	sessionID  string
	opens      int
	failOpens  int
	processed  []gateway.Event
	sent       []gateway.Frame
	processErr error
	sendErr    error
	closed     bool
}

func newFakeShard() *fakeShard {
	return &fakeShard{
		messages: make(chan gateway.Frame, 16),
		errs:     make(chan error, 1),
	}
}

func (f *fakeShard) Messages() <-chan gateway.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.messages
}

func (f *fakeShard) Errors() <-chan error {
	return f.errs
}

func (f *fakeShard) Process(e *gateway.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.processed = append(f.processed, *e)

	return f.processErr
}

func (f *fakeShard) Send(ctx context.Context, fr gateway.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sendErr != nil {
		err := f.sendErr
		f.sendErr = nil

		return err
	}

	f.sent = append(f.sent, fr)

	return nil
}

func (f *fakeShard) Autoreconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.opens++

	if f.failOpens > 0 {
		f.failOpens--

		return errors.New("dial failed")
	}

	f.messages = make(chan gateway.Frame, 16)

	return nil
}

func (f *fakeShard) SessionID() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.sessionID
}

func (f *fakeShard) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true

	return nil
}

// deliver pushes a frame into the current message stream.
func (f *fakeShard) deliver(fr gateway.Frame) {
	f.mu.Lock()
	ch := f.messages
	f.mu.Unlock()

	ch <- fr
}

// endStream closes the current message stream, as the reader does when a
// connection dies.
func (f *fakeShard) endStream() {
	f.mu.Lock()
	ch := f.messages
	f.mu.Unlock()

	close(ch)
}

func (f *fakeShard) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.opens
}

func (f *fakeShard) sentFrames() []gateway.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]gateway.Frame, len(f.sent))
	copy(out, f.sent)

	return out
}

func (f *fakeShard) processedEvents() []gateway.Event {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]gateway.Event, len(f.processed))
	copy(out, f.processed)

	return out
}

func (f *fakeShard) setSession(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sessionID = id
}

func (f *fakeShard) setProcessErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.processErr = err
}

func (f *fakeShard) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closed
}
