package gnss

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"gnssd/internal/ubx"
)

// fakeClock drives the package time seams so waits resolve instantly and
// deterministically.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// install points the package clock and sleep at the fake for the duration
// of the test.
func (c *fakeClock) install(t *testing.T) {
	t.Helper()
	origNow, origSleep := timeNow, sleep
	timeNow = c.Now
	sleep = func(d time.Duration) { c.Advance(d) }
	t.Cleanup(func() {
		timeNow = origNow
		sleep = origSleep
	})
}

// fakePort scripts the receiver side of the channel. Reads hand out queued
// chunks; an empty queue behaves like the real port's read timeout, which
// is to advance the clock one pollInterval and return nothing.
type fakePort struct {
	mu      sync.Mutex
	clock   *fakeClock
	queue   [][]byte
	writes  [][]byte
	bauds   []int
	baud    int
	flushes int
	closed  bool
	readErr error

	// onWrite, when set, scripts request/response behavior.
	onWrite func(p *fakePort, data []byte)
}

func newFakePort(clock *fakeClock) *fakePort {
	return &fakePort{clock: clock, baud: probeBauds[0]}
}

func (p *fakePort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	if p.readErr != nil {
		err := p.readErr
		p.mu.Unlock()
		return 0, err
	}
	if len(p.queue) == 0 {
		p.mu.Unlock()
		p.clock.Advance(pollInterval)
		return 0, nil
	}
	chunk := p.queue[0]
	n := copy(buf, chunk)
	if n < len(chunk) {
		p.queue[0] = chunk[n:]
	} else {
		p.queue = p.queue[1:]
	}
	p.mu.Unlock()
	return n, nil
}

func (p *fakePort) Write(data []byte) (int, error) {
	p.mu.Lock()
	cp := append([]byte(nil), data...)
	p.writes = append(p.writes, cp)
	fn := p.onWrite
	p.mu.Unlock()
	if fn != nil {
		fn(p, cp)
	}
	return len(data), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePort) SetBaud(baud int) error {
	p.mu.Lock()
	p.baud = baud
	p.bauds = append(p.bauds, baud)
	p.mu.Unlock()
	return nil
}

func (p *fakePort) FlushInput() error {
	p.mu.Lock()
	p.queue = nil
	p.flushes++
	p.mu.Unlock()
	return nil
}

func (p *fakePort) push(chunks ...[]byte) {
	p.mu.Lock()
	for _, c := range chunks {
		p.queue = append(p.queue, append([]byte(nil), c...))
	}
	p.mu.Unlock()
}

func (p *fakePort) pushString(s string) { p.push([]byte(s)) }

func (p *fakePort) currentBaud() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.baud
}

func (p *fakePort) allWrites() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.writes))
	copy(out, p.writes)
	return out
}

// Frame builders for scripted responses. Build reuses the codec scratch
// buffer, so each result is copied out.
func frameFor(class, id byte, payload []byte) []byte {
	var c ubx.Codec
	return append([]byte(nil), c.Build(class, id, payload)...)
}

func ackFor(cmdClass, cmdID byte) []byte {
	return frameFor(ubx.ClassACK, ubx.IDAckAck, []byte{cmdClass, cmdID})
}

func nakFor(cmdClass, cmdID byte) []byte {
	return frameFor(ubx.ClassACK, ubx.IDAckNak, []byte{cmdClass, cmdID})
}

func TestAwaitAckMatchesCommand(t *testing.T) {
	clock := newFakeClock()
	clock.install(t)
	port := newFakePort(clock)
	e := newExchange(port, 0)

	port.push(ackFor(ubx.ClassCFG, ubx.IDCfgRate))
	if r := e.awaitAck(ubx.ClassCFG, ubx.IDCfgRate, time.Second); r != ResponseOK {
		t.Fatalf("awaitAck = %s, want %s", r, ResponseOK)
	}
}

func TestAwaitAckReportsNak(t *testing.T) {
	clock := newFakeClock()
	clock.install(t)
	port := newFakePort(clock)
	e := newExchange(port, 0)

	port.push(nakFor(ubx.ClassCFG, ubx.IDCfgGnss))
	if r := e.awaitAck(ubx.ClassCFG, ubx.IDCfgGnss, time.Second); r != ResponseNAK {
		t.Fatalf("awaitAck = %s, want %s", r, ResponseNAK)
	}
}

func TestAwaitAckIgnoresAcksForOtherCommands(t *testing.T) {
	clock := newFakeClock()
	clock.install(t)
	port := newFakePort(clock)
	e := newExchange(port, 0)

	// An ack for a different command and an unrelated frame arrive first;
	// neither may satisfy the wait.
	port.push(
		ackFor(ubx.ClassCFG, ubx.IDCfgMsg),
		frameFor(ubx.ClassMON, ubx.IDMonVer, make([]byte, 40)),
		ackFor(ubx.ClassCFG, ubx.IDCfgRate),
	)
	if r := e.awaitAck(ubx.ClassCFG, ubx.IDCfgRate, time.Second); r != ResponseOK {
		t.Fatalf("awaitAck = %s, want %s", r, ResponseOK)
	}
}

func TestAwaitAckTimeoutIsBounded(t *testing.T) {
	clock := newFakeClock()
	clock.install(t)
	port := newFakePort(clock)
	e := newExchange(port, 0)

	const deadline = 300 * time.Millisecond
	start := clock.Now()
	if r := e.awaitAck(ubx.ClassCFG, ubx.IDCfgRate, deadline); r != ResponseNone {
		t.Fatalf("awaitAck = %s, want %s", r, ResponseNone)
	}
	elapsed := clock.Now().Sub(start)
	if elapsed < deadline || elapsed >= deadline+pollInterval {
		t.Fatalf("silent wait resolved after %s, want within [%s, %s)",
			elapsed, deadline, deadline+pollInterval)
	}
}

func TestAwaitAckTimeoutBoundedOnDeadPort(t *testing.T) {
	clock := newFakeClock()
	clock.install(t)
	port := newFakePort(clock)
	port.readErr = errors.New("device gone")
	e := newExchange(port, 0)

	const deadline = 300 * time.Millisecond
	start := clock.Now()
	if r := e.awaitAck(ubx.ClassCFG, ubx.IDCfgRate, deadline); r != ResponseNone {
		t.Fatalf("awaitAck = %s, want %s", r, ResponseNone)
	}
	elapsed := clock.Now().Sub(start)
	if elapsed < deadline || elapsed >= deadline+pollInterval {
		t.Fatalf("dead-port wait resolved after %s, want within [%s, %s)",
			elapsed, deadline, deadline+pollInterval)
	}
}

func TestAwaitAckAbortsOnFrameErrors(t *testing.T) {
	clock := newFakeClock()
	clock.install(t)
	port := newFakePort(clock)
	e := newExchange(port, 3)

	corrupt := func() []byte {
		f := ackFor(ubx.ClassCFG, ubx.IDCfgRate)
		f[len(f)-2] ^= 0xFF // break ckA
		return f
	}
	port.push(corrupt(), corrupt(), corrupt(), ackFor(ubx.ClassCFG, ubx.IDCfgRate))
	if r := e.awaitAck(ubx.ClassCFG, ubx.IDCfgRate, time.Second); r != ResponseFrameErrors {
		t.Fatalf("awaitAck = %s, want %s", r, ResponseFrameErrors)
	}
}

func TestAwaitAckResyncsThroughLineNoise(t *testing.T) {
	clock := newFakeClock()
	clock.install(t)
	port := newFakePort(clock)
	e := newExchange(port, 0)

	port.pushString("$GPTXT,01,01,02,u-blox AG - www.u-blox.com*50\r\n")
	port.push([]byte{0xB5, 0x00, 0x7F}) // false frame start
	port.push(ackFor(ubx.ClassCFG, ubx.IDCfgRate))
	if r := e.awaitAck(ubx.ClassCFG, ubx.IDCfgRate, time.Second); r != ResponseOK {
		t.Fatalf("awaitAck = %s, want %s", r, ResponseOK)
	}
	if e.scan.Errors != 0 {
		t.Fatalf("line noise counted as %d malformed frames, want 0", e.scan.Errors)
	}
}

func TestAwaitFrameReturnsPayloadCopy(t *testing.T) {
	clock := newFakeClock()
	clock.install(t)
	port := newFakePort(clock)
	e := newExchange(port, 0)

	payload := make([]byte, 40)
	copy(payload, "ROM CORE 3.01 (107888)")
	copy(payload[30:], "00080000")
	port.push(frameFor(ubx.ClassMON, ubx.IDMonVer, payload))

	got, r := e.awaitFrame(ubx.ClassMON, ubx.IDMonVer, time.Second)
	if r != ResponseOK {
		t.Fatalf("awaitFrame = %s, want %s", r, ResponseOK)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch:\n got %x\nwant %x", got, payload)
	}
}

func TestAwaitTextMatchesAcrossChunks(t *testing.T) {
	clock := newFakeClock()
	clock.install(t)
	port := newFakePort(clock)
	e := newExchange(port, 0)

	// Reply split mid-line, preceded by unrelated chatter.
	port.pushString("$GPGSV,1,1,00*79\r\n$PMTK705,AXN_3.8")
	port.pushString("0,0000,,1.0*02\r\n")
	if r := e.awaitText("AXN", time.Second); r != ResponseOK {
		t.Fatalf("awaitText = %s, want %s", r, ResponseOK)
	}
}

func TestAwaitTextTimeoutIsBounded(t *testing.T) {
	clock := newFakeClock()
	clock.install(t)
	port := newFakePort(clock)
	e := newExchange(port, 0)

	port.pushString("$GPGGA,,,,,,0,00,99.99,,,,,,*48\r\n")
	const deadline = 500 * time.Millisecond
	start := clock.Now()
	if r := e.awaitText("UC6580", deadline); r != ResponseNone {
		t.Fatalf("awaitText = %s, want %s", r, ResponseNone)
	}
	elapsed := clock.Now().Sub(start)
	if elapsed < deadline || elapsed >= deadline+pollInterval {
		t.Fatalf("text wait resolved after %s, want within [%s, %s)",
			elapsed, deadline, deadline+pollInterval)
	}
}
