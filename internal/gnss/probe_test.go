package gnss

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"

	"gnssd/internal/ubx"
)

func monVerResponse() []byte {
	payload := make([]byte, 40)
	copy(payload, "ROM CORE 3.01 (107888)")
	copy(payload[30:], "00080000")
	return frameFor(ubx.ClassMON, ubx.IDMonVer, payload)
}

func isMonVerPoll(data []byte) bool {
	return bytes.HasPrefix(data, []byte{ubx.Sync1, ubx.Sync2, ubx.ClassMON, ubx.IDMonVer, 0x00, 0x00})
}

// scriptUblox answers the binary version poll, but only at the given baud
// rate, the way real hardware goes silent off its configured rate.
func scriptUblox(atBaud int) func(p *fakePort, data []byte) {
	return func(p *fakePort, data []byte) {
		if p.currentBaud() == atBaud && isMonVerPoll(data) {
			p.push(monVerResponse())
		}
	}
}

func runProber(t *testing.T, p *prober) (Model, int, int) {
	t.Helper()
	for steps := 1; steps <= 2*probePasses*len(probeBauds); steps++ {
		model, idx, done := p.step()
		if done {
			return model, idx, steps
		}
	}
	t.Fatal("prober never finished")
	return ModelUnknown, 0, 0
}

func TestProberFindsReceiverAtThirdCandidate(t *testing.T) {
	clock := newFakeClock()
	clock.install(t)
	port := newFakePort(clock)
	port.onWrite = scriptUblox(probeBauds[2])
	prb := newProber(newExchange(port, 0))

	model, idx, steps := runProber(t, prb)
	if model != ModelUblox {
		t.Fatalf("model = %s, want %s", model, ModelUblox)
	}
	if idx != 2 {
		t.Fatalf("classified at ladder index %d, want 2", idx)
	}
	if steps != 3 {
		t.Fatalf("took %d steps, want 3 (one per candidate)", steps)
	}
	if diff := cmp.Diff([]int{9600, 4800, 38400}, port.bauds); diff != "" {
		t.Fatalf("baud attempts mismatch (-want +got):\n%s", diff)
	}
}

func TestProberWalksWholeLadderTwiceWhenSilent(t *testing.T) {
	clock := newFakeClock()
	clock.install(t)
	port := newFakePort(clock)
	prb := newProber(newExchange(port, 0))

	model, _, steps := runProber(t, prb)
	if model != ModelUnknown {
		t.Fatalf("model = %s, want %s", model, ModelUnknown)
	}
	if steps != probePasses*len(probeBauds) {
		t.Fatalf("took %d steps, want %d", steps, probePasses*len(probeBauds))
	}
	want := []int{
		9600, 4800, 38400, 57600, 115200, 9600,
		9600, 4800, 38400, 57600, 115200, 9600,
	}
	if diff := cmp.Diff(want, port.bauds); diff != "" {
		t.Fatalf("ladder order mismatch (-want +got):\n%s", diff)
	}
}

func TestProberTriesBinaryBeforeText(t *testing.T) {
	clock := newFakeClock()
	clock.install(t)
	port := newFakePort(clock)
	port.onWrite = func(p *fakePort, data []byte) {
		if bytes.HasPrefix(data, []byte("$PMTK605")) {
			p.pushString("$PMTK705,AXN_3.80,0000,,1.0*02\r\n")
		}
	}
	prb := newProber(newExchange(port, 0))

	model, idx, steps := runProber(t, prb)
	if model != ModelMTK {
		t.Fatalf("model = %s, want %s", model, ModelMTK)
	}
	if idx != 0 || steps != 1 {
		t.Fatalf("classified at index %d after %d steps, want first candidate", idx, steps)
	}

	writes := port.allWrites()
	if len(writes) != 3 {
		t.Fatalf("got %d writes, want 3 (version poll, device query, firmware query)", len(writes))
	}
	if !isMonVerPoll(writes[0]) {
		t.Fatalf("first write = %x, want the binary version poll", writes[0])
	}
	if got := string(writes[1]); got != "$PDTINFO\r\n" {
		t.Fatalf("second write = %q, want the device query", got)
	}
	if got := string(writes[2]); got != "$PMTK605*31\r\n" {
		t.Fatalf("third write = %q, want the firmware query", got)
	}
}

func TestProberClassifiesUFirebird(t *testing.T) {
	clock := newFakeClock()
	clock.install(t)
	port := newFakePort(clock)
	port.onWrite = func(p *fakePort, data []byte) {
		if bytes.HasPrefix(data, []byte("$PDTINFO")) {
			p.pushString("$PDTINFO,UC6580,R4.3.0.0Build1234,A1*26\r\n")
		}
	}
	prb := newProber(newExchange(port, 0))

	model, _, _ := runProber(t, prb)
	if model != ModelUC6850 {
		t.Fatalf("model = %s, want %s", model, ModelUC6850)
	}
}

func TestMonVerStringsTrimsPadding(t *testing.T) {
	payload := make([]byte, 70)
	copy(payload, "EXT CORE 4.04 (7f89f7)")
	copy(payload[30:], "00190000")
	copy(payload[40:], "SBAS;GLO")
	sw, hw := monVerStrings(payload)
	if sw != "EXT CORE 4.04 (7f89f7)" || hw != "00190000" {
		t.Fatalf("monVerStrings = %q, %q", sw, hw)
	}
}
