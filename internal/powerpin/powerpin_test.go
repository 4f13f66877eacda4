package powerpin

import (
	"errors"
	"testing"
)

type fakeLine struct {
	values []int
	closed bool
}

func (f *fakeLine) SetValue(v int) error {
	f.values = append(f.values, v)
	return nil
}

func (f *fakeLine) Close() error {
	f.closed = true
	return nil
}

func swapBackend(t *testing.T, fn func(bcm int) (driver, error)) {
	t.Helper()
	orig := openLineFn
	openLineFn = fn
	t.Cleanup(func() { openLineFn = orig })
}

func TestPinDrivesLine(t *testing.T) {
	fake := &fakeLine{}
	swapBackend(t, func(bcm int) (driver, error) {
		if bcm != 4 {
			t.Fatalf("opened gpio %d, want 4", bcm)
		}
		return fake, nil
	})

	pin, err := Open(4)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := pin.Set(true); err != nil {
		t.Fatalf("set on: %v", err)
	}
	if err := pin.Set(false); err != nil {
		t.Fatalf("set off: %v", err)
	}
	if err := pin.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if len(fake.values) != 2 || fake.values[0] != 1 || fake.values[1] != 0 {
		t.Fatalf("line values = %v, want [1 0]", fake.values)
	}
	if !fake.closed {
		t.Fatal("line not released on close")
	}
}

func TestOpenPropagatesBackendError(t *testing.T) {
	boom := errors.New("line busy")
	swapBackend(t, func(int) (driver, error) { return nil, boom })

	if _, err := Open(4); !errors.Is(err, boom) {
		t.Fatalf("open error = %v, want %v", err, boom)
	}
}
