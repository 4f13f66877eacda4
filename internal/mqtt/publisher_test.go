package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"gnssd/internal/gnss"
)

type fakeToken struct{ err error }

func (t fakeToken) Wait() bool                     { return true }
func (t fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Error() error                   { return t.err }

func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type record struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	connectErr   error
	publishErr   error
	pubs         []record
	notify       chan record
	disconnected bool
}

func (c *fakeClient) Connect() paho.Token { return fakeToken{err: c.connectErr} }

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	r := record{topic: topic, qos: qos, retained: retained, payload: append([]byte(nil), payload.([]byte)...)}
	c.pubs = append(c.pubs, r)
	if c.notify != nil {
		select {
		case c.notify <- r:
		default:
		}
	}
	return fakeToken{err: c.publishErr}
}

func (c *fakeClient) Disconnect(quiesce uint) { c.disconnected = true }

func TestNewPublisher_ConnectFailure(t *testing.T) {
	wantErr := errors.New("refused")
	_, err := newPublisher("gnssd/status", &fakeClient{connectErr: wantErr})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err=%v want %v", err, wantErr)
	}
}

func TestPublish_RetainedJSONOnTopic(t *testing.T) {
	fc := &fakeClient{}
	p, err := newPublisher("gnssd/status", fc)
	if err != nil {
		t.Fatalf("newPublisher() error: %v", err)
	}

	st := gnss.Status{
		State:      "sleeping",
		Connected:  true,
		HasLock:    true,
		Model:      "ublox",
		UpdatedUTC: "2025-06-01T12:00:00Z",
	}
	if err := p.publish(st); err != nil {
		t.Fatalf("publish() error: %v", err)
	}
	if len(fc.pubs) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(fc.pubs))
	}
	r := fc.pubs[0]
	if r.topic != "gnssd/status" || r.qos != 0 || !r.retained {
		t.Fatalf("publish=%q qos=%d retained=%v", r.topic, r.qos, r.retained)
	}
	var got gnss.Status
	if err := json.Unmarshal(r.payload, &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got.State != "sleeping" || !got.HasLock || got.Model != "ublox" {
		t.Fatalf("round-tripped status=%+v", got)
	}
}

func TestPublish_TokenError(t *testing.T) {
	wantErr := errors.New("broker gone")
	fc := &fakeClient{publishErr: wantErr}
	p, err := newPublisher("gnssd/status", fc)
	if err != nil {
		t.Fatalf("newPublisher() error: %v", err)
	}
	if err := p.publish(gnss.Status{State: "probing"}); !errors.Is(err, wantErr) {
		t.Fatalf("err=%v want %v", err, wantErr)
	}
}

func TestRun_PublishesAndSurvivesErrors(t *testing.T) {
	notify := make(chan record, 4)
	fc := &fakeClient{notify: notify, publishErr: errors.New("broker gone")}
	p, err := newPublisher("gnssd/status", fc)
	if err != nil {
		t.Fatalf("newPublisher() error: %v", err)
	}

	bc := gnss.NewBroadcaster()
	bc.Publish(gnss.Status{State: "probing"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, bc) }()

	select {
	case r := <-notify:
		if r.topic != "gnssd/status" {
			t.Fatalf("topic=%q", r.topic)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no publish within 2s")
	}

	// The first publish failed at the broker; the loop must keep
	// consuming updates anyway.
	bc.Publish(gnss.Status{State: "active-searching"})
	select {
	case <-notify:
	case <-time.After(2 * time.Second):
		t.Fatal("loop stopped after a publish error")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error: %v", err)
	}
}

func TestClose_Disconnects(t *testing.T) {
	fc := &fakeClient{}
	p, err := newPublisher("gnssd/status", fc)
	if err != nil {
		t.Fatalf("newPublisher() error: %v", err)
	}
	p.Close()
	if !fc.disconnected {
		t.Fatal("expected Disconnect to be called")
	}
}
