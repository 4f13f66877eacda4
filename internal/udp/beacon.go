// Package udp repeats position fixes over UDP as NMEA sentences, for
// chartplotters and logging boxes listening on the local network.
package udp

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"gnssd/internal/gnss"
	"gnssd/internal/nmea0183"
)

var timeNow = time.Now

// udpConn is the part of *net.UDPConn the beacon uses.
type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type Beacon struct {
	dest     string
	interval time.Duration
	conn     udpConn
	lastSend time.Time
}

// NewBeacon dials the destination once; a connected UDP socket needs no
// per-send addressing. interval is the minimum gap between reports;
// zero or negative means every status update goes out.
func NewBeacon(dest string, interval time.Duration) (*Beacon, error) {
	resolve := net.ResolveUDPAddr
	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	}
	return newBeacon(dest, interval, resolve, dial)
}

func newBeacon(
	dest string,
	interval time.Duration,
	resolve func(network, address string) (*net.UDPAddr, error),
	dial func(network string, laddr, raddr *net.UDPAddr) (udpConn, error),
) (*Beacon, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}

	// DialUDP selects a suitable local address automatically.
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}

	return &Beacon{
		dest:     dest,
		interval: interval,
		conn:     conn,
	}, nil
}

// Run consumes status snapshots until the context ends. Snapshots
// without a usable fix are skipped; send failures are logged, not
// fatal.
func (b *Beacon) Run(ctx context.Context, bc *gnss.Broadcaster) error {
	id, ch := bc.Subscribe(8)
	defer bc.Unsubscribe(id)
	for {
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-ch:
			if !ok {
				return nil
			}
			if err := b.relay(st); err != nil {
				log.Printf("udp: send to %s: %v", b.dest, err)
			}
		}
	}
}

// relay sends one RMC+GGA report if the snapshot holds a lock and the
// rate limit allows it.
func (b *Beacon) relay(st gnss.Status) error {
	if !st.HasLock || st.Fix == nil {
		return nil
	}
	now := timeNow()
	if !b.lastSend.IsZero() && now.Sub(b.lastSend) < b.interval {
		return nil
	}
	f := st.Fix
	payload := nmea0183.RMC(f.Time, f.Lat, f.Lon, f.SpeedKt, f.CourseDeg, true) +
		nmea0183.GGA(f.Time, f.Lat, f.Lon, 1, f.Satellites, f.HDOP, f.AltM)
	if err := b.Send([]byte(payload)); err != nil {
		return err
	}
	b.lastSend = now
	return nil
}

func (b *Beacon) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	_, err := b.conn.Write(payload)
	return err
}

func (b *Beacon) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}
