// Package udp sends the telemetry snapshot as JSON datagrams so LAN clients
// (a laptop map, a logger) can follow the vehicle without polling HTTP.
package udp

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"time"
)

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type (
	resolveFunc func(network, address string) (*net.UDPAddr, error)
	dialFunc    func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)
)

type Broadcaster struct {
	dest string
	conn udpConn
}

func NewBroadcaster(dest string) (*Broadcaster, error) {
	return newBroadcaster(dest, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	})
}

func newBroadcaster(dest string, resolve resolveFunc, dial dialFunc) (*Broadcaster, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}
	return &Broadcaster{dest: dest, conn: conn}, nil
}

func (b *Broadcaster) Dest() string { return b.dest }

func (b *Broadcaster) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	_, err := b.conn.Write(payload)
	return err
}

func (b *Broadcaster) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}

// Run sends source() as one JSON datagram per interval until ctx ends.
// Send failures are logged once per outage.
func (b *Broadcaster) Run(ctx context.Context, interval time.Duration, source func() any) error {
	if interval <= 0 {
		interval = time.Second
	}
	log.Printf("udp broadcast enabled dest=%s interval=%s", b.dest, interval)
	t := time.NewTicker(interval)
	defer t.Stop()
	failing := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		payload, err := json.Marshal(source())
		if err == nil {
			err = b.Send(payload)
		}
		switch {
		case err != nil && !failing:
			log.Printf("udp broadcast failed dest=%s: %v", b.dest, err)
			failing = true
		case err == nil && failing:
			log.Printf("udp broadcast recovered dest=%s", b.dest)
			failing = false
		}
	}
}
