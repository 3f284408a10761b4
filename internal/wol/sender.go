/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package wol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"

	"github.com/go-logr/logr"
	"golang.org/x/sys/unix"
)

// DefaultBroadcastAddress is the limited-broadcast address magic packets are sent to
const DefaultBroadcastAddress = "255.255.255.255"

// ErrNetwork is matched by every error returned from SendMagicPacket
var ErrNetwork = errors.New("wake-on-lan network error")

// NetworkError describes the step of a magic packet transmission that failed
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("wake-on-lan %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Is reports ErrNetwork as a match so callers need not know the failing step
func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}

// Sender transmits magic packets as single UDP broadcast datagrams.
// It keeps no state between sends: each call binds, sends on and closes
// its own ephemeral socket.
//
// A nil error only means the datagram left the local interface. WOL has no
// acknowledgment, so it says nothing about whether the target woke up.
type Sender struct {
	target string
	log    logr.Logger
}

// NewSender creates a sender targeting address:port. Empty or zero values
// fall back to 255.255.255.255 and port 9.
func NewSender(address string, port int, log logr.Logger) *Sender {
	if address == "" {
		address = DefaultBroadcastAddress
	}
	if port <= 0 {
		port = DefaultWOLPort
	}
	return &Sender{
		target: net.JoinHostPort(address, strconv.Itoa(port)),
		log:    log,
	}
}

// Target returns the host:port datagrams are sent to
func (s *Sender) Target() string {
	return s.target
}

// SendMagicPacket sends the magic packet for mac. Failures are not retried.
func (s *Sender) SendMagicPacket(ctx context.Context, mac net.HardwareAddr) error {
	packet, err := NewMagicPacket(mac)
	if err != nil {
		ErrorsTotal.Inc()
		return &NetworkError{Op: "build packet", Err: err}
	}

	if err := s.send(ctx, packet); err != nil {
		ErrorsTotal.Inc()
		return err
	}

	WOLPacketsSentTotal.Inc()
	s.log.Info("Wake-on-LAN packet sent", "mac", mac.String(), "target", s.target)
	return nil
}

func (s *Sender) send(ctx context.Context, packet []byte) error {
	raddr, err := net.ResolveUDPAddr("udp4", s.target)
	if err != nil {
		return &NetworkError{Op: "resolve target", Err: err}
	}

	lc := net.ListenConfig{Control: enableBroadcast}
	conn, err := lc.ListenPacket(ctx, "udp4", ":0")
	if err != nil {
		return &NetworkError{Op: "bind socket", Err: err}
	}
	defer func() {
		if err := conn.Close(); err != nil {
			s.log.Error(err, "Failed to close UDP socket")
		}
	}()

	s.log.V(1).Info("Sending magic packet", "local", conn.LocalAddr().String(), "target", raddr.String(), "size", len(packet))

	n, err := conn.WriteTo(packet, raddr)
	if err != nil {
		return &NetworkError{Op: "send", Err: err}
	}
	if n != len(packet) {
		return &NetworkError{Op: "send", Err: fmt.Errorf("short write: %d of %d bytes", n, len(packet))}
	}
	return nil
}

// enableBroadcast sets SO_BROADCAST before the socket is bound; without it
// the kernel refuses datagrams to 255.255.255.255 with EACCES.
func enableBroadcast(_, _ string, c syscall.RawConn) error {
	var sockErr error
	if err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	}); err != nil {
		return err
	}
	if sockErr != nil {
		return fmt.Errorf("SO_BROADCAST: %w", sockErr)
	}
	return nil
}
