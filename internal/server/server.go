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

// Package server implements the TCP command protocol: every accepted
// connection carries exactly one framed request and one framed response.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/gpillon/wol-registry/internal/protocol"
	"github.com/gpillon/wol-registry/internal/registry"
	"github.com/gpillon/wol-registry/internal/wol"
)

const (
	// DefaultAddress is the default TCP listen address
	DefaultAddress = "0.0.0.0:9876"

	resultSuccess = "success"
	resultFailure = "failure"

	drainLimit   = 64 * 1024
	drainTimeout = 100 * time.Millisecond
)

// ErrListenerFatal is returned by Start and Serve when accepting connections fails
var ErrListenerFatal = errors.New("listener failed")

// WakeSender transmits a magic packet for a hardware address
type WakeSender interface {
	SendMagicPacket(ctx context.Context, mac net.HardwareAddr) error
}

// Server accepts protocol connections and dispatches their requests against
// the registry and the wake sender.
type Server struct {
	address        string
	maxMessageSize int
	registry       *registry.Registry
	sender         WakeSender
	log            logr.Logger

	mu       sync.Mutex
	listener net.Listener
}

// New creates a protocol server. An empty address means DefaultAddress and a
// non-positive maxMessageSize means protocol.DefaultMaxMessageSize.
func New(address string, maxMessageSize int, reg *registry.Registry, sender WakeSender, log logr.Logger) *Server {
	if address == "" {
		address = DefaultAddress
	}
	if maxMessageSize <= 0 {
		maxMessageSize = protocol.DefaultMaxMessageSize
	}
	return &Server{
		address:        address,
		maxMessageSize: maxMessageSize,
		registry:       reg,
		sender:         sender,
		log:            log,
	}
}

// Start binds the TCP listener and serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the accept loop on ln. It returns nil once ctx is cancelled and
// an error wrapping ErrListenerFatal if Accept fails for any other reason.
// Each connection is handled on its own goroutine.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.log.Info("Protocol server listening", "address", ln.Addr().String(), "maxMessageSize", s.maxMessageSize)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.log.Error(err, "Failed to close listener")
		}
	}()

	defer func() {
		s.mu.Lock()
		s.listener = nil
		s.mu.Unlock()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.log.Info("Protocol server stopped")
				return nil
			}
			wol.ErrorsTotal.Inc()
			return fmt.Errorf("%w: %v", ErrListenerFatal, err)
		}

		go s.handleConnection(ctx, conn)
	}
}

// Addr returns the bound listener address, or nil when not serving
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// handleConnection runs Reading → Dispatching → Responding for one connection
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	log := s.log.WithValues("remote", conn.RemoteAddr().String())
	defer func() {
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.V(1).Info("Failed to close connection", "error", err.Error())
		}
	}()

	var resp protocol.Response
	req, err := protocol.ReadRequest(conn, s.maxMessageSize)
	switch {
	case err == nil:
		log.V(1).Info("Request received", "type", req.Type())
		resp = s.Dispatch(ctx, req)
	case errors.Is(err, io.EOF):
		log.V(1).Info("Connection closed before a request was sent")
		return
	case errors.Is(err, protocol.ErrDecode):
		log.Info("Failed to decode request", "error", err.Error())
		wol.RequestsTotal.WithLabelValues("invalid", resultFailure).Inc()
		resp = protocol.Failed(protocol.MsgInvalidFormat)
		if errors.Is(err, protocol.ErrMessageTooLarge) {
			// Unread request bytes would turn the close into a reset and
			// could destroy the response in flight.
			defer drain(conn)
		}
	default:
		log.Error(err, "Failed to read request")
		wol.ErrorsTotal.Inc()
		return
	}

	if err := protocol.WriteResponse(conn, resp); err != nil {
		log.Error(err, "Failed to write response")
		wol.ErrorsTotal.Inc()
		return
	}
	log.V(1).Info("Response sent", "success", resp.Success, "message", resp.Message)
}

// Dispatch executes a decoded request. It never fails: every error becomes
// an unsuccessful response.
func (s *Server) Dispatch(ctx context.Context, req protocol.Request) protocol.Response {
	var resp protocol.Response
	switch r := req.(type) {
	case protocol.RegisterMachine:
		resp = s.registerMachine(r)
	case protocol.WakeMachine:
		resp = s.wakeMachine(ctx, r)
	case protocol.ListMachines:
		resp = s.listMachines()
	default:
		s.log.Info("Unsupported request type", "type", fmt.Sprintf("%T", req))
		return protocol.Failed(protocol.MsgInvalidFormat)
	}

	result := resultSuccess
	if !resp.Success {
		result = resultFailure
	}
	wol.RequestsTotal.WithLabelValues(req.Type(), result).Inc()
	return resp
}

func (s *Server) registerMachine(req protocol.RegisterMachine) protocol.Response {
	name := req.Name
	if strings.TrimSpace(name) == "" {
		s.log.Info("Rejected registration with empty name", "mac", req.MACAddress)
		return protocol.Failed(protocol.MsgInvalidName)
	}

	mac, err := protocol.ParseMACAddress(req.MACAddress)
	if err != nil {
		s.log.Info("Rejected registration with invalid MAC address", "name", name, "error", err.Error())
		return protocol.Failed(protocol.MsgInvalidMAC)
	}

	// The wire protocol carries no IP address for registrations
	id := s.registry.Register(name, mac, "")
	wol.RegisteredMachines.Set(float64(s.registry.Len()))

	s.log.Info("Machine registered", "id", id.String(), "name", name, "mac", mac.String())
	return protocol.Succeeded(protocol.MsgMachineRegistered, id.String())
}

func (s *Server) wakeMachine(ctx context.Context, req protocol.WakeMachine) protocol.Response {
	id := req.MachineID

	// Lookup copies the record out; the registry lock is released before any network I/O
	machine, err := s.registry.Lookup(id)
	if err != nil {
		s.log.Info("No machine found for wake request", "machineID", id.String())
		return protocol.Failed(protocol.MsgMachineNotFound)
	}

	if err := s.sender.SendMagicPacket(ctx, machine.MACAddress); err != nil {
		s.log.Error(err, "Failed to send wake packet",
			"machineID", id.String(),
			"name", machine.Name,
			"mac", machine.MACAddress.String())
		return protocol.Failed(protocol.MsgWakePacketFailed)
	}

	s.log.Info("Wake packet sent", "machineID", id.String(), "name", machine.Name, "mac", machine.MACAddress.String())
	return protocol.Succeeded(protocol.MsgWakePacketSent)
}

func (s *Server) listMachines() protocol.Response {
	entries := s.registry.List()

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%s: %s", e.ID, e.Name))
	}

	s.log.V(1).Info("Machines listed", "count", len(entries))
	return protocol.Succeeded(protocol.MsgMachinesListed, strings.Join(lines, protocol.ListSeparator))
}

func drain(conn net.Conn) {
	if err := conn.SetReadDeadline(time.Now().Add(drainTimeout)); err != nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(conn, drainLimit))
}
