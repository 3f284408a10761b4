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

package server

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/gpillon/wol-registry/internal/protocol"
	"github.com/gpillon/wol-registry/internal/registry"
)

// fakeSender records every MAC it is asked to wake
type fakeSender struct {
	mu   sync.Mutex
	sent []net.HardwareAddr
	err  error
}

func (f *fakeSender) SendMagicPacket(_ context.Context, mac net.HardwareAddr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, mac)
	return nil
}

func (f *fakeSender) Sent() []net.HardwareAddr {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]net.HardwareAddr(nil), f.sent...)
}

func newTestServer(sender WakeSender) (*Server, *registry.Registry) {
	reg := registry.New(logr.Discard())
	return New("127.0.0.1:0", 0, reg, sender, logr.Discard()), reg
}

func TestNew_Defaults(t *testing.T) {
	srv := New("", 0, registry.New(logr.Discard()), &fakeSender{}, logr.Discard())
	if srv.address != DefaultAddress {
		t.Errorf("address = %q, want %q", srv.address, DefaultAddress)
	}
	if srv.maxMessageSize != protocol.DefaultMaxMessageSize {
		t.Errorf("maxMessageSize = %d, want %d", srv.maxMessageSize, protocol.DefaultMaxMessageSize)
	}
	if srv.Addr() != nil {
		t.Error("Addr() should be nil before serving")
	}
}

func TestDispatch_Register(t *testing.T) {
	srv, reg := newTestServer(&fakeSender{})

	resp := srv.Dispatch(context.Background(), protocol.RegisterMachine{Name: "desktop", MACAddress: "00:11:22:33:44:55"})
	if !resp.Success {
		t.Fatalf("register failed: %+v", resp)
	}
	if resp.Message != protocol.MsgMachineRegistered {
		t.Errorf("Message = %q", resp.Message)
	}

	id, err := uuid.Parse(resp.DataString())
	if err != nil {
		t.Fatalf("data %q is not a machine id: %v", resp.DataString(), err)
	}
	m, err := reg.Lookup(id)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if m.Name != "desktop" || m.MACAddress.String() != "00:11:22:33:44:55" {
		t.Errorf("stored machine = %+v", m)
	}
	if m.IPAddress != "" {
		t.Errorf("IPAddress = %q, want empty", m.IPAddress)
	}
}

func TestDispatch_Register_KeepsNameAsSent(t *testing.T) {
	srv, reg := newTestServer(&fakeSender{})

	resp := srv.Dispatch(context.Background(), protocol.RegisterMachine{Name: " desktop ", MACAddress: "00:11:22:33:44:55"})
	if !resp.Success {
		t.Fatalf("register failed: %+v", resp)
	}

	m, err := reg.Lookup(uuid.MustParse(resp.DataString()))
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if m.Name != " desktop " {
		t.Errorf("Name = %q, want %q", m.Name, " desktop ")
	}
}

func TestDispatch_Register_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		req     protocol.RegisterMachine
		wantMsg string
	}{
		{name: "bad MAC", req: protocol.RegisterMachine{Name: "desktop", MACAddress: "zz:zz"}, wantMsg: protocol.MsgInvalidMAC},
		{name: "EUI-64 MAC", req: protocol.RegisterMachine{Name: "desktop", MACAddress: "00:11:22:33:44:55:66:77"}, wantMsg: protocol.MsgInvalidMAC},
		{name: "empty MAC", req: protocol.RegisterMachine{Name: "desktop"}, wantMsg: protocol.MsgInvalidMAC},
		{name: "blank name", req: protocol.RegisterMachine{Name: "  ", MACAddress: "00:11:22:33:44:55"}, wantMsg: protocol.MsgInvalidName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, reg := newTestServer(&fakeSender{})

			resp := srv.Dispatch(context.Background(), tt.req)
			if resp.Success {
				t.Fatal("expected failure")
			}
			if resp.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", resp.Message, tt.wantMsg)
			}
			if resp.Data != nil {
				t.Errorf("Data = %q, want absent", *resp.Data)
			}
			if reg.Len() != 0 {
				t.Errorf("registry size = %d, want 0", reg.Len())
			}
		})
	}
}

func TestDispatch_Wake(t *testing.T) {
	sender := &fakeSender{}
	srv, reg := newTestServer(sender)

	mac, _ := net.ParseMAC("00:11:22:33:44:55")
	id := reg.Register("desktop", mac, "")

	resp := srv.Dispatch(context.Background(), protocol.WakeMachine{MachineID: id})
	if !resp.Success || resp.Message != protocol.MsgWakePacketSent {
		t.Fatalf("wake response = %+v", resp)
	}
	if resp.Data != nil {
		t.Errorf("Data = %q, want absent", *resp.Data)
	}

	sent := sender.Sent()
	if len(sent) != 1 || sent[0].String() != mac.String() {
		t.Errorf("sent = %v, want [%s]", sent, mac)
	}
}

func TestDispatch_Wake_NotFound(t *testing.T) {
	tests := []struct {
		name string
		id   uuid.UUID
	}{
		{name: "unknown id", id: uuid.New()},
		{name: "nil id", id: uuid.Nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{}
			srv, reg := newTestServer(sender)
			mac, _ := net.ParseMAC("00:11:22:33:44:55")
			reg.Register("desktop", mac, "")

			resp := srv.Dispatch(context.Background(), protocol.WakeMachine{MachineID: tt.id})
			if resp.Success || resp.Message != protocol.MsgMachineNotFound {
				t.Errorf("wake response = %+v", resp)
			}
			if len(sender.Sent()) != 0 {
				t.Error("a packet was sent for an unknown machine")
			}
		})
	}
}

func TestDispatch_Wake_SendFailure(t *testing.T) {
	sender := &fakeSender{err: errors.New("network is unreachable")}
	srv, reg := newTestServer(sender)

	mac, _ := net.ParseMAC("00:11:22:33:44:55")
	id := reg.Register("desktop", mac, "")

	resp := srv.Dispatch(context.Background(), protocol.WakeMachine{MachineID: id})
	if resp.Success {
		t.Fatal("expected failure")
	}
	if resp.Message != protocol.MsgWakePacketFailed {
		t.Errorf("Message = %q, want %q", resp.Message, protocol.MsgWakePacketFailed)
	}
	if strings.Contains(resp.Message, "unreachable") {
		t.Error("network error leaked to the client")
	}
}

func TestDispatch_List(t *testing.T) {
	srv, reg := newTestServer(&fakeSender{})

	resp := srv.Dispatch(context.Background(), protocol.ListMachines{})
	if !resp.Success || resp.Message != protocol.MsgMachinesListed {
		t.Fatalf("list response = %+v", resp)
	}
	if resp.Data == nil || *resp.Data != "" {
		t.Errorf("empty list data = %v, want present and empty", resp.Data)
	}

	mac, _ := net.ParseMAC("00:11:22:33:44:55")
	want := map[string]bool{}
	for _, name := range []string{"desktop", "nas", "laptop"} {
		id := reg.Register(name, mac, "")
		want[id.String()+": "+name] = true
	}

	resp = srv.Dispatch(context.Background(), protocol.ListMachines{})
	items := strings.Split(resp.DataString(), protocol.ListSeparator)
	if len(items) != len(want) {
		t.Fatalf("list has %d entries, want %d: %q", len(items), len(want), resp.DataString())
	}
	for _, item := range items {
		if !want[item] {
			t.Errorf("unexpected list entry %q", item)
		}
		delete(want, item)
	}
}

type unknownRequest struct{ protocol.ListMachines }

func (unknownRequest) Type() string { return "Unknown" }

func TestDispatch_UnsupportedRequest(t *testing.T) {
	srv, _ := newTestServer(&fakeSender{})

	resp := srv.Dispatch(context.Background(), unknownRequest{})
	if resp.Success || resp.Message != protocol.MsgInvalidFormat {
		t.Errorf("response = %+v", resp)
	}
}
