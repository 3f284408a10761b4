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

// Package protocol defines the request/response messages exchanged with the
// machine server and their framed JSON encoding.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/google/uuid"
)

var (
	// ErrDecode marks any request or response that could not be decoded
	ErrDecode = errors.New("invalid message format")
	// ErrMessageTooLarge is returned when a frame header announces more bytes than allowed
	ErrMessageTooLarge = fmt.Errorf("%w: message too large", ErrDecode)
	// ErrInvalidMAC is returned for MAC address strings that are not 6-byte hardware addresses
	ErrInvalidMAC = errors.New("invalid MAC address")
)

// Response messages sent back to clients
const (
	MsgInvalidFormat     = "invalid message format"
	MsgInvalidMAC        = "invalid MAC address"
	MsgInvalidName       = "invalid machine name"
	MsgMachineRegistered = "machine registered successfully"
	MsgMachineNotFound   = "machine not found"
	MsgWakePacketSent    = "wake packet sent"
	MsgWakePacketFailed  = "failed to send wake packet"
	MsgMachinesListed    = "machines listed"

	// ListSeparator joins the "<id>: <name>" entries of a list response
	ListSeparator = ", "
)

const (
	typeRegisterMachine = "RegisterMachine"
	typeWakeMachine     = "WakeMachine"
	typeListMachines    = "ListMachines"
)

// Request is one of RegisterMachine, WakeMachine or ListMachines
type Request interface {
	// Type returns the wire tag of the request
	Type() string
	isRequest()
}

// RegisterMachine asks the server to add a machine to its registry
type RegisterMachine struct {
	Name       string `json:"name"`
	MACAddress string `json:"mac_address"`
}

// WakeMachine asks the server to send a magic packet to a registered machine
type WakeMachine struct {
	MachineID uuid.UUID `json:"machine_id"`
}

// ListMachines asks the server for every registered machine
type ListMachines struct{}

func (RegisterMachine) Type() string { return typeRegisterMachine }
func (WakeMachine) Type() string     { return typeWakeMachine }
func (ListMachines) Type() string    { return typeListMachines }

func (RegisterMachine) isRequest() {}
func (WakeMachine) isRequest()     {}
func (ListMachines) isRequest()    {}

// Response is the single reply written for every request
type Response struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	Data    *string `json:"data,omitempty"`
}

// Succeeded builds a successful response. An empty data argument still
// produces a present (empty) data field.
func Succeeded(message string, data ...string) Response {
	resp := Response{Success: true, Message: message}
	if len(data) > 0 {
		d := data[0]
		resp.Data = &d
	}
	return resp
}

// Failed builds a failure response without data
func Failed(message string) Response {
	return Response{Success: false, Message: message}
}

// DataString returns the response data or "" when absent
func (r Response) DataString() string {
	if r.Data == nil {
		return ""
	}
	return *r.Data
}

// ParseMACAddress parses s and requires a 6-byte (EUI-48) hardware address,
// the only kind a magic packet can carry.
func ParseMACAddress(s string) (net.HardwareAddr, error) {
	mac, err := net.ParseMAC(s)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidMAC, s, err)
	}
	if len(mac) != 6 {
		return nil, fmt.Errorf("%w %q: %d-byte address", ErrInvalidMAC, s, len(mac))
	}
	return mac, nil
}

// MarshalRequest encodes req as an externally tagged JSON value:
// {"RegisterMachine":{...}}, {"WakeMachine":{...}} or "ListMachines".
func MarshalRequest(req Request) ([]byte, error) {
	switch r := req.(type) {
	case RegisterMachine:
		return json.Marshal(map[string]RegisterMachine{typeRegisterMachine: r})
	case WakeMachine:
		return json.Marshal(map[string]WakeMachine{typeWakeMachine: r})
	case ListMachines:
		return json.Marshal(typeListMachines)
	default:
		return nil, fmt.Errorf("unsupported request type %T", req)
	}
}

// UnmarshalRequest decodes an externally tagged JSON request. Every failure wraps ErrDecode.
func UnmarshalRequest(data []byte) (Request, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrDecode)
	}

	// Unit variants may be sent as a bare string
	if data[0] == '"' {
		var tag string
		if err := json.Unmarshal(data, &tag); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		if tag == typeListMachines {
			return ListMachines{}, nil
		}
		return nil, fmt.Errorf("%w: unknown request %q", ErrDecode, tag)
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if len(envelope) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one request variant, got %d", ErrDecode, len(envelope))
	}

	for tag, body := range envelope {
		switch tag {
		case typeRegisterMachine:
			var fields struct {
				Name       *string `json:"name"`
				MACAddress *string `json:"mac_address"`
			}
			if err := json.Unmarshal(body, &fields); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrDecode, tag, err)
			}
			if fields.Name == nil || fields.MACAddress == nil {
				return nil, fmt.Errorf("%w: %s: missing name or mac_address", ErrDecode, tag)
			}
			return RegisterMachine{Name: *fields.Name, MACAddress: *fields.MACAddress}, nil

		case typeWakeMachine:
			var fields struct {
				MachineID *string `json:"machine_id"`
			}
			if err := json.Unmarshal(body, &fields); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrDecode, tag, err)
			}
			if fields.MachineID == nil {
				return nil, fmt.Errorf("%w: %s: missing machine_id", ErrDecode, tag)
			}
			id, err := uuid.Parse(*fields.MachineID)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: machine_id: %v", ErrDecode, tag, err)
			}
			return WakeMachine{MachineID: id}, nil

		case typeListMachines:
			var fields map[string]json.RawMessage
			if err := json.Unmarshal(body, &fields); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrDecode, tag, err)
			}
			return ListMachines{}, nil

		default:
			return nil, fmt.Errorf("%w: unknown request %q", ErrDecode, tag)
		}
	}

	// unreachable: envelope has exactly one key
	return nil, ErrDecode
}

// UnmarshalResponse decodes a response body. Failures wrap ErrDecode.
func UnmarshalResponse(data []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return resp, nil
}
