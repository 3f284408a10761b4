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

// Package client talks to a machine server over the framed JSON protocol.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gpillon/wol-registry/internal/protocol"
)

const (
	// DefaultTimeout bounds a whole request/response exchange
	DefaultTimeout = 5 * time.Second
	// DefaultMaxResponseSize bounds the size of a response frame; list
	// responses grow with the registry.
	DefaultMaxResponseSize = 1 << 20
)

// entryStart matches the "<id>: " prefix of each list entry, including the
// separator that precedes every entry but the first.
var entryStart = regexp.MustCompile(`(?:^|` + regexp.QuoteMeta(protocol.ListSeparator) +
	`)([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}): `)

// RequestError is returned when the server answered with success=false
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string {
	return e.Message
}

// Machine is one entry of a list response
type Machine struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Client sends one request per connection to a machine server
type Client struct {
	address         string
	timeout         time.Duration
	maxResponseSize int
}

// New creates a client for the server at address
func New(address string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		address:         address,
		timeout:         timeout,
		maxResponseSize: DefaultMaxResponseSize,
	}
}

// Address returns the server address
func (c *Client) Address() string {
	return c.address
}

// Do dials the server, sends req and returns the decoded response. A
// response with success=false is returned as-is, not as an error.
func (c *Client) Do(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("failed to connect to %s: %w", c.address, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return protocol.Response{}, fmt.Errorf("failed to set deadline: %w", err)
		}
	}

	if err := protocol.WriteRequest(conn, req); err != nil {
		return protocol.Response{}, fmt.Errorf("failed to send %s request: %w", req.Type(), err)
	}

	resp, err := protocol.ReadResponse(conn, c.maxResponseSize)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("failed to read %s response: %w", req.Type(), err)
	}
	return resp, nil
}

// Register registers a machine and returns its id
func (c *Client) Register(ctx context.Context, name, mac string) (string, error) {
	resp, err := c.do(ctx, protocol.RegisterMachine{Name: name, MACAddress: mac})
	if err != nil {
		return "", err
	}
	if resp.Data == nil {
		return "", errors.New("server returned no machine id")
	}
	return *resp.Data, nil
}

// Wake asks the server to send a magic packet to the machine with id
func (c *Client) Wake(ctx context.Context, id string) error {
	machineID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid machine id %q: %w", id, err)
	}
	_, err = c.do(ctx, protocol.WakeMachine{MachineID: machineID})
	return err
}

// List returns the registered machines
func (c *Client) List(ctx context.Context) ([]Machine, error) {
	resp, err := c.do(ctx, protocol.ListMachines{})
	if err != nil {
		return nil, err
	}
	return ParseList(resp.DataString())
}

func (c *Client) do(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return resp, err
	}
	if !resp.Success {
		return resp, &RequestError{Message: resp.Message}
	}
	return resp, nil
}

// ParseList splits the data of a list response into machines. Entries are
// cut at each separator followed by an id, so names may contain the separator.
func ParseList(data string) ([]Machine, error) {
	machines := []Machine{}
	if strings.TrimSpace(data) == "" {
		return machines, nil
	}

	starts := entryStart.FindAllStringSubmatchIndex(data, -1)
	if len(starts) == 0 || starts[0][0] != 0 {
		return nil, fmt.Errorf("malformed list entry %q", data)
	}

	for i, m := range starts {
		end := len(data)
		if i+1 < len(starts) {
			end = starts[i+1][0]
		}
		machines = append(machines, Machine{ID: data[m[2]:m[3]], Name: data[m[1]:end]})
	}
	return machines, nil
}
