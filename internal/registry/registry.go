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

// Package registry holds the in-memory roster of wakeable machines.
package registry

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

// ErrNotFound is returned by Lookup when no machine has the requested id
var ErrNotFound = errors.New("machine not found")

// Machine is a registered wakeable host
type Machine struct {
	ID           uuid.UUID
	Name         string
	MACAddress   net.HardwareAddr
	IPAddress    string // informational only, empty when unknown
	RegisteredAt time.Time
}

// Entry is the (id, name) pair returned by List
type Entry struct {
	ID   uuid.UUID
	Name string
}

// Registry maps machine ids to machines. All access goes through mu, which
// is held only for the duration of a single method and never across network I/O.
type Registry struct {
	log      logr.Logger
	mu       sync.RWMutex
	machines map[uuid.UUID]Machine
}

// New creates an empty registry
func New(log logr.Logger) *Registry {
	return &Registry{
		log:      log,
		machines: make(map[uuid.UUID]Machine),
	}
}

// Register inserts a new machine and returns its freshly generated id.
// No duplicate detection is done: registering the same MAC twice yields
// two independent records.
func (r *Registry) Register(name string, mac net.HardwareAddr, ip string) uuid.UUID {
	machine := Machine{
		ID:           uuid.New(),
		Name:         name,
		MACAddress:   cloneMAC(mac),
		IPAddress:    ip,
		RegisteredAt: time.Now(),
	}

	r.mu.Lock()
	// uuid.New is random; a collision would silently replace a record
	for {
		if _, exists := r.machines[machine.ID]; !exists {
			break
		}
		machine.ID = uuid.New()
	}
	r.machines[machine.ID] = machine
	count := len(r.machines)
	r.mu.Unlock()

	r.log.V(1).Info("Machine registered",
		"id", machine.ID.String(),
		"name", name,
		"mac", machine.MACAddress.String(),
		"count", count)

	return machine.ID
}

// Lookup returns a copy of the machine with the given id
func (r *Registry) Lookup(id uuid.UUID) (Machine, error) {
	r.mu.RLock()
	machine, found := r.machines[id]
	r.mu.RUnlock()

	if !found {
		return Machine{}, fmt.Errorf("lookup %s: %w", id, ErrNotFound)
	}

	machine.MACAddress = cloneMAC(machine.MACAddress)
	return machine, nil
}

// List returns a snapshot of all registered machines in unspecified order
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Entry, 0, len(r.machines))
	for id, machine := range r.machines {
		entries = append(entries, Entry{ID: id, Name: machine.Name})
	}
	return entries
}

// Len returns the number of registered machines
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.machines)
}

func cloneMAC(mac net.HardwareAddr) net.HardwareAddr {
	if mac == nil {
		return nil
	}
	out := make(net.HardwareAddr, len(mac))
	copy(out, mac)
	return out
}
