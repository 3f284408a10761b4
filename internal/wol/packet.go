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
	"fmt"
	"net"
)

const (
	// DefaultWOLPort is the standard Wake-on-LAN UDP port
	DefaultWOLPort = 9
	// MagicPacketSize is the size of a WOL magic packet (6 + 6*16 = 102 bytes)
	MagicPacketSize = 6 + 16*6 // 6x0xFF + 16 repetitions of MAC

	macLen      = 6
	repetitions = 16
)

// NewMagicPacket builds the Wake-on-LAN payload for the given hardware address.
// A magic packet contains:
// - 6 bytes of 0xFF
// - 16 repetitions of the target MAC address (6 bytes each)
func NewMagicPacket(mac net.HardwareAddr) ([]byte, error) {
	if len(mac) != macLen {
		return nil, fmt.Errorf("magic packet requires a 6-byte MAC address, got %d bytes", len(mac))
	}

	packet := make([]byte, MagicPacketSize)
	for i := 0; i < macLen; i++ {
		packet[i] = 0xFF
	}
	for i := 0; i < repetitions; i++ {
		copy(packet[macLen+i*macLen:macLen+(i+1)*macLen], mac)
	}

	return packet, nil
}

// ParseMagicPacket validates a WOL magic packet and extracts the target MAC address
func ParseMagicPacket(packet []byte) (net.HardwareAddr, bool) {
	if len(packet) < MagicPacketSize {
		return nil, false
	}

	for i := 0; i < macLen; i++ {
		if packet[i] != 0xFF {
			return nil, false
		}
	}

	macBytes := packet[macLen : 2*macLen]

	// Every repetition must match the first one
	for i := 1; i < repetitions; i++ {
		offset := macLen + (i * macLen)
		for j := 0; j < macLen; j++ {
			if packet[offset+j] != macBytes[j] {
				return nil, false
			}
		}
	}

	mac := make(net.HardwareAddr, macLen)
	copy(mac, macBytes)
	return mac, true
}
