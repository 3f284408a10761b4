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
	"encoding/binary"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/gpillon/wol-registry/internal/client"
	"github.com/gpillon/wol-registry/internal/protocol"
	"github.com/gpillon/wol-registry/internal/registry"
	"github.com/gpillon/wol-registry/internal/wol"
)

var _ = Describe("Protocol server", func() {
	const (
		timeout  = time.Second * 5
		interval = time.Millisecond * 50
	)

	var (
		ctx     context.Context
		cancel  context.CancelFunc
		reg     *registry.Registry
		sender  WakeSender
		udpConn *net.UDPConn
		addr    string
		c       *client.Client
		served  chan error
	)

	// exchange sends a raw frame payload and returns the decoded response
	exchange := func(raw []byte) protocol.Response {
		conn, err := net.Dial("tcp", addr)
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()
		Expect(conn.SetDeadline(time.Now().Add(timeout))).To(Succeed())

		_, err = conn.Write(raw)
		Expect(err).NotTo(HaveOccurred())

		resp, err := protocol.ReadResponse(conn, client.DefaultMaxResponseSize)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	frame := func(payload string) []byte {
		b := make([]byte, protocol.HeaderSize, protocol.HeaderSize+len(payload))
		binary.BigEndian.PutUint32(b, uint32(len(payload)))
		return append(b, payload...)
	}

	// receivePacket waits up to d for a datagram on the observing UDP socket
	receivePacket := func(d time.Duration) ([]byte, error) {
		Expect(udpConn.SetReadDeadline(time.Now().Add(d))).To(Succeed())
		buffer := make([]byte, 1024)
		n, _, err := udpConn.ReadFromUDP(buffer)
		if err != nil {
			return nil, err
		}
		return buffer[:n], nil
	}

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())

		var err error
		udpConn, err = net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
		Expect(err).NotTo(HaveOccurred())
		udpPort := udpConn.LocalAddr().(*net.UDPAddr).Port

		reg = registry.New(logr.Discard())
		sender = wol.NewSender("127.0.0.1", udpPort, logr.Discard())

		ln, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		addr = ln.Addr().String()

		srv := New(addr, 0, reg, sender, logr.Discard())
		served = make(chan error, 1)
		go func() {
			defer GinkgoRecover()
			served <- srv.Serve(ctx, ln)
		}()
		Eventually(srv.Addr, timeout, interval).ShouldNot(BeNil())

		c = client.New(addr, timeout)
	})

	AfterEach(func() {
		cancel()
		Eventually(served, timeout, interval).Should(Receive(BeNil()))
		Expect(udpConn.Close()).To(Succeed())
	})

	Context("register then wake", func() {
		It("should broadcast one magic packet for the registered MAC", func() {
			id, err := c.Register(ctx, "desktop", "00:11:22:33:44:55")
			Expect(err).NotTo(HaveOccurred())
			Expect(id).NotTo(BeEmpty())

			resp, err := c.Do(ctx, protocol.WakeMachine{MachineID: uuid.MustParse(id)})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Success).To(BeTrue())
			Expect(resp.Message).To(Equal(protocol.MsgWakePacketSent))

			packet, err := receivePacket(timeout)
			Expect(err).NotTo(HaveOccurred())
			Expect(packet).To(HaveLen(wol.MagicPacketSize))

			mac, ok := wol.ParseMagicPacket(packet)
			Expect(ok).To(BeTrue())
			Expect(mac.String()).To(Equal("00:11:22:33:44:55"))
		})
	})

	Context("waking an unknown machine", func() {
		It("should answer machine not found without sending a packet", func() {
			resp, err := c.Do(ctx, protocol.WakeMachine{MachineID: uuid.New()})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Success).To(BeFalse())
			Expect(resp.Message).To(Equal(protocol.MsgMachineNotFound))
			Expect(resp.Data).To(BeNil())

			_, err = receivePacket(200 * time.Millisecond)
			Expect(err).To(HaveOccurred())
			netErr, ok := err.(net.Error)
			Expect(ok).To(BeTrue())
			Expect(netErr.Timeout()).To(BeTrue())
		})
	})

	Context("malformed requests", func() {
		It("should reject undecodable JSON", func() {
			resp := exchange(frame(`{"RegisterMachine":`))
			Expect(resp.Success).To(BeFalse())
			Expect(resp.Message).To(Equal(protocol.MsgInvalidFormat))
			Expect(reg.Len()).To(Equal(0))
		})

		It("should reject unknown request variants", func() {
			resp := exchange(frame(`{"Shutdown":{}}`))
			Expect(resp.Success).To(BeFalse())
			Expect(resp.Message).To(Equal(protocol.MsgInvalidFormat))
		})

		It("should reject a machine id that is not a UUID", func() {
			_, err := c.Register(ctx, "desktop", "00:11:22:33:44:55")
			Expect(err).NotTo(HaveOccurred())

			resp := exchange(frame(`{"WakeMachine":{"machine_id":"not-a-uuid"}}`))
			Expect(resp.Success).To(BeFalse())
			Expect(resp.Message).To(Equal(protocol.MsgInvalidFormat))

			_, err = receivePacket(200 * time.Millisecond)
			Expect(err).To(HaveOccurred())
		})

		It("should reject frames larger than the message limit", func() {
			header := make([]byte, protocol.HeaderSize)
			binary.BigEndian.PutUint32(header, 4096)

			resp := exchange(header)
			Expect(resp.Success).To(BeFalse())
			Expect(resp.Message).To(Equal(protocol.MsgInvalidFormat))
		})

		It("should reject an invalid MAC address", func() {
			_, err := c.Register(ctx, "desktop", "00:11:22")
			var reqErr *client.RequestError
			Expect(err).To(BeAssignableToTypeOf(reqErr))
			Expect(err.Error()).To(Equal(protocol.MsgInvalidMAC))
			Expect(reg.Len()).To(Equal(0))
		})
	})

	Context("connection handling", func() {
		It("should close silently when the peer sends nothing", func() {
			conn, err := net.Dial("tcp", addr)
			Expect(err).NotTo(HaveOccurred())
			Expect(conn.(*net.TCPConn).CloseWrite()).To(Succeed())
			Expect(conn.SetReadDeadline(time.Now().Add(timeout))).To(Succeed())

			buffer := make([]byte, 16)
			n, err := conn.Read(buffer)
			Expect(n).To(Equal(0))
			Expect(err).To(HaveOccurred())
			Expect(conn.Close()).To(Succeed())

			machines, err := c.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(machines).To(BeEmpty())
		})

		It("should keep serving while another client stays silent", func() {
			idle, err := net.Dial("tcp", addr)
			Expect(err).NotTo(HaveOccurred())
			defer idle.Close()

			id, err := c.Register(ctx, "nas", "aa:bb:cc:dd:ee:ff")
			Expect(err).NotTo(HaveOccurred())
			Expect(id).NotTo(BeEmpty())
		})

		It("should register 100 machines from parallel clients without lost updates", func() {
			const n = 100

			var (
				mu  sync.Mutex
				ids = make(map[string]struct{}, n)
				wg  sync.WaitGroup
			)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()

					id, err := c.Register(ctx, fmt.Sprintf("host-%d", i), fmt.Sprintf("00:11:22:33:44:%02x", i))
					Expect(err).NotTo(HaveOccurred())

					mu.Lock()
					ids[id] = struct{}{}
					mu.Unlock()
				}(i)
			}
			wg.Wait()

			Expect(ids).To(HaveLen(n))
			Expect(reg.Len()).To(Equal(n))

			machines, err := c.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(machines).To(HaveLen(n))
			for _, m := range machines {
				Expect(ids).To(HaveKey(m.ID))
				Expect(m.Name).To(HavePrefix("host-"))
			}
		})
	})

	Context("listing", func() {
		It("should return every registered machine as id: name", func() {
			desktop, err := c.Register(ctx, "desktop", "00:11:22:33:44:55")
			Expect(err).NotTo(HaveOccurred())
			nas, err := c.Register(ctx, "nas", "00:11:22:33:44:66")
			Expect(err).NotTo(HaveOccurred())

			resp, err := c.Do(ctx, protocol.ListMachines{})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Success).To(BeTrue())
			Expect(strings.Split(resp.DataString(), protocol.ListSeparator)).To(ConsistOf(
				desktop+": desktop",
				nas+": nas",
			))
		})
	})
})

var _ = Describe("Listener failure", func() {
	It("should report a fatal error when accept fails", func() {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())

		srv := New(ln.Addr().String(), 0, registry.New(logr.Discard()), &fakeSender{}, logr.Discard())
		served := make(chan error, 1)
		go func() {
			served <- srv.Serve(context.Background(), ln)
		}()
		Eventually(srv.Addr).ShouldNot(BeNil())

		// Closing the listener behind the server's back makes Accept fail
		Expect(ln.Close()).To(Succeed())

		var serveErr error
		Eventually(served).Should(Receive(&serveErr))
		Expect(serveErr).To(MatchError(ErrListenerFatal))
	})
})
