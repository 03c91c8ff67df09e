// Copyright 2018-present the DHCPKit Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package server

import (
	"errors"
	"fmt"
	"net"
	"runtime"
	"sync"

	"golang.org/x/net/ipv6"

	"github.com/corinnepritchard/dhcpkit/config"
	"github.com/corinnepritchard/dhcpkit/handlers"
	"github.com/corinnepritchard/dhcpkit/logger"
	"github.com/insomniacslk/dhcp/dhcpv6/server6"
)

var log = logger.GetLogger("server")

type listener6 struct {
	*ipv6.PacketConn
	net.Interface
	addr  net.UDPAddr
	marks []string
}

// job is one received datagram on its way to a worker.
type job struct {
	listener *listener6
	buf      []byte
	oob      *ipv6.ControlMessage
	peer     *net.UDPAddr
}

// Servers contains state for a running server: its listeners, the worker
// pool, and the message handler the workers drive requests through.
type Servers struct {
	mu        sync.RWMutex
	listeners []*listener6
	handler   *MessageHandler

	jobs   chan job
	errors chan error
}

func listen6(a *net.UDPAddr, marks []string) (*listener6, error) {
	l6 := listener6{addr: *a, marks: marks}
	udpconn, err := server6.NewIPv6UDPConn(a.Zone, a)
	if err != nil {
		return nil, err
	}
	l6.PacketConn = ipv6.NewPacketConn(udpconn)

	// We need the destination address of every packet to tell multicast
	// requests from unicast ones, and the arrival interface for replies
	// to link-local peers.
	if err := l6.SetControlMessage(ipv6.FlagDst|ipv6.FlagInterface, true); err != nil {
		return nil, err
	}

	var ifi *net.Interface
	if a.Zone != "" {
		ifi, err = net.InterfaceByName(a.Zone)
		if err != nil {
			return nil, fmt.Errorf("listen could not find interface %s: %v", a.Zone, err)
		}
		l6.Interface = *ifi
	}

	if a.IP.IsMulticast() {
		if err := l6.JoinGroup(ifi, a); err != nil {
			return nil, err
		}
	}
	return &l6, nil
}

// matchListener reports whether an existing bound socket serves the
// desired address and can simply be kept across a configuration reload.
func matchListener(existing *listener6, desired *net.UDPAddr) bool {
	return existing.addr.IP.Equal(desired.IP) &&
		existing.addr.Port == desired.Port &&
		existing.addr.Zone == desired.Zone
}

// recycleListener returns a recyclable listener from old for the desired
// address, removing it from the slice, or nil when none matches.
func recycleListener(old []*listener6, desired *net.UDPAddr) (*listener6, []*listener6) {
	for i, l := range old {
		if matchListener(l, desired) {
			return l, append(old[:i:i], old[i+1:]...)
		}
	}
	return nil, old
}

// Start builds the handler tree from the configuration and starts
// listening and serving. See `Wait` to wait until the execution ends.
func Start(conf *config.Config) (*Servers, error) {
	srv := &Servers{
		jobs:   make(chan job),
		errors: make(chan error),
	}
	if err := srv.applyConfig(conf, nil); err != nil {
		return nil, err
	}

	workers := runtime.NumCPU()
	log.Printf("Starting %d workers", workers)
	for i := 0; i < workers; i++ {
		go srv.worker()
	}
	return srv, nil
}

// Reload applies a new configuration to a running server. Listening
// sockets whose address is unchanged are recycled rather than re-bound,
// so in-flight requests on them are not disturbed.
func (s *Servers) Reload(conf *config.Config) {
	s.mu.Lock()
	old := s.listeners
	s.listeners = nil
	s.mu.Unlock()

	if err := s.applyConfig(conf, old); err != nil {
		log.Errorf("Configuration reload failed: %v", err)
	}
}

func (s *Servers) applyConfig(conf *config.Config, old []*listener6) error {
	subFilters, subHandlers, err := handlers.LoadTree(conf.Server6)
	if err != nil {
		return err
	}
	mh := NewMessageHandler(conf.Server6.ServerID, subFilters, subHandlers,
		conf.Server6.AllowRapidCommit, conf.Server6.RapidCommitRejections)
	if err := mh.WorkerInit(); err != nil {
		return err
	}

	var fresh []*listener6
	for i := range conf.Server6.Addresses {
		addr := conf.Server6.Addresses[i]
		var l6 *listener6
		if l6, old = recycleListener(old, &addr); l6 != nil {
			log.Debugf("Recycling existing socket for %s", &addr)
			l6.marks = conf.Server6.Marks
		} else {
			log.Debugf("Creating socket for %s", &addr)
			l6, err = listen6(&addr, conf.Server6.Marks)
			if err != nil {
				for _, l := range fresh {
					l.Close()
				}
				return err
			}
			fresh = append(fresh, l6)
			go func() {
				// A listener closed by a reload ends its serve loop
				// with a nil error; only real failures take the
				// server down.
				if err := s.serve(l6); err != nil {
					s.errors <- err
				}
			}()
		}

		s.mu.Lock()
		s.listeners = append(s.listeners, l6)
		s.mu.Unlock()
	}

	// Whatever is left over is no longer wanted.
	for _, l := range old {
		log.Printf("Closing listener %s", l.LocalAddr())
		l.Close()
	}

	s.mu.Lock()
	s.handler = mh
	s.mu.Unlock()
	return nil
}

// serve reads datagrams off one listener and feeds them to the worker
// pool.
func (s *Servers) serve(l *listener6) error {
	log.Printf("Listen %s", l.LocalAddr())
	for {
		b := *bufpool.Get().(*[]byte)
		b = b[:MaxDatagram] //Reslice to max capacity in case the buffer in pool was resliced smaller

		n, oob, peer, err := l.ReadFrom(b)
		if errors.Is(err, net.ErrClosed) {
			// This listener was closed, possibly by a reload that
			// removed it. Not an error for the server as a whole.
			return nil
		} else if err != nil {
			log.Printf("Error reading from connection: %v", err)
			return err
		}
		s.jobs <- job{listener: l, buf: b[:n], oob: oob, peer: peer.(*net.UDPAddr)}
	}
}

// worker runs the blocking receive, process, send loop. Each request is
// handled by exactly one worker; transaction bundles never cross worker
// boundaries.
func (s *Servers) worker() {
	for j := range s.jobs {
		s.mu.RLock()
		mh := s.handler
		s.mu.RUnlock()
		s.handleMsg6(mh, j)
	}
}

// Wait blocks until a listener fails, then shuts the server down.
func (s *Servers) Wait() error {
	log.Debug("Waiting")
	err := <-s.errors
	s.Close()
	return err
}

// Close closes all listening connections
func (s *Servers) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.listeners {
		if l != nil {
			l.Close()
		}
	}
}
