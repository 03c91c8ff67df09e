// Copyright 2018-present the DHCPKit Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package server

import (
	"sync"

	"golang.org/x/net/ipv6"

	"github.com/insomniacslk/dhcp/dhcpv6"
)

// handleMsg6 runs for every received datagram: parse it, drive it through
// the message handler, and transmit whatever comes back. Codec errors are
// silent drops; the sender is not owed an answer to garbage.
func (s *Servers) handleMsg6(mh *MessageHandler, j job) {
	d, err := dhcpv6.FromBytes(j.buf)
	bufpool.Put(&j.buf)
	if err != nil {
		log.Warningf("Error parsing DHCPv6 request: %v", err)
		return
	}

	receivedOverMulticast := j.oob != nil && j.oob.Dst != nil && j.oob.Dst.IsMulticast()

	resp := mh.Handle(d, receivedOverMulticast, j.listener.marks)
	if resp == nil {
		// The pipeline decided this request does not get an answer.
		return
	}

	var woob *ipv6.ControlMessage
	if j.peer.IP.IsLinkLocalUnicast() {
		// LL need to be directed to the correct interface. Globally reachable
		// addresses should use the default route, in case of asymetric routing.
		switch {
		case j.listener.Interface.Index != 0:
			woob = &ipv6.ControlMessage{IfIndex: j.listener.Interface.Index}
		case j.oob != nil && j.oob.IfIndex != 0:
			woob = &ipv6.ControlMessage{IfIndex: j.oob.IfIndex}
		default:
			log.Errorf("handleMsg6: did not receive interface information")
		}
	}
	if _, err := j.listener.WriteTo(resp.ToBytes(), woob, j.peer); err != nil {
		log.Printf("handleMsg6: conn.Write to %v failed: %v", j.peer, err)
	}
}

// XXX: performance-wise, Pool may or may not be good (see https://github.com/golang/go/issues/23199)
// Interface is good for what we want. Maybe "just" trust the GC and we'll be fine ?
var bufpool = sync.Pool{New: func() interface{} { r := make([]byte, MaxDatagram); return &r }}

// MaxDatagram is the maximum length of message that can be received.
const MaxDatagram = 1 << 16
