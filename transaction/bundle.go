// Copyright 2018-present the DHCPKit Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package transaction holds the mutable per-request state that is passed
// through the handler pipeline. A Bundle is created when a datagram is
// accepted for processing and discarded when the response has been sent.
// Bundles are never shared between workers.
package transaction

import (
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/insomniacslk/dhcp/dhcpv6"
)

// Marks that the message handler gives special meaning to. Handlers attach
// them with AddMark, filters test for them with MarkedWith.
const (
	// MarkAllowUnicast records that a handler considers it acceptable for
	// this client to talk to us over unicast.
	MarkAllowUnicast = "allow-unicast"

	// MarkConfirmed records that a handler has verified that the addresses
	// in a Confirm request are appropriate for the link.
	MarkConfirmed = "confirmed"
)

// Bundle carries everything there is to know about one request/response
// exchange. The request and the incoming relay chain are fixed at
// construction; the response and the outgoing relay chain are filled in by
// the message handler and mutated by the handlers that run on the bundle.
type Bundle struct {
	// Request is the innermost client message, after unwrapping any
	// relay encapsulation.
	Request *dhcpv6.Message

	// IncomingRelayMessages holds the relay-forward frames the request
	// arrived in, ordered from the outermost to the innermost frame.
	// Empty when the client reached us directly.
	IncomingRelayMessages []*dhcpv6.RelayMessage

	// Response is the message we intend to send back. It is nil until the
	// pre phase has run on every handler, and it may be replaced
	// wholesale, for example when rapid commit promotes an Advertise to a
	// Reply.
	Response *dhcpv6.Message

	// OutgoingRelayMessages mirrors IncomingRelayMessages with
	// relay-reply frames, in the same order. Nil until the response has
	// been initialised.
	OutgoingRelayMessages []*dhcpv6.RelayMessage

	// ReceivedOverMulticast tells handlers how the request reached us.
	ReceivedOverMulticast bool

	// AllowRapidCommit and RapidCommitRejections are copied from the
	// message handler configuration so that handlers can see the policy
	// they operate under.
	AllowRapidCommit      bool
	RapidCommitRejections bool

	marks map[string]struct{}
}

// NewBundle returns a bundle for the given request. The marks become the
// initial mark set; duplicates collapse.
func NewBundle(request *dhcpv6.Message, receivedOverMulticast bool, marks []string) *Bundle {
	b := &Bundle{
		Request:               request,
		ReceivedOverMulticast: receivedOverMulticast,
		marks:                 make(map[string]struct{}),
	}
	for _, m := range marks {
		b.AddMark(m)
	}
	return b
}

// AddMark adds a mark to the bundle. Adding a mark twice is the same as
// adding it once.
func (b *Bundle) AddMark(mark string) {
	mark = strings.TrimSpace(mark)
	if mark == "" {
		return
	}
	b.marks[mark] = struct{}{}
}

// MarkedWith reports whether the given mark is set on the bundle.
func (b *Bundle) MarkedWith(mark string) bool {
	_, ok := b.marks[mark]
	return ok
}

// Marks returns the current mark set in sorted order.
func (b *Bundle) Marks() []string {
	marks := make([]string, 0, len(b.marks))
	for m := range b.marks {
		marks = append(marks, m)
	}
	sort.Strings(marks)
	return marks
}

// LinkAddress returns the address identifying the link the client is on:
// the first usable link-address found while walking the relay chain from
// the relay closest to the client towards us. Returns the unspecified
// address when the request was not relayed or no relay filled one in.
func (b *Bundle) LinkAddress() net.IP {
	for i := len(b.IncomingRelayMessages) - 1; i >= 0; i-- {
		la := b.IncomingRelayMessages[i].LinkAddr
		if la != nil && !la.IsUnspecified() {
			return la
		}
	}
	return net.IPv6unspecified
}

// CreateOutgoingRelayMessages builds the relay-reply chain that mirrors the
// incoming relay chain: same length, same order, each frame copying the
// hop count, link-address and peer-address of its counterpart, with an
// empty option list. Calling it again replaces a previously built chain.
func (b *Bundle) CreateOutgoingRelayMessages() {
	out := make([]*dhcpv6.RelayMessage, len(b.IncomingRelayMessages))
	for i, in := range b.IncomingRelayMessages {
		out[i] = &dhcpv6.RelayMessage{
			MessageType: dhcpv6.MessageTypeRelayReply,
			HopCount:    in.HopCount,
			LinkAddr:    in.LinkAddr,
			PeerAddr:    in.PeerAddr,
		}
	}
	b.OutgoingRelayMessages = out
}

// RelayChainsMatch reports whether the outgoing relay chain exists and has
// the same length as the incoming one. Handlers that walk the chains must
// refuse to run when this does not hold.
func (b *Bundle) RelayChainsMatch() bool {
	return b.OutgoingRelayMessages != nil &&
		len(b.OutgoingRelayMessages) == len(b.IncomingRelayMessages)
}

func (b *Bundle) String() string {
	if b.Request == nil {
		return "transaction for <no request>"
	}
	return fmt.Sprintf("transaction for %s from %s", b.Request.Type(), b.LinkAddress())
}
