// Copyright 2018-present the DHCPKit Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package transaction

import (
	"net"
	"testing"

	"github.com/insomniacslk/dhcp/dhcpv6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRequest() *dhcpv6.Message {
	return &dhcpv6.Message{
		MessageType:   dhcpv6.MessageTypeSolicit,
		TransactionID: dhcpv6.TransactionID{0x01, 0x02, 0x03},
	}
}

func TestMarksAreASet(t *testing.T) {
	b := NewBundle(newTestRequest(), true, []string{"one", "two", "one"})
	assert.Equal(t, []string{"one", "two"}, b.Marks())

	// Adding an existing mark changes nothing.
	b.AddMark("two")
	assert.Equal(t, []string{"one", "two"}, b.Marks())

	b.AddMark("three")
	assert.True(t, b.MarkedWith("three"))
	assert.False(t, b.MarkedWith("four"))

	// Empty marks are not a thing.
	b.AddMark("  ")
	assert.Equal(t, []string{"one", "three", "two"}, b.Marks())
}

func TestOutgoingRelayMessagesMirrorIncoming(t *testing.T) {
	b := NewBundle(newTestRequest(), true, nil)
	b.IncomingRelayMessages = []*dhcpv6.RelayMessage{
		{
			MessageType: dhcpv6.MessageTypeRelayForward,
			HopCount:    1,
			LinkAddr:    net.ParseIP("2001:db8:2::1"),
			PeerAddr:    net.ParseIP("fe80::2"),
		},
		{
			MessageType: dhcpv6.MessageTypeRelayForward,
			HopCount:    0,
			LinkAddr:    net.ParseIP("2001:db8:1::1"),
			PeerAddr:    net.ParseIP("fe80::1"),
		},
	}

	assert.False(t, b.RelayChainsMatch())
	b.CreateOutgoingRelayMessages()
	require.True(t, b.RelayChainsMatch())
	require.Len(t, b.OutgoingRelayMessages, 2)

	for i, out := range b.OutgoingRelayMessages {
		in := b.IncomingRelayMessages[i]
		assert.Equal(t, dhcpv6.MessageTypeRelayReply, out.MessageType)
		assert.Equal(t, in.HopCount, out.HopCount)
		assert.True(t, out.LinkAddr.Equal(in.LinkAddr))
		assert.True(t, out.PeerAddr.Equal(in.PeerAddr))
		assert.Empty(t, out.Options.Options)
	}
}

func TestLinkAddress(t *testing.T) {
	b := NewBundle(newTestRequest(), true, nil)
	assert.True(t, b.LinkAddress().IsUnspecified())

	// The relay closest to the client wins.
	b.IncomingRelayMessages = []*dhcpv6.RelayMessage{
		{LinkAddr: net.ParseIP("2001:db8:2::1")},
		{LinkAddr: net.ParseIP("2001:db8:1::1")},
	}
	assert.True(t, b.LinkAddress().Equal(net.ParseIP("2001:db8:1::1")))

	// Relays that did not fill in a link-address are skipped.
	b.IncomingRelayMessages = []*dhcpv6.RelayMessage{
		{LinkAddr: net.ParseIP("2001:db8:2::1")},
		{LinkAddr: net.IPv6unspecified},
	}
	assert.True(t, b.LinkAddress().Equal(net.ParseIP("2001:db8:2::1")))
}
