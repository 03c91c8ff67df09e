// Copyright 2018-present the DHCPKit Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package dns

import (
	"net"
	"testing"

	"github.com/insomniacslk/dhcp/dhcpv6"
	"github.com/insomniacslk/dhcp/rfc1035label"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corinnepritchard/dhcpkit/transaction"
)

func newDNSBundle(t *testing.T) *transaction.Bundle {
	t.Helper()
	request := &dhcpv6.Message{
		MessageType:   dhcpv6.MessageTypeSolicit,
		TransactionID: dhcpv6.TransactionID{0x01, 0x02, 0x03},
	}
	request.AddOption(dhcpv6.OptRequestedOption(
		dhcpv6.OptionDNSRecursiveNameServer,
		dhcpv6.OptionDomainSearchList,
	))

	bundle := transaction.NewBundle(request, true, nil)
	bundle.Response = &dhcpv6.Message{
		MessageType:   dhcpv6.MessageTypeAdvertise,
		TransactionID: request.TransactionID,
	}
	return bundle
}

func TestNameServersAdded(t *testing.T) {
	h, err := setupServers("2001:db8::53", "2001:db8::54")
	require.NoError(t, err)

	bundle := newDNSBundle(t)
	require.NoError(t, h.Handle(bundle))

	servers := bundle.Response.Options.DNS()
	require.Len(t, servers, 2)
	assert.True(t, servers[0].Equal(net.ParseIP("2001:db8::53")))
	assert.True(t, servers[1].Equal(net.ParseIP("2001:db8::54")))
}

func TestNameServersNotRequested(t *testing.T) {
	h, err := setupServers("2001:db8::53")
	require.NoError(t, err)

	// A request that does not ask for DNS options gets none.
	request := &dhcpv6.Message{
		MessageType:   dhcpv6.MessageTypeSolicit,
		TransactionID: dhcpv6.TransactionID{0x01, 0x02, 0x03},
	}
	bundle := transaction.NewBundle(request, true, nil)
	bundle.Response = &dhcpv6.Message{
		MessageType:   dhcpv6.MessageTypeAdvertise,
		TransactionID: request.TransactionID,
	}
	require.NoError(t, h.Handle(bundle))
	assert.Empty(t, bundle.Response.Options.DNS())
}

func TestNameServersCombine(t *testing.T) {
	h := NewRecursiveNameServersHandler([]net.IP{
		net.ParseIP("2001:db8::54"),
		net.ParseIP("2001:db8::55"),
	})

	bundle := newDNSBundle(t)
	// Another handler got there first, with one overlapping server.
	bundle.Response.AddOption(dhcpv6.OptDNS(
		net.ParseIP("2001:db8::53"),
		net.ParseIP("2001:db8::54"),
	))
	require.NoError(t, h.Handle(bundle))

	// Exactly one option instance remains, inherited values first,
	// duplicates dropped.
	require.Len(t, bundle.Response.GetOption(dhcpv6.OptionDNSRecursiveNameServer), 1)
	servers := bundle.Response.Options.DNS()
	require.Len(t, servers, 3)
	assert.True(t, servers[0].Equal(net.ParseIP("2001:db8::53")))
	assert.True(t, servers[1].Equal(net.ParseIP("2001:db8::54")))
	assert.True(t, servers[2].Equal(net.ParseIP("2001:db8::55")))
}

func TestSearchListCombine(t *testing.T) {
	h := NewSearchListHandler([]string{"example.net", "example.org"})

	bundle := newDNSBundle(t)
	bundle.Response.AddOption(dhcpv6.OptDomainSearchList(&rfc1035label.Labels{
		Labels: []string{"example.com", "example.net"},
	}))
	require.NoError(t, h.Handle(bundle))

	require.Len(t, bundle.Response.GetOption(dhcpv6.OptionDomainSearchList), 1)
	labels := bundle.Response.Options.DomainSearchList()
	require.NotNil(t, labels)
	assert.Equal(t, []string{"example.com", "example.net", "example.org"}, labels.Labels)
}

func TestSearchListValidatesDomains(t *testing.T) {
	_, err := setupSearchList("example..com")
	assert.Error(t, err)
}
