// Copyright 2018-present the DHCPKit Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package leasedb

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv6"
	dhcpiana "github.com/insomniacslk/dhcp/iana"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corinnepritchard/dhcpkit/transaction"
)

func newLeaseBundle(t *testing.T, responseType dhcpv6.MessageType) *transaction.Bundle {
	t.Helper()
	request := &dhcpv6.Message{
		MessageType:   dhcpv6.MessageTypeRequest,
		TransactionID: dhcpv6.TransactionID{0x01, 0x02, 0x03},
	}
	request.AddOption(dhcpv6.OptClientID(&dhcpv6.DUIDLL{
		HWType:        dhcpiana.HWTypeEthernet,
		LinkLayerAddr: net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
	}))

	bundle := transaction.NewBundle(request, true, nil)
	response := &dhcpv6.Message{
		MessageType:   responseType,
		TransactionID: request.TransactionID,
	}
	ia := &dhcpv6.OptIANA{IaId: [4]byte{0x00, 0x00, 0x00, 0x01}}
	ia.Options.Add(&dhcpv6.OptIAAddress{
		IPv6Addr:          net.ParseIP("2001:db8::1000"),
		PreferredLifetime: time.Hour,
		ValidLifetime:     time.Hour,
	})
	response.AddOption(ia)
	bundle.Response = response
	return bundle
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	h, err := setup(filepath.Join(t.TempDir(), "leases.sqlite3"))
	require.NoError(t, err)
	require.NoError(t, h.WorkerInit())
	t.Cleanup(func() { h.(*Handler).db.Close() })
	return h.(*Handler)
}

func countLeases(t *testing.T, h *Handler) int {
	t.Helper()
	var count int
	require.NoError(t, h.db.QueryRow(`SELECT COUNT(*) FROM leases`).Scan(&count))
	return count
}

func TestReplyIsJournaled(t *testing.T) {
	h := newTestHandler(t)
	require.NoError(t, h.Post(newLeaseBundle(t, dhcpv6.MessageTypeReply)))
	assert.Equal(t, 1, countLeases(t, h))

	// Renewing the same binding replaces the row instead of adding one.
	require.NoError(t, h.Post(newLeaseBundle(t, dhcpv6.MessageTypeReply)))
	assert.Equal(t, 1, countLeases(t, h))
}

func TestAdvertiseIsNotJournaled(t *testing.T) {
	h := newTestHandler(t)
	require.NoError(t, h.Post(newLeaseBundle(t, dhcpv6.MessageTypeAdvertise)))
	assert.Equal(t, 0, countLeases(t, h))
}

func TestSetupNeedsPath(t *testing.T) {
	_, err := setup()
	assert.Error(t, err)
}
