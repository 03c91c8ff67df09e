// Copyright 2018-present the DHCPKit Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package handler

import (
	"github.com/corinnepritchard/dhcpkit/logger"
	"github.com/corinnepritchard/dhcpkit/transaction"
	"github.com/insomniacslk/dhcp/dhcpv6"
)

var relayLog = logger.GetLogger("handler/relay")

// RelayPairFunc processes one matched pair of relay frames: the
// relay-forward the request arrived in and the relay-reply that will carry
// the response back through the same relay.
type RelayPairFunc func(bundle *transaction.Bundle, in, out *dhcpv6.RelayMessage) error

// RelayHandler is a handler that works on the relay chain instead of the
// inner message. Its Handle walks the incoming and outgoing chains in
// lockstep and applies Pair to each frame pair. When the outgoing chain is
// missing or of a different length the handler logs an error and does
// nothing; a broken chain is the message handler's problem, not ours.
type RelayHandler struct {
	Base
	Pair RelayPairFunc
}

// Handle implements Handler.
func (h *RelayHandler) Handle(bundle *transaction.Bundle) error {
	if bundle.OutgoingRelayMessages == nil {
		relayLog.Error("Cannot process relay chains: outgoing chain not set")
		return nil
	}
	if !bundle.RelayChainsMatch() {
		relayLog.Error("Cannot process relay chains: chains have different length")
		return nil
	}
	for i, in := range bundle.IncomingRelayMessages {
		if err := h.Pair(bundle, in, bundle.OutgoingRelayMessages[i]); err != nil {
			return err
		}
	}
	return nil
}
