// Copyright 2018-present the DHCPKit Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package unicast provides the handler that lets clients talk to this
// server over unicast. Its presence in the matched part of the handler
// tree is what grants the permission; without it the message handler
// answers unicast requests with a use-multicast status.
package unicast

import (
	"errors"
	"net"

	"github.com/corinnepritchard/dhcpkit/handler"
	"github.com/corinnepritchard/dhcpkit/handlers"
	"github.com/corinnepritchard/dhcpkit/options"
	"github.com/corinnepritchard/dhcpkit/transaction"
)

// Factory registers the server unicast handler under the name `unicast`.
var Factory = handlers.Factory{
	Name:  "unicast",
	Setup: setup,
}

func setup(args ...string) (handler.Handler, error) {
	if len(args) < 1 {
		return nil, errors.New("need the server unicast address")
	}
	address := net.ParseIP(args[0])
	if address == nil || address.To4() != nil || !address.IsGlobalUnicast() {
		return nil, errors.New("the server unicast address must be a global IPv6 unicast address")
	}
	return &Handler{Address: address}, nil
}

// Handler grants unicast permission in the pre phase, so the decision is
// made before the response exists, and advertises the unicast address on
// the response in the handle phase.
type Handler struct {
	handler.Base
	Address net.IP
}

// Pre implements handler.Handler.
func (h *Handler) Pre(bundle *transaction.Bundle) error {
	bundle.AddMark(transaction.MarkAllowUnicast)
	return nil
}

// Handle implements handler.Handler.
func (h *Handler) Handle(bundle *transaction.Bundle) error {
	if bundle.Response == nil {
		return nil
	}
	bundle.Response.UpdateOption(options.OptServerUnicast(h.Address))
	return nil
}
