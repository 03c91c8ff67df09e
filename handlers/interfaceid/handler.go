// Copyright 2018-present the DHCPKit Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package interfaceid echoes the Interface-Id option of every incoming
// relay frame onto the matching outgoing frame, as RFC 8415 section 19.2
// requires. Relays that tag requests with an interface identifier cannot
// route the reply without it.
package interfaceid

import (
	"github.com/corinnepritchard/dhcpkit/handler"
	"github.com/corinnepritchard/dhcpkit/handlers"
	"github.com/corinnepritchard/dhcpkit/transaction"
	"github.com/insomniacslk/dhcp/dhcpv6"
)

// Factory registers the interface-id echo under the name `interface-id`.
var Factory = handlers.Factory{
	Name:  "interface-id",
	Setup: setup,
}

func setup(args ...string) (handler.Handler, error) {
	return New(), nil
}

// New returns the relay handler doing the echo.
func New() *handler.RelayHandler {
	return &handler.RelayHandler{
		Pair: func(bundle *transaction.Bundle, in, out *dhcpv6.RelayMessage) error {
			if opt := in.GetOneOption(dhcpv6.OptionInterfaceID); opt != nil {
				out.UpdateOption(opt)
			}
			return nil
		},
	}
}
