// Copyright 2018-present the DHCPKit Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package handler

import (
	"fmt"

	"github.com/corinnepritchard/dhcpkit/logger"
	"github.com/corinnepritchard/dhcpkit/transaction"
	"github.com/insomniacslk/dhcp/dhcpv6"
)

var optionLog = logger.GetLogger("handler/option")

// CombineFunc merges the instances of one option type already present on
// the response with the handler's own contribution into a single
// replacement option. Implementations preserve order and deduplicate by
// element: inherited values first, the handler's own values after.
type CombineFunc func(existing []dhcpv6.Option) (dhcpv6.Option, error)

// OptionHandler puts a single, pre-built option in responses. The option
// types it is used for are singletons: at most one instance may appear on
// a message, so when several handlers contribute the same type the
// Combine function folds them into one, and the result replaces whatever
// was on the response before.
type OptionHandler struct {
	Base

	// Option is this handler's contribution.
	Option dhcpv6.Option

	// Combine merges existing response options of the same type with
	// Option. When nil, Option simply replaces them.
	Combine CombineFunc

	// RequireRequested only adds the option when the client listed its
	// code in the Option Request option.
	RequireRequested bool
}

// Handle implements Handler.
func (h *OptionHandler) Handle(bundle *transaction.Bundle) error {
	if bundle.Response == nil {
		return nil
	}
	code := h.Option.Code()
	if h.RequireRequested && !bundle.Request.IsOptionRequested(code) {
		return nil
	}

	option := h.Option
	if existing := bundle.Response.GetOption(code); h.Combine != nil && len(existing) > 0 {
		combined, err := h.Combine(existing)
		if err != nil {
			optionLog.Warningf("Could not combine %s options, keeping own value: %v", code, err)
		} else {
			option = combined
		}
	}

	bundle.Response.UpdateOption(option)
	return nil
}

func (h *OptionHandler) String() string {
	return fmt.Sprintf("option handler for %s", h.Option.Code())
}
