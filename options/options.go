// Copyright 2018-present the DHCPKit Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package options supplies DHCPv6 options that the upstream codec does
// not model, together with the payload length window checks the protocol
// requires for every option type.
package options

import (
	"fmt"

	"github.com/insomniacslk/dhcp/dhcpv6"
)

// CheckLength validates an option payload length against the window the
// option type declares. A max of -1 means the type has no upper bound.
func CheckLength(code dhcpv6.OptionCode, length, min, max int) error {
	if length < min {
		return fmt.Errorf("%s: option is shorter than the minimum length of %d", code, min)
	}
	if max >= 0 && length > max {
		return fmt.Errorf("%s: option is longer than the maximum length of %d", code, max)
	}
	return nil
}
