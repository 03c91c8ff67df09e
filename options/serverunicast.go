// Copyright 2018-present the DHCPKit Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package options

import (
	"fmt"
	"net"

	"github.com/insomniacslk/dhcp/dhcpv6"
)

// ServerUnicast is the Server Unicast option from RFC 8415 section 21.12.
// A server includes it to tell the client it may send future messages to
// the given address directly instead of multicasting them.
type ServerUnicast struct {
	ServerAddress net.IP
}

// OptServerUnicast builds a ServerUnicast option for the given address.
func OptServerUnicast(address net.IP) *ServerUnicast {
	return &ServerUnicast{ServerAddress: address}
}

// Code implements dhcpv6.Option.
func (o *ServerUnicast) Code() dhcpv6.OptionCode {
	return dhcpv6.OptionUnicast
}

// ToBytes implements dhcpv6.Option.
func (o *ServerUnicast) ToBytes() []byte {
	address := o.ServerAddress.To16()
	if address == nil {
		address = net.IPv6unspecified
	}
	return address
}

// FromBytes builds a ServerUnicast option from its wire form. The payload
// is exactly one IPv6 address.
func (o *ServerUnicast) FromBytes(data []byte) error {
	if err := CheckLength(dhcpv6.OptionUnicast, len(data), net.IPv6len, net.IPv6len); err != nil {
		return err
	}
	o.ServerAddress = make(net.IP, net.IPv6len)
	copy(o.ServerAddress, data)
	return nil
}

func (o *ServerUnicast) String() string {
	return fmt.Sprintf("%s: %s", o.Code(), o.ServerAddress)
}
