// Copyright 2018-present the DHCPKit Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package main

/*
 * Sample DHCPv6 client to test a server on the local interface
 */

import (
	"net"

	flag "github.com/spf13/pflag"

	"github.com/corinnepritchard/dhcpkit/logger"
	"github.com/insomniacslk/dhcp/dhcpv6"
	"github.com/insomniacslk/dhcp/dhcpv6/client6"
	"github.com/insomniacslk/dhcp/iana"
)

var log = logger.GetLogger("main")

var (
	flagInterface = flag.String("interface", "lo", "Interface to send the exchange on")
	flagRapid     = flag.Bool("rapid-commit", false, "Ask for a rapid commit exchange")
)

func main() {
	flag.Parse()

	macString := "00:11:22:33:44:55"
	if len(flag.Args()) > 0 {
		macString = flag.Arg(0)
	}

	c := client6.NewClient()
	c.LocalAddr = &net.UDPAddr{
		IP:   net.ParseIP("::1"),
		Port: dhcpv6.DefaultClientPort,
	}
	c.RemoteAddr = &net.UDPAddr{
		IP:   net.ParseIP("::1"),
		Port: dhcpv6.DefaultServerPort,
	}

	mac, err := net.ParseMAC(macString)
	if err != nil {
		log.Fatal(err)
	}
	duid := dhcpv6.DUIDLLT{
		HWType:        iana.HWTypeEthernet,
		Time:          dhcpv6.GetTime(),
		LinkLayerAddr: mac,
	}

	modifiers := []dhcpv6.Modifier{
		dhcpv6.WithClientID(&duid),
		dhcpv6.WithRequestedOptions(
			dhcpv6.OptionDNSRecursiveNameServer,
			dhcpv6.OptionDomainSearchList,
		),
	}
	if *flagRapid {
		modifiers = append(modifiers, func(d dhcpv6.DHCPv6) {
			d.UpdateOption(&dhcpv6.OptionGeneric{OptionCode: dhcpv6.OptionRapidCommit})
		})
	}

	conv, err := c.Exchange(*flagInterface, modifiers...)
	for _, p := range conv {
		log.Print(p.Summary())
	}
	if err != nil {
		log.Fatal(err)
	}
}
