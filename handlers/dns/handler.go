// Copyright 2018-present the DHCPKit Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package dns provides handlers for the DNS configuration options:
// recursive name servers and the domain search list. Both options are
// singletons on a response, so when several of these handlers run on the
// same bundle (say one globally and one under a filter) their values are
// combined instead of clobbering each other.
package dns

import (
	"errors"
	"net"

	"github.com/insomniacslk/dhcp/dhcpv6"
	"github.com/insomniacslk/dhcp/rfc1035label"

	"github.com/corinnepritchard/dhcpkit/dnsname"
	"github.com/corinnepritchard/dhcpkit/handler"
	"github.com/corinnepritchard/dhcpkit/handlers"
	"github.com/corinnepritchard/dhcpkit/logger"
)

var log = logger.GetLogger("handlers/dns")

// ServersFactory registers the name server handler under the name `dns`.
var ServersFactory = handlers.Factory{
	Name:  "dns",
	Setup: setupServers,
}

// SearchListFactory registers the search list handler under the name
// `searchdomains`.
var SearchListFactory = handlers.Factory{
	Name:  "searchdomains",
	Setup: setupSearchList,
}

func setupServers(args ...string) (handler.Handler, error) {
	if len(args) < 1 {
		return nil, errors.New("need at least one DNS server")
	}
	servers := make([]net.IP, 0, len(args))
	for _, arg := range args {
		server := net.ParseIP(arg)
		if server == nil || server.To4() != nil {
			return nil, errors.New("expected an IPv6 DNS server address, got: " + arg)
		}
		servers = append(servers, server)
	}
	log.Infof("Loaded %d DNS servers", len(servers))
	return NewRecursiveNameServersHandler(servers), nil
}

func setupSearchList(args ...string) (handler.Handler, error) {
	if len(args) < 1 {
		return nil, errors.New("need at least one search domain")
	}
	for _, domain := range args {
		if _, err := dnsname.Encode(domain); err != nil {
			return nil, err
		}
	}
	return NewSearchListHandler(args), nil
}

// NewRecursiveNameServersHandler returns a handler that puts the given
// name servers in responses that ask for them. Name servers inherited
// from other handlers stay in front of ours, without duplicates.
func NewRecursiveNameServersHandler(servers []net.IP) *handler.OptionHandler {
	return &handler.OptionHandler{
		Option:           dhcpv6.OptDNS(servers...),
		RequireRequested: true,
		Combine: func(existing []dhcpv6.Option) (dhcpv6.Option, error) {
			combined := make([]net.IP, 0, len(servers))
			seen := make(map[string]struct{})
			add := func(address net.IP) {
				key := string(address.To16())
				if _, ok := seen[key]; ok {
					return
				}
				seen[key] = struct{}{}
				combined = append(combined, address)
			}

			// Addresses from existing options come first.
			for _, option := range existing {
				payload := option.ToBytes()
				for len(payload) >= net.IPv6len {
					add(net.IP(payload[:net.IPv6len:net.IPv6len]))
					payload = payload[net.IPv6len:]
				}
			}
			// Then our own.
			for _, address := range servers {
				add(address.To16())
			}

			return dhcpv6.OptDNS(combined...), nil
		},
	}
}

// NewSearchListHandler returns a handler that puts the given search
// domains in responses that ask for them, merging with search domains
// contributed by other handlers: inherited domains first, ours after,
// each domain listed once.
func NewSearchListHandler(domains []string) *handler.OptionHandler {
	return &handler.OptionHandler{
		Option:           dhcpv6.OptDomainSearchList(&rfc1035label.Labels{Labels: domains}),
		RequireRequested: true,
		Combine: func(existing []dhcpv6.Option) (dhcpv6.Option, error) {
			combined := make([]string, 0, len(domains))
			seen := make(map[string]struct{})
			add := func(domain string) {
				if _, ok := seen[domain]; ok {
					return
				}
				seen[domain] = struct{}{}
				combined = append(combined, domain)
			}

			for _, option := range existing {
				inherited, err := dnsname.ParseList(option.ToBytes())
				if err != nil {
					return nil, err
				}
				for _, domain := range inherited {
					add(domain)
				}
			}
			for _, domain := range domains {
				add(domain)
			}

			return dhcpv6.OptDomainSearchList(&rfc1035label.Labels{Labels: combined}), nil
		},
	}
}
