// Copyright 2018-present the DHCPKit Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package prefix delegates prefixes to clients requesting them with
// IA_PD options, carving them from a configured pool.
//
// Arguments for the handler configuration, in this order:
//   - pool: the base prefix from which delegated prefixes are carved
//   - size: the size of the prefixes delegated to clients
package prefix

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv6"

	"github.com/corinnepritchard/dhcpkit/handler"
	"github.com/corinnepritchard/dhcpkit/handlers"
	"github.com/corinnepritchard/dhcpkit/handlers/allocators"
	"github.com/corinnepritchard/dhcpkit/handlers/allocators/bitmap"
	"github.com/corinnepritchard/dhcpkit/logger"
	"github.com/corinnepritchard/dhcpkit/transaction"
)

var log = logger.GetLogger("handlers/prefix")

// Factory registers the prefix delegation handler under the name `prefix`.
var Factory = handlers.Factory{
	Name:  "prefix",
	Setup: setup,
}

const leaseDuration = 3600 * time.Second

func setup(args ...string) (handler.Handler, error) {
	if len(args) < 2 {
		return nil, errors.New("need both a pool prefix and a delegated prefix size")
	}
	_, pool, err := net.ParseCIDR(args[0])
	if err != nil {
		return nil, fmt.Errorf("invalid pool prefix: %v", err)
	}
	size, err := strconv.Atoi(args[1])
	if err != nil || size > 128 || size < 0 {
		return nil, fmt.Errorf("invalid delegated prefix size: %v", args[1])
	}

	alloc, err := bitmap.New(*pool, size)
	if err != nil {
		return nil, fmt.Errorf("could not initialize prefix allocator: %v", err)
	}
	return &Handler{
		leases:    make(map[string][]lease),
		allocator: alloc,
	}, nil
}

type lease struct {
	prefix    net.IPNet
	expire    time.Time
	committed bool
}

// Handler holds the delegation state: what every known client currently
// has, and the allocator that hands out new blocks.
type Handler struct {
	handler.Base

	// leases has a string'd DUID as key, because []byte can't be a key
	// itself.
	mu        sync.Mutex
	leases    map[string][]lease
	allocator allocators.Allocator
}

// Handle implements handler.Handler. Every IA_PD in the request gets an
// IA_PD in the response: existing leases are extended, new requests are
// served from the allocator. Whether this is a committing assignment is
// not known yet; that is decided in Post, when the response type is
// final.
func (h *Handler) Handle(bundle *transaction.Bundle) error {
	switch bundle.Request.MessageType {
	case dhcpv6.MessageTypeSolicit, dhcpv6.MessageTypeRequest,
		dhcpv6.MessageTypeRenew, dhcpv6.MessageTypeRebind:
	default:
		return nil
	}
	if bundle.Response == nil {
		return nil
	}
	client := bundle.Request.Options.ClientID()
	if client == nil {
		return fmt.Errorf("no client identifier in %s: %w", bundle.Request.MessageType, handler.ErrCannotRespond)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	known := h.leases[leaseKey(client)]

	for _, iapd := range bundle.Request.Options.IAPD() {
		response := &dhcpv6.OptIAPD{IaId: iapd.IaId}

		hints := iapd.Options.Prefixes()
		if len(hints) == 0 {
			// An IA_PD without hints is still a request for one prefix.
			hints = []*dhcpv6.OptIAPrefix{{Prefix: &net.IPNet{}}}
		}

		answered := make(map[string]bool)
		for _, hint := range hints {
			l, ok := h.matchLease(known, hint)
			if !ok {
				var err error
				if l, err = h.newLease(hint); err != nil {
					log.Debugf("Nothing allocated for hinted prefix %s", hint)
					continue
				}
				known = append(known, l)
			}
			if answered[l.prefix.String()] {
				continue
			}
			answered[l.prefix.String()] = true
			addPrefix(response, l)
		}

		bundle.Response.AddOption(response)
	}

	h.leases[leaseKey(client)] = known
	return nil
}

// Post implements handler.Handler. Only a Reply binds the client to the
// delegation; an Advertise may be promoted to a Reply by rapid commit
// between the handle phase and here, which is exactly why the commit
// decision lives in Post.
func (h *Handler) Post(bundle *transaction.Bundle) error {
	if bundle.Response == nil || bundle.Response.MessageType != dhcpv6.MessageTypeReply {
		return nil
	}
	client := bundle.Request.Options.ClientID()
	if client == nil {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	known := h.leases[leaseKey(client)]
	for i := range known {
		if !known[i].committed {
			log.Debugf("Committing %s to %s", &known[i].prefix, client)
			known[i].committed = true
		}
	}
	return nil
}

// matchLease finds an existing lease satisfying the hint and extends it.
// An empty hint matches any lease the client already holds.
func (h *Handler) matchLease(known []lease, hint *dhcpv6.OptIAPrefix) (lease, bool) {
	wildcard := hint.Prefix == nil || hint.Prefix.IP == nil || hint.Prefix.IP.Equal(net.IPv6zero)
	for i := range known {
		if !wildcard && !samePrefix(hint.Prefix, &known[i].prefix) {
			continue
		}
		known[i].expire = time.Now().Add(leaseDuration)
		return known[i], true
	}
	return lease{}, false
}

func (h *Handler) newLease(hint *dhcpv6.OptIAPrefix) (lease, error) {
	hinted := net.IPNet{}
	if hint.Prefix != nil {
		hinted = *hint.Prefix
	}
	allocated, err := h.allocator.Allocate(hinted)
	if err != nil {
		return lease{}, err
	}
	return lease{
		prefix: allocated,
		expire: time.Now().Add(leaseDuration),
	}, nil
}

// samePrefix returns true if both prefixes are defined and equal
func samePrefix(a, b *net.IPNet) bool {
	if a == nil || b == nil {
		return false
	}
	aOnes, aBits := a.Mask.Size()
	bOnes, bBits := b.Mask.Size()
	return a.IP.Equal(b.IP) && aOnes == bOnes && aBits == bBits
}

// leaseKey computes the key for the lease map from the client ID
func leaseKey(d dhcpv6.DUID) string {
	return string(d.ToBytes())
}

func addPrefix(response *dhcpv6.OptIAPD, l lease) {
	lifetime := time.Until(l.expire)
	response.Options.Add(&dhcpv6.OptIAPrefix{
		PreferredLifetime: lifetime,
		ValidLifetime:     lifetime,
		Prefix:            dup(&l.prefix),
	})
}

func dup(src *net.IPNet) (dst *net.IPNet) {
	dst = &net.IPNet{
		IP:   make(net.IP, net.IPv6len),
		Mask: make(net.IPMask, net.IPv6len),
	}
	copy(dst.IP, src.IP)
	copy(dst.Mask, src.Mask)
	return dst
}
