// Copyright 2018-present the DHCPKit Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package bitmap implements an allocator handing out prefixes of one
// fixed size carved from a containing pool. Fixing the size reduces the
// problem to single-slot allocations tracked in a bitmap, one bit per
// possible sub-prefix.
package bitmap

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/corinnepritchard/dhcpkit/handlers/allocators"
)

// Allocator allocates in chunks of a fixed size regardless of the size
// requested by the client. It consumes memory proportional to the total
// number of available prefixes.
type Allocator struct {
	pool net.IPNet
	size int

	mu     sync.Mutex
	bitmap *bitset.BitSet
}

// New creates an allocator carving /`size` prefixes out of the given
// pool prefix.
func New(pool net.IPNet, size int) (*Allocator, error) {
	poolSize, bits := pool.Mask.Size()
	if bits != 128 {
		return nil, errors.New("the pool must be an IPv6 prefix")
	}
	order := size - poolSize
	if order < 0 {
		return nil, errors.New("allocated prefixes cannot be larger than the pool they come from")
	}
	if order > 32 {
		return nil, fmt.Errorf("a pool of 2^%d prefixes is too large to track", order)
	}
	return &Allocator{
		pool:   net.IPNet{IP: pool.IP.Mask(pool.Mask).To16(), Mask: pool.Mask},
		size:   size,
		bitmap: bitset.New(1 << uint(order)),
	}, nil
}

// Allocate reserves a block. When the hint names a free prefix inside
// the pool that prefix is used, otherwise the first free slot is taken.
func (a *Allocator) Allocate(hint net.IPNet) (net.IPNet, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if hint.IP != nil && a.pool.Contains(hint.IP) {
		if idx, err := a.index(hint.IP); err == nil && !a.bitmap.Test(idx) {
			return a.take(idx)
		}
	}

	idx, ok := a.bitmap.NextClear(0)
	if !ok || idx >= a.bitmap.Len() {
		return net.IPNet{}, allocators.ErrNoPrefixAvail
	}
	return a.take(idx)
}

// Free returns the given prefix to the available pool if it was taken.
func (a *Allocator) Free(prefix net.IPNet) error {
	idx, err := a.index(prefix.IP.Mask(prefix.Mask))
	if err != nil {
		return fmt.Errorf("could not find prefix in pool: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.bitmap.Test(idx) {
		return &allocators.ErrDoubleFree{Loc: prefix}
	}
	a.bitmap.Clear(idx)
	return nil
}

func (a *Allocator) take(idx uint) (net.IPNet, error) {
	a.bitmap.Set(idx)
	return net.IPNet{
		IP:   a.prefixAt(idx),
		Mask: net.CIDRMask(a.size, 128),
	}, nil
}

// prefixAt maps a bitmap index back to the base address of its prefix:
// pool base plus index shifted into the sub-prefix bits.
func (a *Allocator) prefixAt(idx uint) net.IP {
	ip := make(net.IP, net.IPv6len)
	copy(ip, a.pool.IP)

	shift := 128 - a.size
	value := uint64(idx) << uint(shift%8)
	pos := net.IPv6len - 1 - shift/8
	var carry uint16
	for i := pos; i >= 0; i-- {
		sum := uint16(ip[i]) + uint16(value&0xff) + carry
		ip[i] = byte(sum)
		carry = sum >> 8
		value >>= 8
	}
	return ip
}

// index maps a prefix base address inside the pool to its bitmap index:
// the address bits between the pool length and the prefix length.
func (a *Allocator) index(base net.IP) (uint, error) {
	ip := base.To16()
	if ip == nil || !a.pool.Contains(ip) {
		return 0, fmt.Errorf("%s is not inside pool %s", base, a.pool.String())
	}

	// Shift the address right so the sub-prefix bits end up at the
	// bottom, then mask the pool bits away.
	shift := 128 - a.size
	byteOff, bitOff := shift/8, uint(shift%8)
	shifted := make([]byte, net.IPv6len)
	for i := net.IPv6len - 1; i >= 0; i-- {
		src := i - byteOff
		if src < 0 {
			break
		}
		shifted[i] = ip[src] >> bitOff
		if bitOff > 0 && src > 0 {
			shifted[i] |= ip[src-1] << (8 - bitOff)
		}
	}

	var idx uint64
	for _, b := range shifted[net.IPv6len-8:] {
		idx = idx<<8 | uint64(b)
	}
	poolSize, _ := a.pool.Mask.Size()
	idx &= 1<<uint(a.size-poolSize) - 1
	return uint(idx), nil
}
