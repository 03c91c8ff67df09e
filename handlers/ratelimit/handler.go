// Copyright 2018-present the DHCPKit Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package ratelimit drops requests from clients that send faster than a
// configured rate. Request rates are tracked per client in an LRU cache
// of token buckets so that memory use stays bounded no matter how many
// identities a misbehaving client invents; adding new entries to the
// cache is rate limited as well, for the same reason.
//
// The limiter is meant to run before everything else, so the package is
// exposed as an extension contributing a setup handler rather than a
// handler placed somewhere in the configured tree.
package ratelimit

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/corinnepritchard/dhcpkit/extensions"
	"github.com/corinnepritchard/dhcpkit/handler"
	"github.com/corinnepritchard/dhcpkit/logger"
	"github.com/corinnepritchard/dhcpkit/transaction"
)

var log = logger.GetLogger("handlers/ratelimit")

// Extension wires the throttle into the server as setup handler.
type Extension struct {
	handler *Handler
}

// NewExtension builds a rate limiting extension allowing maxRatePerClient
// requests per second per client, tracking at most cacheSize clients.
func NewExtension(maxRatePerClient, cacheSize int) (*Extension, error) {
	h, err := NewHandler(maxRatePerClient, cacheSize)
	if err != nil {
		return nil, err
	}
	return &Extension{handler: h}, nil
}

// CreateSetupHandlers implements extensions.Extension.
func (e *Extension) CreateSetupHandlers() []handler.Handler {
	return []handler.Handler{e.handler}
}

// CreateCleanupHandlers implements extensions.Extension.
func (e *Extension) CreateCleanupHandlers() []handler.Handler {
	return nil
}

// Handler is the throttle itself.
type Handler struct {
	handler.Base

	mu               sync.Mutex
	clients          *lru.Cache[string, *rate.Limiter]
	maxRatePerClient int
	cacheLimiter     *rate.Limiter
}

// NewHandler builds a throttle handler. See NewExtension for the
// parameters.
func NewHandler(maxRatePerClient, cacheSize int) (*Handler, error) {
	if maxRatePerClient <= 0 {
		return nil, fmt.Errorf("rate limit must be positive, got %d", maxRatePerClient)
	}
	clients, err := lru.New[string, *rate.Limiter](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Handler{
		clients:          clients,
		maxRatePerClient: maxRatePerClient,
		// Keep cache churn an order of magnitude below its size per
		// second, so established clients are not evicted by an
		// identity-cycling flood.
		cacheLimiter: rate.NewLimiter(rate.Limit(cacheSize/10+1), cacheSize/10+1),
	}, nil
}

// Pre implements handler.Handler. Over-limit clients are dropped before
// any real work happens.
func (h *Handler) Pre(bundle *transaction.Bundle) error {
	key := h.clientKey(bundle)
	if h.allow(key) {
		return nil
	}
	log.Infof("Client %q is above the rate limit of %d/s", key, h.maxRatePerClient)
	return fmt.Errorf("rate limit exceeded: %w", handler.ErrCannotRespond)
}

func (h *Handler) allow(key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	limiter, ok := h.clients.Get(key)
	if !ok {
		if !h.cacheLimiter.Allow() {
			// Too many new identities at once; treat unknown clients
			// as over the limit until the cache calms down.
			return false
		}
		limiter = rate.NewLimiter(rate.Limit(h.maxRatePerClient), h.maxRatePerClient)
		h.clients.Add(key, limiter)
	}
	return limiter.Allow()
}

// clientKey identifies the client as stably as we can: its DUID when it
// sent one, otherwise the link it came in on.
func (h *Handler) clientKey(bundle *transaction.Bundle) string {
	if clientID := bundle.Request.Options.ClientID(); clientID != nil {
		return string(clientID.ToBytes())
	}
	return bundle.LinkAddress().String()
}
