// Copyright 2018-present the DHCPKit Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package handler defines the contract that every node in the request
// processing tree implements, plus the building blocks most handlers are
// assembled from: the no-op Base, the relay chain iterator, filters, and
// the singleton option handler with its combine semantics.
package handler

import (
	"errors"

	"github.com/corinnepritchard/dhcpkit/transaction"
)

// ErrCannotRespond signals that no reply to this client is possible. The
// message handler logs it at INFO level and drops the request.
var ErrCannotRespond = errors.New("cannot respond to this request")

// ErrUseMulticast signals that the client must retry over multicast. On a
// unicast request the message handler translates it into a Reply carrying
// STATUS_USEMULTICAST; on a multicast request it is nonsensical and gets
// logged as an error instead.
var ErrUseMulticast = errors.New("client must use multicast")

// Handler is implemented by every node in the handler tree, whether it is
// a leaf doing actual work or a filter grouping other nodes.
//
// WorkerInit runs once per loaded handler tree, before the worker pool
// starts serving requests with it, for state that is not set up when the
// handler is built (database connections, crypto handles). All workers
// share what it sets up. It never runs for a request.
//
// Pre may adjust marks or abort the exchange. The response does not exist
// yet in this phase. Handle does the main work: inspect the request, add
// options to the response, allocate resources. Handlers that assign
// addresses or prefixes should check whether the response is an Advertise
// or a Reply; the type can still change between Handle and Post when rapid
// commit is in use. Post runs when the response type is stable.
type Handler interface {
	WorkerInit() error
	Pre(bundle *transaction.Bundle) error
	Handle(bundle *transaction.Bundle) error
	Post(bundle *transaction.Bundle) error
}

// Base is a Handler that does nothing. Embed it and override the phases
// you need.
type Base struct{}

// WorkerInit implements Handler.
func (Base) WorkerInit() error { return nil }

// Pre implements Handler.
func (Base) Pre(*transaction.Bundle) error { return nil }

// Handle implements Handler.
func (Base) Handle(*transaction.Bundle) error { return nil }

// Post implements Handler.
func (Base) Post(*transaction.Bundle) error { return nil }
