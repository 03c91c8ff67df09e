// Copyright 2018-present the DHCPKit Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package ignore provides a handler that cleanly drops the request. Put
// it under a filter to blackhole a class of clients.
package ignore

import (
	"fmt"

	"github.com/corinnepritchard/dhcpkit/handler"
	"github.com/corinnepritchard/dhcpkit/handlers"
	"github.com/corinnepritchard/dhcpkit/logger"
	"github.com/corinnepritchard/dhcpkit/transaction"
)

var log = logger.GetLogger("handlers/ignore")

// Factory registers the ignore handler under the name `ignore`.
var Factory = handlers.Factory{
	Name:  "ignore",
	Setup: setup,
}

func setup(args ...string) (handler.Handler, error) {
	return &Handler{}, nil
}

// Handler aborts the pipeline for every request that reaches it.
type Handler struct {
	handler.Base
}

// Pre implements handler.Handler.
func (h *Handler) Pre(bundle *transaction.Bundle) error {
	log.Infof("Configured to ignore %s", bundle.Request.MessageType)
	return fmt.Errorf("ignoring %s: %w", bundle.Request.MessageType, handler.ErrCannotRespond)
}
