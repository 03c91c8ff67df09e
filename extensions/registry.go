// Copyright 2018-present the DHCPKit Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package extensions keeps the process-wide registry of server
// extensions. Extensions contribute handlers that run around the
// user-configured handler tree: setup handlers before it, cleanup
// handlers after it. The registry is filled while the master process
// boots, before any worker exists, and is read-only afterwards.
package extensions

import (
	"github.com/corinnepritchard/dhcpkit/handler"
	"github.com/corinnepritchard/dhcpkit/logger"
)

var log = logger.GetLogger("extensions")

// Extension is implemented by anything that wants to splice handlers
// around the configured tree.
type Extension interface {
	// CreateSetupHandlers returns the handlers to run before the
	// configured tree, in order.
	CreateSetupHandlers() []handler.Handler

	// CreateCleanupHandlers returns the handlers to run after the
	// configured tree, in order.
	CreateCleanupHandlers() []handler.Handler
}

var (
	names      []string
	registered = make(map[string]Extension)
)

// Register adds an extension under the given name. Registering the same
// name again replaces the previous extension but keeps its position in
// the order.
func Register(name string, extension Extension) {
	if _, ok := registered[name]; !ok {
		names = append(names, name)
		log.Printf("Registering extension '%s'", name)
	} else {
		log.Printf("Replacing extension '%s'", name)
	}
	registered[name] = extension
}

// SetupHandlers collects the setup handlers of every registered
// extension, in registration order.
func SetupHandlers() []handler.Handler {
	var handlers []handler.Handler
	for _, name := range names {
		handlers = append(handlers, registered[name].CreateSetupHandlers()...)
	}
	return handlers
}

// CleanupHandlers collects the cleanup handlers of every registered
// extension, in registration order.
func CleanupHandlers() []handler.Handler {
	var handlers []handler.Handler
	for _, name := range names {
		handlers = append(handlers, registered[name].CreateCleanupHandlers()...)
	}
	return handlers
}

// Reset empties the registry. Tests use this to start from a clean slate.
func Reset() {
	names = nil
	registered = make(map[string]Extension)
}
