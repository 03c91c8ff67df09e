// Copyright 2018-present the DHCPKit Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package dynhandlers loads handlers from shared objects at runtime, for
// handlers that are not compiled into the daemon. A dynamic handler
// registers its factory from its init function, the same way built-in
// handlers are registered by the daemon.
package dynhandlers

import (
	"errors"
	"fmt"
	"path"
	"plugin"

	"github.com/corinnepritchard/dhcpkit/handlers"
)

// LoadDynamic attempts to load the handler handlerName in the given location
func LoadDynamic(location, handlerName string) error {
	if location == "" {
		return errors.New("dynamic handler loading is disabled")
	}
	if handlers.IsRegistered(handlerName) {
		// Handler is already loaded or builtin
		return nil
	}

	handlerFile := fmt.Sprintf("handler_%s.so", handlerName)
	if _, err := plugin.Open(path.Join(location, handlerFile)); err != nil {
		return fmt.Errorf("could not load dynamic handler %s: %v", handlerName, err)
	}
	if !handlers.IsRegistered(handlerName) {
		return fmt.Errorf("dynamic handler %s did not register itself", handlerName)
	}
	return nil
}
