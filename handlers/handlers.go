// Copyright 2018-present the DHCPKit Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package handlers maps handler names from the configuration file to the
// code implementing them. For a handler to be usable in a config it must
// have been registered first; the daemon does this for every handler it
// ships with.
package handlers

import (
	"errors"
	"net"

	"github.com/corinnepritchard/dhcpkit/config"
	"github.com/corinnepritchard/dhcpkit/handler"
	"github.com/corinnepritchard/dhcpkit/logger"
)

var log = logger.GetLogger("handlers")

// SetupFunc builds a handler from its configuration arguments.
type SetupFunc func(args ...string) (handler.Handler, error)

// Factory describes one registerable handler.
type Factory struct {
	Name  string
	Setup SetupFunc
}

var registered = make(map[string]*Factory)

// Register registers a handler factory.
func Register(factory *Factory) error {
	if factory == nil {
		return errors.New("cannot register nil factory")
	}
	log.Printf("Registering handler '%s'", factory.Name)
	if _, ok := registered[factory.Name]; ok {
		log.Panicf("Handler '%s' is already registered", factory.Name)
	}
	registered[factory.Name] = factory
	return nil
}

// IsRegistered reports whether a handler factory with this name exists.
func IsRegistered(name string) bool {
	_, ok := registered[name]
	return ok
}

// Setup builds the named handler with the given arguments.
func Setup(name string, args ...string) (handler.Handler, error) {
	factory, ok := registered[name]
	if !ok {
		return nil, config.ConfigErrorFromString("unknown handler `%s`", name)
	}
	log.Printf("Loading handler `%s`", name)
	h, err := factory.Setup(args...)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, config.ConfigErrorFromString("no handler returned for `%s`", name)
	}
	return h, nil
}

// LoadTree builds the configured sub-filters and sub-handlers for the
// message handler from the server configuration.
func LoadTree(sc *config.ServerConfig) (subFilters, subHandlers []handler.Handler, err error) {
	subFilters, err = buildFilters(sc.Filters)
	if err != nil {
		return nil, nil, err
	}
	subHandlers, err = buildHandlers(sc.Handlers)
	if err != nil {
		return nil, nil, err
	}
	return subFilters, subHandlers, nil
}

func buildHandlers(configs []config.HandlerConfig) ([]handler.Handler, error) {
	built := make([]handler.Handler, 0, len(configs))
	for _, hc := range configs {
		h, err := Setup(hc.Name, hc.Args...)
		if err != nil {
			return nil, err
		}
		built = append(built, h)
	}
	return built, nil
}

func buildFilters(configs []config.FilterConfig) ([]handler.Handler, error) {
	built := make([]handler.Handler, 0, len(configs))
	for _, fc := range configs {
		condition, err := buildCondition(fc)
		if err != nil {
			return nil, err
		}
		subFilters, err := buildFilters(fc.Filters)
		if err != nil {
			return nil, err
		}
		subHandlers, err := buildHandlers(fc.Handlers)
		if err != nil {
			return nil, err
		}
		built = append(built, &handler.Filter{
			Condition:   condition,
			SubFilters:  subFilters,
			SubHandlers: subHandlers,
		})
	}
	return built, nil
}

func buildCondition(fc config.FilterConfig) (handler.Condition, error) {
	switch fc.Condition {
	case "marked-with":
		if fc.Value == "" {
			return nil, config.ConfigErrorFromString("marked-with filter needs a mark")
		}
		return handler.MarkedWith(fc.Value), nil
	case "subnet":
		_, subnet, err := net.ParseCIDR(fc.Value)
		if err != nil {
			return nil, config.ConfigErrorFromString("subnet filter needs a CIDR prefix: %v", err)
		}
		return handler.InSubnet(*subnet), nil
	default:
		return nil, config.ConfigErrorFromString("unknown filter condition `%s`", fc.Condition)
	}
}
