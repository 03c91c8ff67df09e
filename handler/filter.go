// Copyright 2018-present the DHCPKit Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package handler

import (
	"fmt"
	"net"

	"github.com/corinnepritchard/dhcpkit/transaction"
)

// Condition decides whether a filter applies to a bundle. It is evaluated
// again at every phase because earlier phases can add marks.
type Condition interface {
	Matches(bundle *transaction.Bundle) bool
	fmt.Stringer
}

// MarkedWith matches bundles that carry the given mark.
type MarkedWith string

// Matches implements Condition.
func (m MarkedWith) Matches(bundle *transaction.Bundle) bool {
	return bundle.MarkedWith(string(m))
}

func (m MarkedWith) String() string {
	return fmt.Sprintf("marked with %q", string(m))
}

// InSubnet matches bundles whose link-address falls inside the given
// subnet. Directly connected clients have an unspecified link-address and
// never match.
type InSubnet net.IPNet

// Matches implements Condition.
func (s InSubnet) Matches(bundle *transaction.Bundle) bool {
	ipnet := net.IPNet(s)
	return ipnet.Contains(bundle.LinkAddress())
}

func (s InSubnet) String() string {
	ipnet := net.IPNet(s)
	return fmt.Sprintf("in subnet %s", ipnet.String())
}

// Filter is an inner node of the handler tree: a condition plus the
// sub-filters and sub-handlers that only run while the condition holds.
// Filters implement Handler themselves, so nesting them conjoins their
// conditions along the path. Children run in declared order, sub-filters
// before sub-handlers.
type Filter struct {
	Condition   Condition
	SubFilters  []Handler
	SubHandlers []Handler
}

// WorkerInit implements Handler. Worker initialisation is unconditional:
// children must be ready even if the first matching request is still to
// come.
func (f *Filter) WorkerInit() error {
	for _, child := range f.children() {
		if err := child.WorkerInit(); err != nil {
			return err
		}
	}
	return nil
}

// Pre implements Handler.
func (f *Filter) Pre(bundle *transaction.Bundle) error {
	return f.phase(bundle, Handler.Pre)
}

// Handle implements Handler.
func (f *Filter) Handle(bundle *transaction.Bundle) error {
	return f.phase(bundle, Handler.Handle)
}

// Post implements Handler.
func (f *Filter) Post(bundle *transaction.Bundle) error {
	return f.phase(bundle, Handler.Post)
}

func (f *Filter) phase(bundle *transaction.Bundle, run func(Handler, *transaction.Bundle) error) error {
	if !f.Condition.Matches(bundle) {
		return nil
	}
	for _, child := range f.children() {
		if err := run(child, bundle); err != nil {
			return err
		}
	}
	return nil
}

func (f *Filter) children() []Handler {
	children := make([]Handler, 0, len(f.SubFilters)+len(f.SubHandlers))
	children = append(children, f.SubFilters...)
	children = append(children, f.SubHandlers...)
	return children
}

func (f *Filter) String() string {
	return fmt.Sprintf("filter %s (%d children)", f.Condition, len(f.SubFilters)+len(f.SubHandlers))
}
