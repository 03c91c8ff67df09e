// Copyright 2018-present the DHCPKit Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package leasedb journals committed bindings to a SQLite database so
// that operators can see which client holds which address or prefix.
// The journal is written in the post phase: an Advertise commits
// nothing, and with rapid commit in play the response class is only
// final by then.
package leasedb

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	// Register the sqlite3 driver.
	_ "github.com/mattn/go-sqlite3"

	"github.com/insomniacslk/dhcp/dhcpv6"

	"github.com/corinnepritchard/dhcpkit/handler"
	"github.com/corinnepritchard/dhcpkit/handlers"
	"github.com/corinnepritchard/dhcpkit/logger"
	"github.com/corinnepritchard/dhcpkit/transaction"
)

var log = logger.GetLogger("handlers/leasedb")

// Factory registers the lease journal under the name `leasedb`.
var Factory = handlers.Factory{
	Name:  "leasedb",
	Setup: setup,
}

func setup(args ...string) (handler.Handler, error) {
	if len(args) < 1 {
		return nil, errors.New("need the path of the lease database")
	}
	return &Handler{path: args[0]}, nil
}

// Handler records bindings from committing replies.
type Handler struct {
	handler.Base
	path string
	db   *sql.DB
}

// WorkerInit implements handler.Handler. The database is opened here,
// once before serving starts, and every worker shares the handle.
func (h *Handler) WorkerInit() error {
	db, err := sql.Open("sqlite3", h.path)
	if err != nil {
		return fmt.Errorf("could not open lease database %s: %w", h.path, err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS leases (
		duid TEXT NOT NULL,
		iaid TEXT NOT NULL,
		resource TEXT NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		PRIMARY KEY (duid, iaid, resource)
	)`); err != nil {
		db.Close()
		return fmt.Errorf("could not prepare lease table: %w", err)
	}
	h.db = db
	return nil
}

// Post implements handler.Handler. Only a Reply binds the client, so
// anything else is none of our business.
func (h *Handler) Post(bundle *transaction.Bundle) error {
	if h.db == nil || bundle.Response == nil ||
		bundle.Response.MessageType != dhcpv6.MessageTypeReply {
		return nil
	}
	client := bundle.Request.Options.ClientID()
	if client == nil {
		return nil
	}
	duid := hex.EncodeToString(client.ToBytes())

	for _, ia := range bundle.Response.Options.IANA() {
		for _, addr := range ia.Options.Addresses() {
			h.record(duid, ia.IaId, addr.IPv6Addr.String(), addr.ValidLifetime)
		}
	}
	for _, ia := range bundle.Response.Options.IAPD() {
		for _, prefix := range ia.Options.Prefixes() {
			h.record(duid, ia.IaId, prefix.Prefix.String(), prefix.ValidLifetime)
		}
	}
	return nil
}

func (h *Handler) record(duid string, iaid [4]byte, resource string, valid time.Duration) {
	_, err := h.db.Exec(
		`INSERT OR REPLACE INTO leases (duid, iaid, resource, expires_at) VALUES (?, ?, ?, ?)`,
		duid, hex.EncodeToString(iaid[:]), resource, time.Now().Add(valid),
	)
	if err != nil {
		// A journal failure must not take the exchange down with it.
		log.Warningf("Could not record lease %s for %s: %v", resource, duid, err)
	}
}
