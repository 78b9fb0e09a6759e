// SPDX-License-Identifier: GPL-3.0-or-later

package gensio

import (
	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
)

// NewSpanID returns a UUIDv7 identifying a span.
//
// Every [*Endpoint] and [*Accepter] receives a span ID at allocation, which
// is attached as the spanID field of the events it logs so that all events
// belonging to one connection can be correlated.
//
// This function panics if the system random number generator fails.
func NewSpanID() string {
	return runtimex.PanicOnError1(uuid.NewV7()).String()
}
