// Package domain defines the core types shared by the relay: the routing
// configuration, the inbound alert payload and the error taxonomy.
//
// This package has no dependencies outside the Go standard library. The
// dependency direction is always:
//
//	config, dispatch, render, server → domain (CORRECT)
//	domain → infrastructure (FORBIDDEN)
//
// RoutingConfig values are immutable once built; the config store replaces the
// whole value on reload so concurrent readers never observe a partial update.
package domain
