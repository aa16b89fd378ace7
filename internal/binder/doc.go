// Package binder keeps the fortune page in sync with a Teonet broker peer.
//
// A Binder owns one proxy client. It connects to the proxy host and the
// broker peer, subscribes to the broker's streams once connected, and
// reflects everything the broker sends into page elements:
//
//	connection   "connected" / "disconnected", with the class of the same name
//	fortune      the answer to the last hello request, as HTML
//	num_players  the latest num_players stream value
//	num_servers  the latest num_servers stream value
//
// Run drives the connection. When the connection closes, or cannot be
// established, the page shows "disconnected" and Run retries after a delay
// taken from a capped exponential backoff (1s, 2s, 4s ... 30s by default).
// The backoff is reset after every successful connect, so the first retry
// after a drop always waits the initial delay. Run returns when its context
// is cancelled.
//
// NextMessage is the page action behind the "next" button: it asks the
// broker for a new fortune with a greeting that carries a per-binder counter.
package binder
