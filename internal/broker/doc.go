// Package broker is a local stand-in for a Teonet proxy with a teomq broker
// peer behind it, used to develop and test the page without the overlay.
//
// It accepts proxy websocket connections, connects them to its own peer id
// and serves the broker API:
//
//	hello <name>            answers "Hello <name>"
//	msg Consumer            registers the connection as a consumer, answers "OK"
//	msg subscribe/<cmd>     subscribes to a producer command, answers "OK"
//	msg unsubscribe/<cmd>   drops a subscription, answers "OK"
//
// A stream request for a command, or a subscription to it, makes the broker
// push the command's values to the connection as "<cmd>/<value>" packets.
// A producer generates num_players and num_servers values in 1..100 every
// interval. Subscribing to "version" pushes "version/<broker version>" once.
package broker
