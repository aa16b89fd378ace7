// Package teoproxy is a client for the Teonet websocket proxy.
//
// A browser or a server process cannot join the Teonet overlay directly.
// Instead it opens a websocket to a proxy, asks it to connect to a peer, and
// exchanges packets with that peer through the proxy. Every websocket binary
// message carries exactly one Packet:
//
//	[id uvarint][cmd byte][peer string][name string][data len-bytes]
//
// Strings and byte slices are uvarint length-prefixed, the same encoding the
// page protocol uses (see package protocol).
//
// # Commands
//
//   - CmdNone: data pushed by the peer without a request (stream values)
//   - CmdConnectTo: connect the websocket to a peer, answered with empty data
//     on success or CmdError with the reason
//   - CmdSendTo: call a named API command of the peer; the answer carries
//     the same id, peer and name
//   - CmdStream: ask the peer to push a named stream
//   - CmdError: error answer to any request
//
// # Usage
//
//	c := teoproxy.NewClient(handler, teoproxy.DefaultConfig())
//	if err := c.Connect(ctx, "fortune-gui.teonet.dev", broker); err != nil {
//	    return err
//	}
//	c.SendTo(broker, "hello", []byte("Consumer 0!"))
//
// The Handler passed to NewClient is notified of connects, closes and
// incoming packets. OnClose is called exactly once for every successful
// Connect, from the client's read goroutine.
package teoproxy
