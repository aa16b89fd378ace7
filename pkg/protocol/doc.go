// Package protocol implements the binary wire protocol spoken between the
// teoweb page server and the thin browser client.
//
// Go owns the page state. Every change of an element becomes a patch, patches
// are batched into sequenced frames and pushed over a WebSocket; the browser
// answers with events (clicks on action elements) and control messages.
//
// # Wire Format
//
// All messages are framed with a 4-byte header:
//
//	┌─────────────┬──────────────┬───────────────────────────────┐
//	│ Frame Type  │ Flags        │ Payload Length                │
//	│ (1 byte)    │ (1 byte)     │ (2 bytes, big-endian)         │
//	└─────────────┴──────────────┴───────────────────────────────┘
//
// # Frame Types
//
//   - FrameEvent (0x01): Client → Server events
//   - FramePatches (0x02): Server → Client patches
//   - FrameControl (0x03): Control messages (ping, resync, close)
//   - FrameError (0x05): Error message
//
// # Encoding
//
//   - Varint: Compact encoding for small integers (protobuf-style)
//   - Length-prefixed: Strings and byte arrays prefixed with varint length
//   - Big-endian: Fixed-width integers (uint16, uint64)
//
// The Encoder and Decoder are also used by package teoproxy for the proxy
// packet format, so both sides of teoweb share one set of primitives.
//
// # Patches
//
// Example SetText patch encoding:
//
//	[Op: 0x01][HID: len-prefixed][Value: len-prefixed]
//
// Usage:
//
//	pf := &PatchesFrame{
//	    Seq: 1,
//	    Patches: []Patch{
//	        NewSetTextPatch("connection", "connected"),
//	        NewAddClassPatch("connection", "connected"),
//	    },
//	}
//	frame := NewFrame(FramePatches, EncodePatches(pf))
package protocol
