package protocol

import "fmt"

// EventType identifies the type of client event.
type EventType uint8

// Event type constants.
const (
	EventClick EventType = 0x01
)

// String returns the string representation of the event type.
func (et EventType) String() string {
	switch et {
	case EventClick:
		return "Click"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", uint8(et))
	}
}

// Event is sent by the client when the user interacts with an action
// element.
type Event struct {
	Seq  uint64
	Type EventType
	HID  string
}

// EncodeEvent encodes an event to bytes.
func EncodeEvent(e *Event) []byte {
	enc := NewEncoder()
	EncodeEventTo(enc, e)
	return enc.Bytes()
}

// EncodeEventTo encodes an event using the provided encoder.
func EncodeEventTo(enc *Encoder, e *Event) {
	enc.WriteUvarint(e.Seq)
	enc.WriteU8(byte(e.Type))
	enc.WriteString(e.HID)
}

// DecodeEvent decodes an event from bytes.
func DecodeEvent(data []byte) (*Event, error) {
	d := NewDecoder(data)
	return DecodeEventFrom(d)
}

// DecodeEventFrom decodes an event from a decoder.
func DecodeEventFrom(d *Decoder) (*Event, error) {
	seq, err := d.ReadUvarint()
	if err != nil {
		return nil, err
	}

	typeByte, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	if EventType(typeByte) != EventClick {
		return nil, fmt.Errorf("protocol: unknown event type 0x%02x", typeByte)
	}

	hid, err := d.ReadString()
	if err != nil {
		return nil, err
	}

	return &Event{Seq: seq, Type: EventType(typeByte), HID: hid}, nil
}
