package teoproxy

import (
	"fmt"
	"math"

	teoerrors "github.com/teonet-go/teoweb/internal/errors"
	"github.com/teonet-go/teoweb/pkg/protocol"
)

// Command is the proxy command carried by a packet.
type Command uint8

const (
	CmdNone      Command = 0 // Peer push, stream data
	CmdConnectTo Command = 1
	CmdSendTo    Command = 2
	CmdStream    Command = 3
	CmdError     Command = 4
)

// String returns the string representation of the command.
func (c Command) String() string {
	switch c {
	case CmdNone:
		return "None"
	case CmdConnectTo:
		return "ConnectTo"
	case CmdSendTo:
		return "SendTo"
	case CmdStream:
		return "Stream"
	case CmdError:
		return "Error"
	default:
		return fmt.Sprintf("Command(%d)", uint8(c))
	}
}

// Packet is one proxy message.
type Packet struct {
	ID   uint32
	Cmd  Command
	Peer string
	Name string
	Data []byte
}

// String returns a log friendly form of the packet.
func (p *Packet) String() string {
	return fmt.Sprintf("#%d %s %s/%s %q", p.ID, p.Cmd, p.Peer, p.Name, p.Data)
}

// EncodePacket encodes p to bytes.
func EncodePacket(p *Packet) []byte {
	e := protocol.NewEncoder()
	e.WriteUvarint(uint64(p.ID))
	e.WriteU8(byte(p.Cmd))
	e.WriteString(p.Peer)
	e.WriteString(p.Name)
	e.WriteLenBytes(p.Data)
	return e.Bytes()
}

// DecodePacket decodes a packet from bytes. Trailing bytes are an error.
func DecodePacket(data []byte) (*Packet, error) {
	malformed := func(err error) error {
		return teoerrors.New(teoerrors.CodeMalformedPacket).Wrap(err)
	}

	d := protocol.NewDecoder(data)

	id, err := d.ReadUvarint()
	if err != nil {
		return nil, malformed(err)
	}
	if id > math.MaxUint32 {
		return nil, malformed(fmt.Errorf("packet id %d overflows uint32", id))
	}

	cmd, err := d.ReadByte()
	if err != nil {
		return nil, malformed(err)
	}
	if Command(cmd) > CmdError {
		return nil, malformed(fmt.Errorf("unknown command %d", cmd))
	}

	peer, err := d.ReadString()
	if err != nil {
		return nil, malformed(err)
	}
	name, err := d.ReadString()
	if err != nil {
		return nil, malformed(err)
	}
	payload, err := d.ReadLenBytes()
	if err != nil {
		return nil, malformed(err)
	}
	if !d.EOF() {
		return nil, malformed(fmt.Errorf("%d trailing bytes", d.Remaining()))
	}
	if len(payload) == 0 {
		payload = nil
	}

	return &Packet{
		ID:   uint32(id),
		Cmd:  Command(cmd),
		Peer: peer,
		Name: name,
		Data: payload,
	}, nil
}
