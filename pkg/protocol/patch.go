package protocol

import "fmt"

// PatchOp is the type of patch operation.
type PatchOp uint8

// Patch operation constants.
const (
	PatchSetText     PatchOp = 0x01 // Update text content
	PatchAddClass    PatchOp = 0x10 // Add CSS class
	PatchRemoveClass PatchOp = 0x11 // Remove CSS class
	PatchSetHTML     PatchOp = 0x16 // Replace inner HTML
)

// String returns the string representation of the patch operation.
func (op PatchOp) String() string {
	switch op {
	case PatchSetText:
		return "SetText"
	case PatchAddClass:
		return "AddClass"
	case PatchRemoveClass:
		return "RemoveClass"
	case PatchSetHTML:
		return "SetHTML"
	default:
		return "Unknown"
	}
}

// Patch represents a single DOM operation on the element with id HID.
type Patch struct {
	Op    PatchOp
	HID   string // Target element id
	Value string // Text, markup or class name
}

// String returns a compact human readable form, used in logs and test output.
func (p Patch) String() string {
	return fmt.Sprintf("%s(%s, %q)", p.Op, p.HID, p.Value)
}

// PatchesFrame represents a batch of patches with sequence number.
type PatchesFrame struct {
	Seq     uint64
	Patches []Patch
}

// EncodePatches encodes a patches frame to bytes.
func EncodePatches(pf *PatchesFrame) []byte {
	e := NewEncoder()
	EncodePatchesTo(e, pf)
	return e.Bytes()
}

// EncodePatchesTo encodes a patches frame using the provided encoder.
func EncodePatchesTo(e *Encoder, pf *PatchesFrame) {
	e.WriteUvarint(pf.Seq)
	e.WriteUvarint(uint64(len(pf.Patches)))

	for i := range pf.Patches {
		encodePatch(e, &pf.Patches[i])
	}
}

// encodePatch encodes a single patch.
func encodePatch(e *Encoder, p *Patch) {
	e.WriteU8(byte(p.Op))
	e.WriteString(p.HID)
	e.WriteString(p.Value)
}

// DecodePatches decodes a patches frame from bytes.
func DecodePatches(data []byte) (*PatchesFrame, error) {
	d := NewDecoder(data)
	return DecodePatchesFrom(d)
}

// DecodePatchesFrom decodes a patches frame from a decoder.
func DecodePatchesFrom(d *Decoder) (*PatchesFrame, error) {
	seq, err := d.ReadUvarint()
	if err != nil {
		return nil, err
	}

	count, err := d.ReadCollectionCount()
	if err != nil {
		return nil, err
	}

	patches := make([]Patch, count)
	for i := 0; i < count; i++ {
		if err := decodePatch(d, &patches[i]); err != nil {
			return nil, err
		}
	}

	return &PatchesFrame{
		Seq:     seq,
		Patches: patches,
	}, nil
}

// decodePatch decodes a single patch.
func decodePatch(d *Decoder, p *Patch) error {
	opByte, err := d.ReadByte()
	if err != nil {
		return err
	}
	p.Op = PatchOp(opByte)

	p.HID, err = d.ReadString()
	if err != nil {
		return err
	}

	switch p.Op {
	case PatchSetText, PatchSetHTML, PatchAddClass, PatchRemoveClass:
	default:
		return fmt.Errorf("protocol: unknown patch op 0x%02x", opByte)
	}

	p.Value, err = d.ReadString()
	return err
}

// NewSetTextPatch creates a SetText patch.
func NewSetTextPatch(hid, text string) Patch {
	return Patch{Op: PatchSetText, HID: hid, Value: text}
}

// NewSetHTMLPatch creates a SetHTML patch.
func NewSetHTMLPatch(hid, html string) Patch {
	return Patch{Op: PatchSetHTML, HID: hid, Value: html}
}

// NewAddClassPatch creates an AddClass patch.
func NewAddClassPatch(hid, class string) Patch {
	return Patch{Op: PatchAddClass, HID: hid, Value: class}
}

// NewRemoveClassPatch creates a RemoveClass patch.
func NewRemoveClassPatch(hid, class string) Patch {
	return Patch{Op: PatchRemoveClass, HID: hid, Value: class}
}
