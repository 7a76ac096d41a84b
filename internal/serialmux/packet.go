package serialmux

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// ErrMalformedPacket is returned when the device sends bytes that do not
// form a packet.
var ErrMalformedPacket = errors.New("malformed packet")

// PacketKind is the first byte of every device packet.
type PacketKind byte

const (
	// PacketLine carries one scanline:
	// 'L' channel:u8 depth:u8 index:u32be len:u16be data.
	PacketLine PacketKind = 'L'
	// PacketEnd marks the end of the current pass: 'E'.
	PacketEnd PacketKind = 'E'
	// PacketError reports a device fault: 'X' len:u16be message.
	PacketError PacketKind = 'X'
)

func (k PacketKind) String() string {
	switch k {
	case PacketLine:
		return "line"
	case PacketEnd:
		return "end"
	case PacketError:
		return "error"
	}
	return fmt.Sprintf("kind(0x%02x)", byte(k))
}

// Packet is one decoded device packet.
type Packet struct {
	Kind    PacketKind
	Channel uint8
	Depth   uint8
	Index   uint32
	Data    []byte // samples for a line, message text for an error
}

func (p Packet) String() string {
	switch p.Kind {
	case PacketLine:
		return fmt.Sprintf("line ch=%d depth=%d index=%d len=%d", p.Channel, p.Depth, p.Index, len(p.Data))
	case PacketError:
		return fmt.Sprintf("error %q", p.Data)
	}
	return p.Kind.String()
}

// MarshalBinary encodes the packet in wire format.
func (p Packet) MarshalBinary() ([]byte, error) {
	if len(p.Data) > math.MaxUint16 {
		return nil, fmt.Errorf("packet payload of %d bytes: %w", len(p.Data), ErrMalformedPacket)
	}
	switch p.Kind {
	case PacketLine:
		b := make([]byte, 9, 9+len(p.Data))
		b[0] = byte(PacketLine)
		b[1] = p.Channel
		b[2] = p.Depth
		binary.BigEndian.PutUint32(b[3:], p.Index)
		binary.BigEndian.PutUint16(b[7:], uint16(len(p.Data)))
		return append(b, p.Data...), nil
	case PacketEnd:
		return []byte{byte(PacketEnd)}, nil
	case PacketError:
		b := make([]byte, 3, 3+len(p.Data))
		b[0] = byte(PacketError)
		binary.BigEndian.PutUint16(b[1:], uint16(len(p.Data)))
		return append(b, p.Data...), nil
	}
	return nil, fmt.Errorf("unknown %s: %w", p.Kind, ErrMalformedPacket)
}

// ReadPacket decodes the next packet from r. It returns io.EOF only when the
// stream ends cleanly between packets.
func ReadPacket(r *bufio.Reader) (Packet, error) {
	kind, err := r.ReadByte()
	if err != nil {
		return Packet{}, err
	}
	p := Packet{Kind: PacketKind(kind)}
	switch p.Kind {
	case PacketEnd:
		return p, nil
	case PacketLine:
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return p, truncated(p.Kind, err)
		}
		p.Channel = hdr[0]
		p.Depth = hdr[1]
		p.Index = binary.BigEndian.Uint32(hdr[2:])
		p.Data, err = readPayload(r, binary.BigEndian.Uint16(hdr[6:]))
		if err != nil {
			return p, truncated(p.Kind, err)
		}
		return p, nil
	case PacketError:
		var hdr [2]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return p, truncated(p.Kind, err)
		}
		p.Data, err = readPayload(r, binary.BigEndian.Uint16(hdr[:]))
		if err != nil {
			return p, truncated(p.Kind, err)
		}
		return p, nil
	}
	return p, fmt.Errorf("unexpected packet byte 0x%02x: %w", kind, ErrMalformedPacket)
}

func readPayload(r io.Reader, n uint16) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func truncated(k PacketKind, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("truncated %s packet: %w", k, ErrMalformedPacket)
	}
	return err
}
