// Package wire implements the splash session protocol's message types and
// their framing: a 4-byte big-endian length prefix around a 2-byte message
// discriminant and a field-tagged binary body, encoded with the same
// low-level primitives protocol buffers use (spec.md §4.5, §6: "field-tagged
// binary encoding equivalent to protocol buffers").
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/azonenberg/splash-build-system-sub000/internal/oid"
)

// Magic and Version are exchanged in the ServerHello/ClientHello handshake
// (spec.md §4.5 step 1-2); a mismatch on either side drops the connection.
const (
	Magic   uint32 = 0x53504c48 // "SPLH"
	Version uint32 = 1

	maxFrameLen = 256 << 20
)

// Type discriminates a wire message's concrete payload.
type Type uint16

const (
	TypeServerHello Type = iota + 1
	TypeClientHello
	TypeDevInfo
	TypeBuildInfo
	TypeAddCompiler
	TypeDependencyScan
	TypeDependencyResults
	TypeContentRequestByHash
	TypeContentResponse
	TypeBulkHashRequest
	TypeBulkHashResponse
	TypeBulkFileChanged
	TypeBulkFileAck
	TypeFileRemoved
	TypeNodeBuildRequest
	TypeNodeBuildResults
	TypeBuildRequest
	TypeBuildResults
	TypeInfoRequest
	TypeArchList
	TypeClientList
	TypeConfigList
	TypeNodeList
	TypeTargetList
	TypeToolchainList
)

// Message is satisfied by every concrete message type.
type Message interface {
	WireType() Type
	Marshal() []byte
	Unmarshal([]byte) error
}

// WriteFrame writes one length-prefixed frame: 4-byte BE total length,
// 2-byte BE message type, then the message's field-tagged body.
func WriteFrame(w io.Writer, msg Message) error {
	body := msg.Marshal()
	frame := make([]byte, 4+2+len(body))
	binary.BigEndian.PutUint32(frame[0:4], uint32(2+len(body)))
	binary.BigEndian.PutUint16(frame[4:6], uint16(msg.WireType()))
	copy(frame[6:], body)
	_, err := w.Write(frame)
	return err
}

// ReadFrame reads one frame and returns its type and raw body, leaving
// message-specific decoding to the caller (it knows, from protocol state,
// which concrete type to expect next).
func ReadFrame(r *bufio.Reader) (Type, []byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, fmt.Errorf("wire: read frame length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n < 2 || n > maxFrameLen {
		return 0, nil, fmt.Errorf("wire: invalid frame length %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, nil, fmt.Errorf("wire: read frame body: %w", err)
	}
	typ := Type(binary.BigEndian.Uint16(buf[:2]))
	return typ, buf[2:], nil
}

// Decode constructs the zero value for typ and unmarshals body into it.
func Decode(typ Type, body []byte) (Message, error) {
	var m Message
	switch typ {
	case TypeServerHello:
		m = &ServerHello{}
	case TypeClientHello:
		m = &ClientHello{}
	case TypeDevInfo:
		m = &DevInfo{}
	case TypeBuildInfo:
		m = &BuildInfo{}
	case TypeAddCompiler:
		m = &AddCompiler{}
	case TypeDependencyScan:
		m = &DependencyScan{}
	case TypeDependencyResults:
		m = &DependencyResults{}
	case TypeContentRequestByHash:
		m = &ContentRequestByHash{}
	case TypeContentResponse:
		m = &ContentResponse{}
	case TypeBulkHashRequest:
		m = &BulkHashRequest{}
	case TypeBulkHashResponse:
		m = &BulkHashResponse{}
	case TypeBulkFileChanged:
		m = &BulkFileChanged{}
	case TypeBulkFileAck:
		m = &BulkFileAck{}
	case TypeFileRemoved:
		m = &FileRemoved{}
	case TypeNodeBuildRequest:
		m = &NodeBuildRequest{}
	case TypeNodeBuildResults:
		m = &NodeBuildResults{}
	case TypeBuildRequest:
		m = &BuildRequest{}
	case TypeBuildResults:
		m = &BuildResults{}
	case TypeInfoRequest:
		m = &InfoRequest{}
	case TypeArchList:
		m = &ArchList{}
	case TypeClientList:
		m = &ClientList{}
	case TypeConfigList:
		m = &ConfigList{}
	case TypeNodeList:
		m = &NodeList{}
	case TypeTargetList:
		m = &TargetList{}
	case TypeToolchainList:
		m = &ToolchainList{}
	default:
		return nil, fmt.Errorf("wire: unknown message type %d", typ)
	}
	if err := m.Unmarshal(body); err != nil {
		return nil, err
	}
	return m, nil
}

// --- shared low-level field helpers, built on protowire's tag/varint/bytes
// primitives rather than hand-rolled TLV, per SPEC_FULL.md §4.8. ---

func appendBytesField(b []byte, fieldNum protowire.Number, data []byte) []byte {
	if len(data) == 0 {
		return b
	}
	b = protowire.AppendTag(b, fieldNum, protowire.BytesType)
	return protowire.AppendBytes(b, data)
}

func appendStringField(b []byte, fieldNum protowire.Number, s string) []byte {
	return appendBytesField(b, fieldNum, []byte(s))
}

func appendVarintField(b []byte, fieldNum protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, fieldNum, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBoolField(b []byte, fieldNum protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return appendVarintField(b, fieldNum, 1)
}

func appendOidField(b []byte, fieldNum protowire.Number, id oid.ID) []byte {
	return appendStringField(b, fieldNum, id.String())
}

func appendMessageField(b []byte, fieldNum protowire.Number, body []byte) []byte {
	b = protowire.AppendTag(b, fieldNum, protowire.BytesType)
	return protowire.AppendBytes(b, body)
}

// consumeFields walks every top-level field in body, invoking fn for each
// (fieldNum, wire value bytes/varint). Matches the "unknown fields are
// skipped" forward-compatibility behavior protobuf-style wire formats rely
// on.
func consumeFields(body []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) error) error {
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return fmt.Errorf("wire: bad tag: %w", protowire.ParseError(n))
		}
		body = body[n:]
		var val []byte
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return fmt.Errorf("wire: bad varint: %w", protowire.ParseError(n))
			}
			val = protowire.AppendVarint(nil, v)
			body = body[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(body)
			if n < 0 {
				return fmt.Errorf("wire: bad bytes: %w", protowire.ParseError(n))
			}
			val = v
			body = body[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, body)
			if n < 0 {
				return fmt.Errorf("wire: bad field: %w", protowire.ParseError(n))
			}
			body = body[n:]
			continue
		}
		if err := fn(num, typ, val); err != nil {
			return err
		}
	}
	return nil
}

func varintFrom(v []byte) uint64 {
	u, _ := protowire.ConsumeVarint(v)
	return u
}

func stringFrom(v []byte) string { return string(v) }

func oidFrom(v []byte) oid.ID {
	id, _ := oid.Parse(string(v))
	return id
}
