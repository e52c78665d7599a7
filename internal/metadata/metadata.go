// Package metadata builds the event-descriptor blobs carried by
// metadata events: a v1 layout for simple parameter lists, and a v2
// layout (UTF-16, tagged) when any parameter has array type or an
// opcode is specified.
package metadata

import (
	"encoding/binary"
	"unicode/utf16"
)

// ParamType is a wire-binding parameter type code.
type ParamType uint32

const (
	ParamEmpty    ParamType = 0
	ParamObject   ParamType = 1
	ParamDbNull   ParamType = 2
	ParamBoolean  ParamType = 3
	ParamChar     ParamType = 4
	ParamSByte    ParamType = 5
	ParamByte     ParamType = 6
	ParamInt16    ParamType = 7
	ParamUInt16   ParamType = 8
	ParamInt32    ParamType = 9
	ParamUInt32   ParamType = 10
	ParamInt64    ParamType = 11
	ParamUInt64   ParamType = 12
	ParamSingle   ParamType = 13
	ParamDouble   ParamType = 14
	ParamDecimal  ParamType = 15
	ParamDateTime ParamType = 16
	ParamGUID     ParamType = 17
	ParamString   ParamType = 18
	ParamArray    ParamType = 19
)

// Parameter describes one event parameter.
type Parameter struct {
	Name    string
	Type    ParamType
	IsArray bool
}

// Descriptor is the input to Build: everything needed to generate an
// event's metadata blob.
type Descriptor struct {
	EventID    uint32
	EventName  string
	Keywords   int64
	Version    uint32
	Level      uint32
	Opcode     *byte // nil if unspecified
	Parameters []Parameter
}

func utf16NulTerminated(s string) []byte {
	u := utf16.Encode([]rune(s))
	b := make([]byte, len(u)*2+2)
	for i, v := range u {
		binary.LittleEndian.PutUint16(b[i*2:i*2+2], v)
	}
	// trailing 2 bytes already zero (nul terminator)
	return b
}

// needsV2 reports whether d requires the v2 layout: any array
// parameter, or an opcode is specified.
func needsV2(d *Descriptor) bool {
	if d.Opcode != nil {
		return true
	}
	for _, p := range d.Parameters {
		if p.IsArray {
			return true
		}
	}
	return false
}

// Build generates the wire-format metadata blob for d, choosing v1 or
// v2 per §6.
func Build(d *Descriptor) []byte {
	if needsV2(d) {
		return buildV2(d)
	}
	return buildV1(d)
}

func buildV1(d *Descriptor) []byte {
	var buf []byte
	buf = appendU32(buf, d.EventID)
	buf = append(buf, utf16NulTerminated(d.EventName)...)
	buf = appendI64(buf, d.Keywords)
	buf = appendU32(buf, d.Version)
	buf = appendU32(buf, d.Level)
	buf = appendU32(buf, uint32(len(d.Parameters)))
	for _, p := range d.Parameters {
		buf = appendU32(buf, uint32(p.Type))
		buf = append(buf, utf16NulTerminated(p.Name)...)
	}
	return buf
}

func buildV2(d *Descriptor) []byte {
	var buf []byte
	buf = appendU32(buf, d.EventID)
	buf = append(buf, utf16NulTerminated(d.EventName)...)
	buf = appendI64(buf, d.Keywords)
	buf = appendU32(buf, d.Version)
	buf = appendU32(buf, d.Level)
	buf = appendU32(buf, 0) // parameter_count = 0 signals v2 tags follow

	if d.Opcode != nil {
		tagPayload := []byte{*d.Opcode}
		buf = appendU32(buf, uint32(len(tagPayload)))
		buf = append(buf, 1) // tag 1 = opcode
		buf = append(buf, tagPayload...)
	}

	if len(d.Parameters) > 0 {
		var paramBuf []byte
		paramBuf = appendU32(paramBuf, uint32(len(d.Parameters)))
		for _, p := range d.Parameters {
			var field []byte
			field = append(field, utf16NulTerminated(p.Name)...)
			if p.IsArray {
				field = appendU32(field, uint32(ParamArray))
			}
			field = appendU32(field, uint32(p.Type))

			paramBuf = appendU32(paramBuf, uint32(len(field)))
			paramBuf = append(paramBuf, field...)
		}
		buf = appendU32(buf, uint32(len(paramBuf)))
		buf = append(buf, 2) // tag 2 = parameter payload
		buf = append(buf, paramBuf...)
	}

	return buf
}

func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendI64(b []byte, v int64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(v))
	return append(b, tmp[:]...)
}
