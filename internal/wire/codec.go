// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package wire implements the small subset of the protobuf binary format and
// gRPC-Web framing needed to talk to services without generated stubs.
package wire

import (
	"math"
	"slices"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

// Message is a decoded or to-be-encoded protobuf message keyed by field number.
//
// Encodable values: string, []byte, bool, every Go integer kind, float32 and
// float64. Floats are always written as fixed64 doubles. Decoded values are
// uint64 for varints, float64 for fixed64, string for valid UTF-8
// length-delimited fields and []byte otherwise.
type Message map[protowire.Number]any

// Marshal encodes m with fields in ascending field number order.
// Nil values and values of unsupported kinds are skipped.
func Marshal(m Message) []byte {
	nums := make([]protowire.Number, 0, len(m))
	for n := range m {
		nums = append(nums, n)
	}
	slices.Sort(nums)

	var b []byte
	for _, n := range nums {
		b = appendField(b, n, m[n])
	}
	return b
}

func appendField(b []byte, n protowire.Number, v any) []byte {
	switch x := v.(type) {
	case nil:
		return b
	case string:
		b = protowire.AppendTag(b, n, protowire.BytesType)
		return protowire.AppendString(b, x)
	case []byte:
		b = protowire.AppendTag(b, n, protowire.BytesType)
		return protowire.AppendBytes(b, x)
	case bool:
		b = protowire.AppendTag(b, n, protowire.VarintType)
		return protowire.AppendVarint(b, protowire.EncodeBool(x))
	case float64:
		b = protowire.AppendTag(b, n, protowire.Fixed64Type)
		return protowire.AppendFixed64(b, math.Float64bits(x))
	case float32:
		b = protowire.AppendTag(b, n, protowire.Fixed64Type)
		return protowire.AppendFixed64(b, math.Float64bits(float64(x)))
	}

	u, ok := varintValue(v)
	if !ok {
		return b
	}
	b = protowire.AppendTag(b, n, protowire.VarintType)
	return protowire.AppendVarint(b, u)
}

// varintValue maps Go integers onto the uint64 a protobuf int64/uint64 field
// would carry. Negative values use two's complement.
func varintValue(v any) (uint64, bool) {
	switch x := v.(type) {
	case int:
		return uint64(x), true
	case int8:
		return uint64(x), true
	case int16:
		return uint64(x), true
	case int32:
		return uint64(x), true
	case int64:
		return uint64(x), true
	case uint:
		return uint64(x), true
	case uint8:
		return uint64(x), true
	case uint16:
		return uint64(x), true
	case uint32:
		return uint64(x), true
	case uint64:
		return x, true
	}
	return 0, false
}

// Unmarshal decodes b as far as it can. Truncated input, malformed tags and
// wire types other than varint, fixed64 and length-delimited stop decoding;
// whatever was read before that point is returned.
func Unmarshal(b []byte) Message {
	m := Message{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m
			}
			m[num] = v
			b = b[n:]
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return m
			}
			m[num] = math.Float64frombits(v)
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return m
			}
			if utf8.Valid(v) {
				m[num] = string(v)
			} else {
				m[num] = slices.Clone(v)
			}
			b = b[n:]
		default:
			return m
		}
	}
	return m
}

// Uint returns field n as an unsigned integer. Booleans decode as 0 or 1.
func (m Message) Uint(n protowire.Number) (uint64, bool) {
	v, ok := m[n].(uint64)
	return v, ok
}

// Bool reports whether varint field n is set to a non-zero value.
func (m Message) Bool(n protowire.Number) bool {
	v, ok := m.Uint(n)
	return ok && v != 0
}

// String returns field n as text. Byte payloads are converted as-is.
func (m Message) String(n protowire.Number) string {
	switch v := m[n].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	}
	return ""
}

// Float returns the fixed64 field n as a double.
func (m Message) Float(n protowire.Number) (float64, bool) {
	v, ok := m[n].(float64)
	return v, ok
}

// Nested decodes the length-delimited field n as a message.
func (m Message) Nested(n protowire.Number) Message {
	switch v := m[n].(type) {
	case string:
		return Unmarshal([]byte(v))
	case []byte:
		return Unmarshal(v)
	}
	return Message{}
}
