package table

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"
)

type Type int

const (
	Int32 Type = iota + 1
	Int64
	String
)

func (typ Type) String() string {
	switch typ {
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case String:
		return "string"
	}
	return fmt.Sprintf("type(%d)", int(typ))
}

func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "int32":
		return Int32, nil
	case "int64":
		return Int64, nil
	case "string":
		return String, nil
	}
	return 0, fmt.Errorf("%w: type %s", ErrInvalidField, s)
}

// Value is an int32, an int64, or a string.
type Value interface{}

type Row []Value

func (typ Type) parse(s string) (Value, error) {
	switch typ {
	case Int32:
		n, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %s is not an int32", ErrInvalidValues, s)
		}
		return int32(n), nil
	case Int64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s is not an int64", ErrInvalidValues, s)
		}
		return n, nil
	case String:
		return s, nil
	}
	panic(fmt.Sprintf("table: unexpected type %s", typ))
}

func compareValues(v1, v2 Value) int {
	switch v1 := v1.(type) {
	case int32:
		return compareInt(int64(v1), int64(v2.(int32)))
	case int64:
		return compareInt(v1, v2.(int64))
	case string:
		return strings.Compare(v1, v2.(string))
	}
	panic(fmt.Sprintf("table: unexpected value %v", v1))
}

func compareInt(n1, n2 int64) int {
	if n1 < n2 {
		return -1
	} else if n1 > n2 {
		return 1
	}
	return 0
}

// stringKey hashes a string into the index key space; the reserved maximum key is never
// returned.
func stringKey(s string) int64 {
	sum := blake3.Sum256([]byte(s))
	key := int64(binary.BigEndian.Uint64(sum[:8]) >> 1)
	if key == math.MaxInt64 {
		key -= 1
	}
	return key
}

func indexKey(v Value) int64 {
	switch v := v.(type) {
	case int32:
		return int64(v)
	case int64:
		return v
	case string:
		return stringKey(v)
	}
	panic(fmt.Sprintf("table: unexpected value %v", v))
}

/*
Values are encoded by type:

    int32: [value(4)]
    int64: [value(8)]
    string: [length(4)] [bytes]
*/

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func decodeString(buf []byte) (string, []byte, error) {
	if len(buf) < 4 {
		return "", nil, fmt.Errorf("table: string too short: %d bytes", len(buf))
	}
	n := binary.BigEndian.Uint32(buf)
	buf = buf[4:]
	if uint64(len(buf)) < uint64(n) {
		return "", nil, fmt.Errorf("table: string length %d with %d bytes", n, len(buf))
	}
	return string(buf[:n]), buf[n:], nil
}

func appendValue(buf []byte, v Value) []byte {
	switch v := v.(type) {
	case int32:
		return binary.BigEndian.AppendUint32(buf, uint32(v))
	case int64:
		return binary.BigEndian.AppendUint64(buf, uint64(v))
	case string:
		return appendString(buf, v)
	}
	panic(fmt.Sprintf("table: unexpected value %v", v))
}

func decodeValue(typ Type, buf []byte) (Value, []byte, error) {
	switch typ {
	case Int32:
		if len(buf) < 4 {
			return nil, nil, fmt.Errorf("table: int32 too short: %d bytes", len(buf))
		}
		return int32(binary.BigEndian.Uint32(buf)), buf[4:], nil
	case Int64:
		if len(buf) < 8 {
			return nil, nil, fmt.Errorf("table: int64 too short: %d bytes", len(buf))
		}
		return int64(binary.BigEndian.Uint64(buf)), buf[8:], nil
	case String:
		return decodeString(buf)
	}
	return nil, nil, fmt.Errorf("table: unexpected type %s", typ)
}
