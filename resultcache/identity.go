package resultcache

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"

	"github.com/cespare/xxhash/v2"
)

type (
	// RoutineID identifies a cached routine, e.g. a qualified function name.
	RoutineID string

	// Key is the identity of a single call, see [Identity].
	Key uint64
)

// argument type tags, written ahead of each encoded argument, so that e.g.
// int(1) and uint(1) or "1" produce different identities
const (
	tagNil byte = iota + 1
	tagBool
	tagInt
	tagUint
	tagFloat
	tagString
	tagBytes
	tagKey
	tagStringer
	tagOther
)

// Identity combines the routine and each argument into a single key. It is
// pure: the same routine and arguments always yield the same key.
//
// Scalars, strings and byte slices are encoded directly. A [Key] argument is
// treated as a nested identity. Other values are encoded using their
// [fmt.Stringer] implementation, if any, otherwise their Go-syntax
// representation, so they must render deterministically (maps do, as fmt
// sorts keys; pointers do not make useful arguments).
func Identity(routine RoutineID, args ...any) Key {
	d := xxhash.New()
	var buf [9]byte
	writeString(d, buf[:], tagString, string(routine))
	for _, arg := range args {
		writeArg(d, buf[:], arg)
	}
	return Key(d.Sum64())
}

func writeArg(d *xxhash.Digest, buf []byte, arg any) {
	switch v := arg.(type) {
	case nil:
		buf[0] = tagNil
		_, _ = d.Write(buf[:1])
	case bool:
		buf[0] = tagBool
		buf[1] = 0
		if v {
			buf[1] = 1
		}
		_, _ = d.Write(buf[:2])
	case int:
		writeUint64(d, buf, tagInt, uint64(v))
	case int8:
		writeUint64(d, buf, tagInt, uint64(v))
	case int16:
		writeUint64(d, buf, tagInt, uint64(v))
	case int32:
		writeUint64(d, buf, tagInt, uint64(v))
	case int64:
		writeUint64(d, buf, tagInt, uint64(v))
	case uint:
		writeUint64(d, buf, tagUint, uint64(v))
	case uint8:
		writeUint64(d, buf, tagUint, uint64(v))
	case uint16:
		writeUint64(d, buf, tagUint, uint64(v))
	case uint32:
		writeUint64(d, buf, tagUint, uint64(v))
	case uint64:
		writeUint64(d, buf, tagUint, v)
	case uintptr:
		writeUint64(d, buf, tagUint, uint64(v))
	case float32:
		writeUint64(d, buf, tagFloat, math.Float64bits(float64(v)))
	case float64:
		writeUint64(d, buf, tagFloat, math.Float64bits(v))
	case string:
		writeString(d, buf, tagString, v)
	case []byte:
		writeUint64(d, buf, tagBytes, uint64(len(v)))
		_, _ = d.Write(v)
	case Key:
		writeUint64(d, buf, tagKey, uint64(v))
	case RoutineID:
		writeString(d, buf, tagString, string(v))
	case fmt.Stringer:
		writeString(d, buf, tagStringer, reflect.TypeOf(v).String()+`:`+v.String())
	default:
		writeString(d, buf, tagOther, fmt.Sprintf(`%T:%#v`, v, v))
	}
}

func writeUint64(d *xxhash.Digest, buf []byte, tag byte, v uint64) {
	buf[0] = tag
	binary.LittleEndian.PutUint64(buf[1:], v)
	_, _ = d.Write(buf[:9])
}

// strings are length-prefixed, so ("ab", "c") != ("a", "bc")
func writeString(d *xxhash.Digest, buf []byte, tag byte, s string) {
	writeUint64(d, buf, tag, uint64(len(s)))
	_, _ = d.WriteString(s)
}
