// Package codec implements the canonical, byte-exact serialization of
// function argument and result dictionaries. The format is a private
// binary TLV encoding: a deterministic alternative to
// encoding/json (whose map key order and number formatting are not
// guaranteed stable enough for the byte-identical contract this package
// promises) and to encoding/gob (whose map wire encoding follows Go's
// randomized map iteration order, not sorted key order). No example repo
// in the retrieval pack ships a canonical-encoding library; see
// DESIGN.md for the stdlib-only justification.
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"sort"

	"github.com/nuulab/gjs/internal/gjserr"
)

// version is written as the first byte of every non-empty encoding so a
// future format change can be detected instead of silently misread.
const version byte = 1

// Type tags for the TLV format.
const (
	tagNull byte = iota
	tagBool
	tagInt
	tagFloat
	tagString
	tagBytes
	tagList
	tagDict
)

// Dict is the argument/result dictionary type the dispatch engine and
// queue client exchange. Values may be nil, bool, int64, float64, string,
// []byte, []any (of the same value kinds), or a nested Dict.
type Dict = map[string]any

// Encode serializes d into the canonical wire format. encode(nil) yields
// an empty byte slice. Before returning, Encode decodes its own output and
// deep-compares it against d; any divergence is reported as a CodecError
// so a non-representable value never reaches the queue.
func Encode(d Dict) ([]byte, error) {
	if d == nil {
		return []byte{}, nil
	}

	var buf bytes.Buffer
	buf.WriteByte(version)
	if err := encodeValue(&buf, d); err != nil {
		return nil, gjserr.New(gjserr.CodecError, err)
	}

	out := buf.Bytes()

	// Round-trip verification: guard against non-serializable or
	// lossy values before the bytes are ever handed to the queue.
	back, err := Decode(out)
	if err != nil {
		return nil, gjserr.New(gjserr.CodecError, fmt.Errorf("round-trip decode failed: %w", err))
	}
	if !reflect.DeepEqual(normalize(d), back) {
		return nil, gjserr.New(gjserr.CodecError, fmt.Errorf("round-trip mismatch: %#v != %#v", d, back))
	}

	return out, nil
}

// Decode deserializes bytes produced by Encode. decode(empty) yields nil.
func Decode(data []byte) (Dict, error) {
	if len(data) == 0 {
		return nil, nil
	}

	r := bytes.NewReader(data)
	v, err := readVersioned(r)
	if err != nil {
		return nil, gjserr.New(gjserr.CodecError, err)
	}

	d, ok := v.(Dict)
	if !ok {
		return nil, gjserr.New(gjserr.CodecError, fmt.Errorf("top-level value is not a dictionary"))
	}
	return d, nil
}

func readVersioned(r *bytes.Reader) (any, error) {
	v, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("empty payload")
	}
	if v != version {
		return nil, fmt.Errorf("unsupported codec version %d", v)
	}
	return decodeValue(r)
}

// normalize coerces Go's numeric and dict-shaped zoo (int, int32, float32,
// map[string]string, ...) into the canonical representation Decode would
// produce, so DeepEqual in Encode's round-trip check compares like with
// like instead of tripping on e.g. int vs int64.
func normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case Dict:
		out := make(Dict, len(x))
		for k, val := range x {
			out[k] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = normalize(val)
		}
		return out
	case bool, string, []byte:
		return x
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return rv.Int()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return int64(rv.Uint())
		case reflect.Float32, reflect.Float64:
			return rv.Float()
		case reflect.Map:
			out := make(Dict, rv.Len())
			iter := rv.MapRange()
			for iter.Next() {
				out[fmt.Sprint(iter.Key().Interface())] = normalize(iter.Value().Interface())
			}
			return out
		case reflect.Slice, reflect.Array:
			out := make([]any, rv.Len())
			for i := 0; i < rv.Len(); i++ {
				out[i] = normalize(rv.Index(i).Interface())
			}
			return out
		}
		return v
	}
}

func encodeValue(buf *bytes.Buffer, v any) error {
	v = normalize(v)
	switch x := v.(type) {
	case nil:
		buf.WriteByte(tagNull)
		return nil
	case bool:
		buf.WriteByte(tagBool)
		if x {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		return nil
	case int64:
		buf.WriteByte(tagInt)
		return binary.Write(buf, binary.BigEndian, x)
	case float64:
		buf.WriteByte(tagFloat)
		return binary.Write(buf, binary.BigEndian, math.Float64bits(x))
	case string:
		buf.WriteByte(tagString)
		writeLenPrefixed(buf, []byte(x))
		return nil
	case []byte:
		buf.WriteByte(tagBytes)
		writeLenPrefixed(buf, x)
		return nil
	case []any:
		buf.WriteByte(tagList)
		if err := binary.Write(buf, binary.BigEndian, uint32(len(x))); err != nil {
			return err
		}
		for _, item := range x {
			if err := encodeValue(buf, item); err != nil {
				return err
			}
		}
		return nil
	case Dict:
		buf.WriteByte(tagDict)
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if err := binary.Write(buf, binary.BigEndian, uint32(len(keys))); err != nil {
			return err
		}
		for _, k := range keys {
			writeLenPrefixed(buf, []byte(k))
			if err := encodeValue(buf, x[k]); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("codec: value of type %T is not representable", v)
	}
}

func decodeValue(r *bytes.Reader) (any, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("unexpected end of input")
	}

	switch tag {
	case tagNull:
		return nil, nil
	case tagBool:
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		return b != 0, nil
	case tagInt:
		var i int64
		if err := binary.Read(r, binary.BigEndian, &i); err != nil {
			return nil, err
		}
		return i, nil
	case tagFloat:
		var bits uint64
		if err := binary.Read(r, binary.BigEndian, &bits); err != nil {
			return nil, err
		}
		return math.Float64frombits(bits), nil
	case tagString:
		b, err := readLenPrefixed(r)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case tagBytes:
		return readLenPrefixed(r)
	case tagList:
		var n uint32
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		out := make([]any, n)
		for i := range out {
			v, err := decodeValue(r)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case tagDict:
		var n uint32
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		out := make(Dict, n)
		for i := uint32(0); i < n; i++ {
			kb, err := readLenPrefixed(r)
			if err != nil {
				return nil, err
			}
			v, err := decodeValue(r)
			if err != nil {
				return nil, err
			}
			out[string(kb)] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("codec: unknown tag %d", tag)
	}
}

func writeLenPrefixed(buf *bytes.Buffer, b []byte) {
	_ = binary.Write(buf, binary.BigEndian, uint32(len(b)))
	buf.Write(b)
}

func readLenPrefixed(r *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil && n > 0 {
		return nil, err
	}
	return b, nil
}

// WrapResult applies the uniform { "result": value } envelope every value
// handed to or read from the queue carries.
func WrapResult(value any) Dict {
	return Dict{"result": value}
}

// UnwrapResult extracts the inner value from a { "result": value }
// envelope, returning an error if the wrapper key is absent.
func UnwrapResult(d Dict) (any, error) {
	if d == nil {
		return nil, gjserr.Newf(gjserr.CodecError, "result envelope is nil")
	}
	v, ok := d["result"]
	if !ok {
		return nil, gjserr.Newf(gjserr.CodecError, "missing result key in envelope")
	}
	return v, nil
}
