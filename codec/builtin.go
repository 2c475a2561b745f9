package codec

import (
	"encoding/binary"
	"math"
	"unicode/utf8"
)

// Integer codecs. All fixed-width integers are little-endian, exact width
// (spec §4.1 table).

// U8 is an unsigned 8-bit characteristic value.
type U8 uint8

func (U8) DecodeFrom(r *Reader) (U8, error) {
	b, err := r.Next(1)
	if err != nil {
		return 0, err
	}
	return U8(b[0]), nil
}

func (v U8) EncodeTo(w *Writer) { w.WriteByte(byte(v)) }

// I8 is a signed 8-bit characteristic value.
type I8 int8

func (I8) DecodeFrom(r *Reader) (I8, error) {
	b, err := r.Next(1)
	if err != nil {
		return 0, err
	}
	return I8(int8(b[0])), nil
}

func (v I8) EncodeTo(w *Writer) { w.WriteByte(byte(v)) }

// U16 is an unsigned 16-bit little-endian characteristic value.
type U16 uint16

func (U16) DecodeFrom(r *Reader) (U16, error) {
	b, err := r.Next(2)
	if err != nil {
		return 0, err
	}
	return U16(binary.LittleEndian.Uint16(b)), nil
}

func (v U16) EncodeTo(w *Writer) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(v))
	w.Write(b[:])
}

// I16 is a signed 16-bit little-endian characteristic value.
type I16 int16

func (I16) DecodeFrom(r *Reader) (I16, error) {
	b, err := r.Next(2)
	if err != nil {
		return 0, err
	}
	return I16(int16(binary.LittleEndian.Uint16(b))), nil
}

func (v I16) EncodeTo(w *Writer) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(v))
	w.Write(b[:])
}

// U32 is an unsigned 32-bit little-endian characteristic value.
type U32 uint32

func (U32) DecodeFrom(r *Reader) (U32, error) {
	b, err := r.Next(4)
	if err != nil {
		return 0, err
	}
	return U32(binary.LittleEndian.Uint32(b)), nil
}

func (v U32) EncodeTo(w *Writer) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	w.Write(b[:])
}

// I32 is a signed 32-bit little-endian characteristic value.
type I32 int32

func (I32) DecodeFrom(r *Reader) (I32, error) {
	b, err := r.Next(4)
	if err != nil {
		return 0, err
	}
	return I32(int32(binary.LittleEndian.Uint32(b))), nil
}

func (v I32) EncodeTo(w *Writer) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	w.Write(b[:])
}

// U64 is an unsigned 64-bit little-endian characteristic value.
type U64 uint64

func (U64) DecodeFrom(r *Reader) (U64, error) {
	b, err := r.Next(8)
	if err != nil {
		return 0, err
	}
	return U64(binary.LittleEndian.Uint64(b)), nil
}

func (v U64) EncodeTo(w *Writer) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	w.Write(b[:])
}

// I64 is a signed 64-bit little-endian characteristic value.
type I64 int64

func (I64) DecodeFrom(r *Reader) (I64, error) {
	b, err := r.Next(8)
	if err != nil {
		return 0, err
	}
	return I64(int64(binary.LittleEndian.Uint64(b))), nil
}

func (v I64) EncodeTo(w *Writer) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	w.Write(b[:])
}

// F32 is an IEEE-754 little-endian 32-bit float characteristic value.
type F32 float32

func (F32) DecodeFrom(r *Reader) (F32, error) {
	b, err := r.Next(4)
	if err != nil {
		return 0, err
	}
	return F32(math.Float32frombits(binary.LittleEndian.Uint32(b))), nil
}

func (v F32) EncodeTo(w *Writer) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], math.Float32bits(float32(v)))
	w.Write(b[:])
}

// F64 is an IEEE-754 little-endian 64-bit float characteristic value.
type F64 float64

func (F64) DecodeFrom(r *Reader) (F64, error) {
	b, err := r.Next(8)
	if err != nil {
		return 0, err
	}
	return F64(math.Float64frombits(binary.LittleEndian.Uint64(b))), nil
}

func (v F64) EncodeTo(w *Writer) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(float64(v)))
	w.Write(b[:])
}

// Bool is the single-byte boolean characteristic encoding (spec §4.1,
// §8 property 3): 0x01 encodes true, 0x00 encodes false. Per the open
// question resolved in spec §9, decoding is lenient: any byte other than
// 0x01 decodes to false (GATT Supplement 3.36), rather than failing.
type Bool bool

func (Bool) DecodeFrom(r *Reader) (Bool, error) {
	b, err := r.Next(1)
	if err != nil {
		return false, err
	}
	return Bool(b[0] == 0x01), nil
}

func (v Bool) EncodeTo(w *Writer) {
	if v {
		w.WriteByte(0x01)
	} else {
		w.WriteByte(0x00)
	}
}

// UTF8String consumes all remaining bytes as a UTF-8 string. There is no
// fixed-length variant (spec §1 Non-goals).
type UTF8String string

func (UTF8String) DecodeFrom(r *Reader) (UTF8String, error) {
	b := r.Rest()
	if !utf8.Valid(b) {
		return "", ErrNoValidRepresentation
	}
	return UTF8String(b), nil
}

func (v UTF8String) EncodeTo(w *Writer) {
	w.Write([]byte(v))
}

// RawBytes passes remaining bytes through verbatim.
type RawBytes []byte

func (RawBytes) DecodeFrom(r *Reader) (RawBytes, error) {
	return RawBytes(r.Rest()), nil
}

func (v RawBytes) EncodeTo(w *Writer) {
	w.Write(v)
}

// ManufacturerID is a little-endian u16 Bluetooth SIG company identifier.
type ManufacturerID uint16

func (ManufacturerID) DecodeFrom(r *Reader) (ManufacturerID, error) {
	b, err := r.Next(2)
	if err != nil {
		return 0, err
	}
	return ManufacturerID(binary.LittleEndian.Uint16(b)), nil
}

func (v ManufacturerID) EncodeTo(w *Writer) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(v))
	w.Write(b[:])
}
