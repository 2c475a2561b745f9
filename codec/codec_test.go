package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLittleEndianIntegerEncoding(t *testing.T) {
	assert.Equal(t, []byte{0xAB, 0x00}, Encode(U16(0x00AB)))
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, Encode(I32(-1)))
}

func TestBooleanCharacteristicEncoding(t *testing.T) {
	assert.Equal(t, []byte{0x01}, Encode(Bool(true)))
	assert.Equal(t, []byte{0x00}, Encode(Bool(false)))
}

func TestBooleanCharacteristicLenientDecode(t *testing.T) {
	var b Bool
	got, err := b.DecodeFrom(NewReader([]byte{0x02}))
	require.NoError(t, err)
	assert.Equal(t, Bool(false), got) // only 0x01 is truthy... see next case

	got, err = b.DecodeFrom(NewReader([]byte{0x01}))
	require.NoError(t, err)
	assert.True(t, bool(got))

	got, err = b.DecodeFrom(NewReader([]byte{0x00}))
	require.NoError(t, err)
	assert.False(t, bool(got))
}

func TestUTF8DecodeFailureOnInvalidBytes(t *testing.T) {
	var s UTF8String
	_, err := s.DecodeFrom(NewReader([]byte{0xC3, 0x28}))
	require.ErrorIs(t, err, ErrNoValidRepresentation)
}

func TestRoundTrip(t *testing.T) {
	r := NewReader(Encode(U8(0x42)))
	var u8 U8
	got, err := u8.DecodeFrom(r)
	require.NoError(t, err)
	assert.Equal(t, U8(0x42), got)

	r = NewReader(Encode(I8(-5)))
	var i8 I8
	gotI8, err := i8.DecodeFrom(r)
	require.NoError(t, err)
	assert.Equal(t, I8(-5), gotI8)

	r = NewReader(Encode(U16(1234)))
	var u16 U16
	gotU16, err := u16.DecodeFrom(r)
	require.NoError(t, err)
	assert.Equal(t, U16(1234), gotU16)

	r = NewReader(Encode(I16(-1234)))
	var i16 I16
	gotI16, err := i16.DecodeFrom(r)
	require.NoError(t, err)
	assert.Equal(t, I16(-1234), gotI16)

	r = NewReader(Encode(U32(123456)))
	var u32 U32
	gotU32, err := u32.DecodeFrom(r)
	require.NoError(t, err)
	assert.Equal(t, U32(123456), gotU32)

	r = NewReader(Encode(I32(-123456)))
	var i32 I32
	gotI32, err := i32.DecodeFrom(r)
	require.NoError(t, err)
	assert.Equal(t, I32(-123456), gotI32)

	r = NewReader(Encode(U64(123456789012)))
	var u64 U64
	gotU64, err := u64.DecodeFrom(r)
	require.NoError(t, err)
	assert.Equal(t, U64(123456789012), gotU64)

	r = NewReader(Encode(I64(-123456789012)))
	var i64 I64
	gotI64, err := i64.DecodeFrom(r)
	require.NoError(t, err)
	assert.Equal(t, I64(-123456789012), gotI64)

	r = NewReader(Encode(F32(3.14)))
	var f32 F32
	gotF32, err := f32.DecodeFrom(r)
	require.NoError(t, err)
	assert.Equal(t, F32(3.14), gotF32)

	r = NewReader(Encode(F64(3.14159265)))
	var f64 F64
	gotF64, err := f64.DecodeFrom(r)
	require.NoError(t, err)
	assert.Equal(t, F64(3.14159265), gotF64)

	r = NewReader(Encode(UTF8String("hello, world")))
	var str UTF8String
	gotStr, err := str.DecodeFrom(r)
	require.NoError(t, err)
	assert.Equal(t, UTF8String("hello, world"), gotStr)

	r = NewReader(Encode(RawBytes{1, 2, 3}))
	var raw RawBytes
	gotRaw, err := raw.DecodeFrom(r)
	require.NoError(t, err)
	assert.Equal(t, RawBytes{1, 2, 3}, gotRaw)

	r = NewReader(Encode(ManufacturerID(0x004C)))
	var mid ManufacturerID
	gotMid, err := mid.DecodeFrom(r)
	require.NoError(t, err)
	assert.Equal(t, ManufacturerID(0x004C), gotMid)
}

func TestInsufficientBytesFails(t *testing.T) {
	var u32 U32
	_, err := u32.DecodeFrom(NewReader([]byte{1, 2}))
	require.ErrorIs(t, err, ErrNoValidRepresentation)
}
