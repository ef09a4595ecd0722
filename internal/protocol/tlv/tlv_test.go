package tlv

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeFieldsRoundTripPreservesOrder(t *testing.T) {
	in := []Field{
		{ID: 2, Type: TypeBytes, Value: []byte("first")},
		{ID: 1, Type: TypeString, Value: []byte("meta")},
		{ID: 2, Type: TypeBytes, Value: []byte{0xAA, 0xBB}},
	}
	b, err := EncodeFields(in)
	if err != nil {
		t.Fatalf("encode fields: %v", err)
	}
	out, err := DecodeFields(b)
	if err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 fields, got %d", len(out))
	}
	repeated := All(out, 2)
	if len(repeated) != 2 || string(repeated[0].Value) != "first" || !bytes.Equal(repeated[1].Value, []byte{0xAA, 0xBB}) {
		t.Fatalf("repeated fields not preserved in order: %+v", repeated)
	}
	if f, ok := GetField(out, 1); !ok || string(f.Value) != "meta" {
		t.Fatalf("get field: %+v %v", f, ok)
	}
	if _, ok := GetField(out, 9); ok {
		t.Fatalf("unexpected field 9")
	}
}

func TestDecodeFieldsCopiesValues(t *testing.T) {
	b, _ := EncodeFields([]Field{{ID: 1, Type: TypeBytes, Value: []byte("abc")}})
	out, _ := DecodeFields(b)
	b[HeaderLen] = 'X'
	if string(out[0].Value) != "abc" {
		t.Fatalf("decoded value aliases payload")
	}
}

func TestDecodeFieldsMalformedHeaderIsDeterministic(t *testing.T) {
	_, err := DecodeFields([]byte{1, 2, 3})
	if !errors.Is(err, ErrShortFieldHeader) {
		t.Fatalf("expected ErrShortFieldHeader, got %v", err)
	}
}

func TestDecodeFieldsMalformedLengthIsDeterministic(t *testing.T) {
	// id=1, type=bytes, len=5, value only 2 bytes
	payload := []byte{0, 1, TypeBytes, 0, 0, 0, 5, 'a', 'b'}
	_, err := DecodeFields(payload)
	if !errors.Is(err, ErrShortFieldValue) {
		t.Fatalf("expected ErrShortFieldValue, got %v", err)
	}
	huge := []byte{0, 1, TypeBytes, 0xff, 0xff, 0xff, 0xff}
	if _, err := DecodeFields(huge); !errors.Is(err, ErrShortFieldValue) {
		t.Fatalf("expected ErrShortFieldValue, got %v", err)
	}
}

func TestU32(t *testing.T) {
	v, err := U32FromBytes(U32Bytes(7))
	if err != nil || v != 7 {
		t.Fatalf("u32 = %d, %v", v, err)
	}
	if _, err := U32FromBytes([]byte{1}); !errors.Is(err, ErrShortFieldValue) {
		t.Fatalf("expected ErrShortFieldValue, got %v", err)
	}
}
