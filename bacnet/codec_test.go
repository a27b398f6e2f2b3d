package bacnet

import (
	"testing"
)

func TestEncodeDecodeContextUnsignedRoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 1, 254, 255, 65535, 16777215, 4294967295} {
		encoded := EncodeContextUnsigned(3, v)
		tagNum, class, length, headerLen, err := DecodeTagNumber(encoded)
		if err != nil {
			t.Fatalf("DecodeTagNumber(%d): %v", v, err)
		}
		if tagNum != 3 || class != TagClassContext {
			t.Fatalf("tag mismatch for %d: got tagNum=%d class=%v", v, tagNum, class)
		}
		got := DecodeUnsigned(encoded[headerLen : headerLen+length])
		if got != v {
			t.Errorf("value round trip: want %d got %d", v, got)
		}
	}
}

func TestEncodeDecodeObjectIdentifier(t *testing.T) {
	oid := ObjectIdentifier{Type: ObjectTypeAnalogInput, Instance: 42}
	encoded := EncodeContextObjectIdentifier(0, oid)
	_, _, length, headerLen, err := DecodeTagNumber(encoded)
	if err != nil {
		t.Fatalf("DecodeTagNumber: %v", err)
	}
	got := DecodeObjectIdentifierFromBytes(encoded[headerLen : headerLen+length])
	if got != oid {
		t.Fatalf("object identifier round trip: want %+v got %+v", oid, got)
	}
}

func TestOpeningClosingTags(t *testing.T) {
	open := EncodeOpeningTag(4)
	tagNum, _, length, _, err := DecodeTagNumber(open)
	if err != nil {
		t.Fatalf("DecodeTagNumber(open): %v", err)
	}
	if tagNum != 4 || length != -1 {
		t.Fatalf("expected opening tag 4 with length -1, got tagNum=%d length=%d", tagNum, length)
	}

	closeTag := EncodeClosingTag(4)
	tagNum, _, length, _, err = DecodeTagNumber(closeTag)
	if err != nil {
		t.Fatalf("DecodeTagNumber(close): %v", err)
	}
	if tagNum != 4 || length != -2 {
		t.Fatalf("expected closing tag 4 with length -2, got tagNum=%d length=%d", tagNum, length)
	}
}

func TestApplicationValueRoundTrip(t *testing.T) {
	cases := []interface{}{
		true,
		false,
		uint32(12345),
		int32(-9876),
		float32(3.25),
		"hello bacnet",
		ObjectIdentifier{Type: ObjectTypeDevice, Instance: 100},
	}
	for _, v := range cases {
		encoded, err := EncodeApplicationValue(v)
		if err != nil {
			t.Fatalf("EncodeApplicationValue(%v): %v", v, err)
		}
		decoded, err := DecodeApplicationValue(encoded)
		if err != nil {
			t.Fatalf("DecodeApplicationValue(%v): %v", v, err)
		}
		if decoded != v {
			t.Errorf("round trip mismatch: want %#v got %#v", v, decoded)
		}
	}
}

func TestDecoderTaggedValueSequence(t *testing.T) {
	var buf []byte
	buf = append(buf, EncodeContextUnsigned(0, 7)...)
	buf = append(buf, EncodeOpeningTag(1)...)
	buf = append(buf, EncodeContextUnsigned(0, 99)...)
	buf = append(buf, EncodeClosingTag(1)...)

	d := NewDecoder(buf)
	tagNum, _, value, err := d.ReadTaggedValue()
	if err != nil {
		t.Fatalf("ReadTaggedValue: %v", err)
	}
	if tagNum != 0 || DecodeUnsigned(value) != 7 {
		t.Fatalf("expected tag 0 value 7, got tag %d value %v", tagNum, value)
	}

	if err := d.ExpectOpeningTag(1); err != nil {
		t.Fatalf("ExpectOpeningTag: %v", err)
	}

	tagNum, _, value, err = d.ReadTaggedValue()
	if err != nil {
		t.Fatalf("ReadTaggedValue inner: %v", err)
	}
	if tagNum != 0 || DecodeUnsigned(value) != 99 {
		t.Fatalf("expected tag 0 value 99, got tag %d value %v", tagNum, value)
	}

	if err := d.ExpectClosingTag(1); err != nil {
		t.Fatalf("ExpectClosingTag: %v", err)
	}
	if !d.Done() {
		t.Fatalf("expected decoder to be exhausted, %d bytes remain", len(d.Remaining()))
	}
}
