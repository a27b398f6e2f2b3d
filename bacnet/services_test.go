package bacnet

import "testing"

func TestReadPropertyRequestRoundTrip(t *testing.T) {
	idx := uint32(3)
	req := ReadPropertyRequest{
		ObjectID:   ObjectIdentifier{Type: ObjectTypeAnalogInput, Instance: 1},
		PropertyID: PropertyPresentValue,
		ArrayIndex: &idx,
	}
	encoded := EncodeReadPropertyRequest(req)
	decoded, err := DecodeReadPropertyRequest(encoded)
	if err != nil {
		t.Fatalf("DecodeReadPropertyRequest: %v", err)
	}
	if decoded.ObjectID != req.ObjectID || decoded.PropertyID != req.PropertyID {
		t.Fatalf("mismatch: got %+v want %+v", decoded, req)
	}
	if decoded.ArrayIndex == nil || *decoded.ArrayIndex != idx {
		t.Fatalf("expected array index %d, got %v", idx, decoded.ArrayIndex)
	}
}

func TestReadPropertyAckEncodesValue(t *testing.T) {
	oid := ObjectIdentifier{Type: ObjectTypeAnalogInput, Instance: 2}
	ack, err := EncodeReadPropertyAck(oid, PropertyPresentValue, nil, float32(98.6))
	if err != nil {
		t.Fatalf("EncodeReadPropertyAck: %v", err)
	}
	if len(ack) == 0 {
		t.Fatalf("expected non-empty ack payload")
	}
}

func TestReadPropertyMultipleRequestRoundTrip(t *testing.T) {
	specs := []ReadAccessSpecification{
		{
			ObjectID: ObjectIdentifier{Type: ObjectTypeAnalogInput, Instance: 1},
			References: []PropertyReference{
				{PropertyID: PropertyPresentValue},
				{PropertyID: PropertyUnits},
			},
		},
	}
	encoded := EncodeReadPropertyMultipleRequest(specs)
	decoded, err := DecodeReadPropertyMultipleRequest(encoded)
	if err != nil {
		t.Fatalf("DecodeReadPropertyMultipleRequest: %v", err)
	}
	if len(decoded) != 1 || len(decoded[0].References) != 2 {
		t.Fatalf("unexpected decode: %+v", decoded)
	}
	if decoded[0].References[0].PropertyID != PropertyPresentValue {
		t.Fatalf("expected first ref PresentValue, got %v", decoded[0].References[0].PropertyID)
	}
}

func TestWritePropertyRequestRoundTrip(t *testing.T) {
	priority := uint8(8)
	req := WritePropertyRequest{
		ObjectID:   ObjectIdentifier{Type: ObjectTypeAnalogOutput, Instance: 1},
		PropertyID: PropertyPresentValue,
		Value:      float32(55),
		Priority:   &priority,
	}
	encoded, err := EncodeWritePropertyRequest(req)
	if err != nil {
		t.Fatalf("EncodeWritePropertyRequest: %v", err)
	}
	decoded, err := DecodeWritePropertyRequest(encoded)
	if err != nil {
		t.Fatalf("DecodeWritePropertyRequest: %v", err)
	}
	if decoded.ObjectID != req.ObjectID || decoded.PropertyID != req.PropertyID {
		t.Fatalf("mismatch: got %+v want %+v", decoded, req)
	}
	if decoded.Value != float32(55) {
		t.Fatalf("expected value 55, got %v", decoded.Value)
	}
	if decoded.Priority == nil || *decoded.Priority != priority {
		t.Fatalf("expected priority %d, got %v", priority, decoded.Priority)
	}
}

func TestWhoIsIAmRoundTrip(t *testing.T) {
	encoded := EncodeWhoIsRequest(10, 20)
	low, high := DecodeWhoIsRequest(encoded)
	if low != 10 || high != 20 {
		t.Fatalf("expected limits 10,20, got %d,%d", low, high)
	}

	iam := EncodeIAmRequest(IAmParameters{
		ObjectID:      ObjectIdentifier{Type: ObjectTypeDevice, Instance: 1001},
		MaxAPDULength: 1476,
		Segmentation:  SegmentationBoth,
		VendorID:      99,
	})
	params, err := DecodeIAmRequest(iam)
	if err != nil {
		t.Fatalf("DecodeIAmRequest: %v", err)
	}
	if params.ObjectID.Instance != 1001 || params.VendorID != 99 {
		t.Fatalf("unexpected I-Am params: %+v", params)
	}
}
