package bacnet

import "testing"

func TestBVLCRoundTrip(t *testing.T) {
	encoded := EncodeBVLC(BVLCOriginalUnicastNPDU, 10)
	header, err := DecodeBVLC(encoded)
	if err != nil {
		t.Fatalf("DecodeBVLC: %v", err)
	}
	if header.Type != BVLCTypeBACnetIP || header.Function != BVLCOriginalUnicastNPDU || header.Length != 14 {
		t.Fatalf("unexpected header: %+v", header)
	}
}

func TestNPDURoundTripUnicast(t *testing.T) {
	encoded := EncodeNPDU(true, NPDUControlPriorityNormal)
	npdu, offset, err := DecodeNPDU(append(encoded, 0xAA))
	if err != nil {
		t.Fatalf("DecodeNPDU: %v", err)
	}
	if offset != 2 {
		t.Fatalf("expected offset 2, got %d", offset)
	}
	if npdu.Control&NPDUControlExpectingReply == 0 {
		t.Fatalf("expected expecting-reply bit set")
	}
	if len(npdu.Data) != 1 || npdu.Data[0] != 0xAA {
		t.Fatalf("unexpected trailing data: %v", npdu.Data)
	}
}

func TestConfirmedRequestRoundTrip(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03}
	encoded := EncodeConfirmedRequest(7, ServiceReadProperty, payload, 0, 5)
	apdu, err := DecodeAPDU(encoded)
	if err != nil {
		t.Fatalf("DecodeAPDU: %v", err)
	}
	if apdu.Type != PDUTypeConfirmedRequest || apdu.InvokeID != 7 || apdu.Service != byte(ServiceReadProperty) {
		t.Fatalf("unexpected apdu: %+v", apdu)
	}
	if string(apdu.Data) != string(payload) {
		t.Fatalf("payload mismatch: got %v want %v", apdu.Data, payload)
	}
}

func TestSimpleAckRoundTrip(t *testing.T) {
	encoded := EncodeSimpleAck(9, ServiceWriteProperty)
	apdu, err := DecodeAPDU(encoded)
	if err != nil {
		t.Fatalf("DecodeAPDU: %v", err)
	}
	if apdu.Type != PDUTypeSimpleAck || apdu.InvokeID != 9 || apdu.Service != byte(ServiceWriteProperty) {
		t.Fatalf("unexpected apdu: %+v", apdu)
	}
}

func TestComplexAckRoundTrip(t *testing.T) {
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	encoded := EncodeComplexAck(3, ServiceReadProperty, payload)
	apdu, err := DecodeAPDU(encoded)
	if err != nil {
		t.Fatalf("DecodeAPDU: %v", err)
	}
	if apdu.Type != PDUTypeComplexAck || string(apdu.Data) != string(payload) {
		t.Fatalf("unexpected apdu: %+v", apdu)
	}
}

func TestSegmentAckRoundTrip(t *testing.T) {
	encoded := EncodeSegmentAck(11, 2, 5, false, true)
	apdu, err := DecodeAPDU(encoded)
	if err != nil {
		t.Fatalf("DecodeAPDU: %v", err)
	}
	if apdu.Type != PDUTypeSegmentAck || apdu.InvokeID != 11 || apdu.SequenceNum != 2 || apdu.WindowSize != 5 {
		t.Fatalf("unexpected apdu: %+v", apdu)
	}
	if apdu.SegmentedAck {
		t.Fatalf("expected SegmentedAck false for a positive ack")
	}
}

func TestErrorAPDURoundTrip(t *testing.T) {
	berr := NewBACnetError(ErrorClassObject, ErrorCodeUnknownObject)
	encoded := EncodeErrorAPDU(4, ServiceReadProperty, berr)
	apdu, err := DecodeAPDU(encoded)
	if err != nil {
		t.Fatalf("DecodeAPDU: %v", err)
	}
	if apdu.Type != PDUTypeError || apdu.InvokeID != 4 {
		t.Fatalf("unexpected apdu: %+v", apdu)
	}
	decodedErr := DecodeErrorAPDUPayload(apdu.Data)
	got, ok := decodedErr.(*BACnetError)
	if !ok {
		t.Fatalf("expected *BACnetError, got %T", decodedErr)
	}
	if got.Class != ErrorClassObject || got.Code != ErrorCodeUnknownObject {
		t.Fatalf("unexpected decoded error: %+v", got)
	}
}

func TestRejectAPDURoundTrip(t *testing.T) {
	encoded := EncodeRejectAPDU(5, RejectReasonUnrecognizedService)
	apdu, err := DecodeAPDU(encoded)
	if err != nil {
		t.Fatalf("DecodeAPDU: %v", err)
	}
	if apdu.Type != PDUTypeReject || RejectReason(apdu.Service) != RejectReasonUnrecognizedService {
		t.Fatalf("unexpected apdu: %+v", apdu)
	}
}

func TestAbortAPDURoundTrip(t *testing.T) {
	encoded := EncodeAbortAPDU(6, true, AbortReasonSegmentationNotSupported)
	apdu, err := DecodeAPDU(encoded)
	if err != nil {
		t.Fatalf("DecodeAPDU: %v", err)
	}
	if apdu.Type != PDUTypeAbort || AbortReason(apdu.Service) != AbortReasonSegmentationNotSupported {
		t.Fatalf("unexpected apdu: %+v", apdu)
	}
}
