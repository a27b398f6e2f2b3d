package bacnet

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"
)

// loopbackSender hands every sent packet to a reply function, simulating a
// remote device's response without touching a real socket.
type loopbackSender struct {
	mu    sync.Mutex
	sent  [][]byte
	reply func(apdu []byte) []byte
	eng   *Engine
}

func (s *loopbackSender) Send(ctx context.Context, addr *net.UDPAddr, packet []byte) error {
	s.mu.Lock()
	s.sent = append(s.sent, packet)
	s.mu.Unlock()

	if s.reply == nil {
		return nil
	}
	// packet = BVLC(4) + NPDU(2) + APDU
	respAPDU := s.reply(packet[6:])
	if respAPDU == nil {
		return nil
	}
	decoded, err := DecodeAPDU(respAPDU)
	if err != nil {
		return err
	}
	go s.eng.Dispatch(decoded, addr)
	return nil
}

func testEngine(reply func(apdu []byte) []byte) (*Engine, *loopbackSender) {
	sender := &loopbackSender{reply: reply}
	eng := NewEngine(sender, DefaultEngineOptions())
	sender.eng = eng
	return eng, sender
}

func TestEngineSendConfirmedSimpleAck(t *testing.T) {
	eng, _ := testEngine(func(apdu []byte) []byte {
		reqAPDU, _ := DecodeAPDU(apdu)
		return EncodeSimpleAck(reqAPDU.InvokeID, ServiceWriteProperty)
	})

	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 47808}
	resp, err := eng.SendConfirmed(context.Background(), addr, ServiceWriteProperty, []byte{0x01})
	if err != nil {
		t.Fatalf("SendConfirmed: %v", err)
	}
	if resp.Type != PDUTypeSimpleAck {
		t.Fatalf("expected Simple-ACK, got %v", resp.Type)
	}
}

func TestEngineSendConfirmedErrorResponse(t *testing.T) {
	eng, _ := testEngine(func(apdu []byte) []byte {
		reqAPDU, _ := DecodeAPDU(apdu)
		return EncodeErrorAPDU(reqAPDU.InvokeID, ServiceReadProperty, NewBACnetError(ErrorClassObject, ErrorCodeUnknownObject))
	})

	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 47808}
	_, err := eng.SendConfirmed(context.Background(), addr, ServiceReadProperty, []byte{0x01})
	if err == nil {
		t.Fatalf("expected error response to surface as error")
	}
	berr, ok := err.(*BACnetError)
	if !ok {
		t.Fatalf("expected *BACnetError, got %T: %v", err, err)
	}
	if berr.Code != ErrorCodeUnknownObject {
		t.Fatalf("expected ErrorCodeUnknownObject, got %v", berr.Code)
	}
}

func TestEngineSendConfirmedTimeoutRetries(t *testing.T) {
	var attempts int
	eng, _ := testEngine(func(apdu []byte) []byte {
		attempts++
		return nil // never reply, forcing a timeout on every attempt
	})
	eng.opts.Timeout = 20 * time.Millisecond
	eng.opts.RetryDelay = 5 * time.Millisecond
	eng.opts.Retries = 2

	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 47808}
	_, err := eng.SendConfirmed(context.Background(), addr, ServiceReadProperty, []byte{0x01})
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts (1 + 2 retries), got %d", attempts)
	}
}

func TestEngineSegmentedRequestReassembly(t *testing.T) {
	eng, sender := testEngine(nil)

	segment0 := EncodeSegmentedConfirmedRequest(1, ServiceReadProperty, []byte{0xAA}, 0, 10, 0, 5, true)
	apdu0, err := DecodeAPDU(segment0)
	if err != nil {
		t.Fatalf("DecodeAPDU segment0: %v", err)
	}
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 47808}
	if reassembled := eng.Dispatch(apdu0, addr); reassembled != nil {
		t.Fatalf("expected nil after first segment, got %+v", reassembled)
	}

	segment1 := EncodeSegmentedConfirmedRequest(1, ServiceReadProperty, []byte{0xBB}, 1, 10, 0, 5, false)
	apdu1, err := DecodeAPDU(segment1)
	if err != nil {
		t.Fatalf("DecodeAPDU segment1: %v", err)
	}
	reassembled := eng.Dispatch(apdu1, addr)
	if reassembled == nil {
		t.Fatalf("expected reassembled APDU after final segment")
	}
	if string(reassembled.Data) != string([]byte{0xAA, 0xBB}) {
		t.Fatalf("expected concatenated segment data, got %v", reassembled.Data)
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.sent) == 0 {
		t.Fatalf("expected a Segment-ACK to have been transmitted")
	}
}
