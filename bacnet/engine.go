// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bacnet

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Sender is the minimal transport surface the engine needs to emit a
// packet; *transport.UDPTransport and any test double satisfy it.
type Sender interface {
	Send(ctx context.Context, addr *net.UDPAddr, packet []byte) error
}

// EngineOptions configures retry, timeout, and segmentation behavior for an
// Engine. The zero value is not usable; start from DefaultEngineOptions
// (timeout 1s, 3 retries) and pass the result to NewEngine, which fills in
// only a missing Logger.
type EngineOptions struct {
	Timeout            time.Duration
	Retries            int
	RetryDelay         time.Duration
	MaxSegments        uint8
	MaxAPDU            uint8
	WindowSize         uint8
	SegmentTimeout     time.Duration
	MaxSegmentDataSize int
	Logger             *slog.Logger
}

// DefaultEngineOptions returns the engine's default tuning: 1000ms timeout,
// 3 retries, proposed window size 10.
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		Timeout:            1000 * time.Millisecond,
		Retries:            3,
		RetryDelay:         250 * time.Millisecond,
		MaxSegments:        0,
		MaxAPDU:            5,
		WindowSize:         10,
		SegmentTimeout:     2 * time.Second,
		MaxSegmentDataSize: MaxAPDULength - 12,
		Logger:             slog.Default(),
	}
}

// pendingRequest tracks one in-flight confirmed request awaiting a
// response, keyed by invoke ID.
type pendingRequest struct {
	respCh chan *APDU
	addr   *net.UDPAddr
}

// segmentAssembly accumulates inbound segments for one invoke ID until the
// final segment (MoreFollows == false) arrives, then the engine hands the
// caller a single reassembled APDU with Data set to the concatenated body.
type segmentAssembly struct {
	mu       sync.Mutex
	segments map[uint8][]byte
	service  uint8
	pduType  PDUType
	lastSeen time.Time
}

// Engine owns invoke-ID allocation, request/response correlation, the
// retry/timeout loop, and segmentation on both the send and receive side.
// It generalizes the logic the client used inline in sendRequest so the
// server façade can reuse the identical machinery for inbound segmented
// requests and outbound segmented complex-acks.
type Engine struct {
	opts   EngineOptions
	sender Sender

	invokeID atomic.Uint32

	pendingMu sync.RWMutex
	pending   map[uint8]*pendingRequest

	assemblyMu sync.Mutex
	assembly   map[uint8]*segmentAssembly
}

// NewEngine creates an Engine that sends through sender using opts. Pass
// DefaultEngineOptions() and override only what differs.
func NewEngine(sender Sender, opts EngineOptions) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		opts:     opts,
		sender:   sender,
		pending:  make(map[uint8]*pendingRequest),
		assembly: make(map[uint8]*segmentAssembly),
	}
}

// NextInvokeID returns the next invoke ID, wrapping at 255.
func (e *Engine) NextInvokeID() uint8 {
	return uint8(e.invokeID.Add(1) & 0xFF)
}

// SendConfirmed sends a confirmed-request APDU, segmenting it automatically
// if the encoded service data does not fit one APDU, and returns the final
// response APDU (Simple-ACK, reassembled Complex-ACK, Error, Reject, or
// Abort). It retries up to opts.Retries times on timeout, per invoke ID.
func (e *Engine) SendConfirmed(ctx context.Context, addr *net.UDPAddr, service ConfirmedServiceChoice, data []byte) (*APDU, error) {
	invokeID := e.NextInvokeID()

	respCh := make(chan *APDU, 1)
	e.pendingMu.Lock()
	e.pending[invokeID] = &pendingRequest{respCh: respCh, addr: addr}
	e.pendingMu.Unlock()
	defer func() {
		e.pendingMu.Lock()
		delete(e.pending, invokeID)
		e.pendingMu.Unlock()
	}()

	segments := e.splitServiceData(data)

	var lastErr error
	for attempt := 0; attempt <= e.opts.Retries; attempt++ {
		if attempt > 0 {
			e.opts.Logger.Debug("bacnet: retrying confirmed request", "invoke_id", invokeID, "attempt", attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.opts.RetryDelay):
			}
		}

		if err := e.sendSegments(ctx, addr, invokeID, service, segments); err != nil {
			lastErr = err
			continue
		}

		timeout := time.NewTimer(e.opts.Timeout)
		select {
		case <-ctx.Done():
			timeout.Stop()
			return nil, ctx.Err()
		case resp := <-respCh:
			timeout.Stop()
			return e.interpretResponse(invokeID, resp)
		case <-timeout.C:
			lastErr = ErrTimeout
		}
	}

	return nil, lastErr
}

func (e *Engine) interpretResponse(invokeID uint8, resp *APDU) (*APDU, error) {
	switch resp.Type {
	case PDUTypeSimpleAck, PDUTypeComplexAck:
		return resp, nil
	case PDUTypeError:
		return nil, DecodeErrorAPDUPayload(resp.Data)
	case PDUTypeReject:
		return nil, &RejectError{InvokeID: resp.InvokeID, Reason: RejectReason(resp.Service)}
	case PDUTypeAbort:
		return nil, &AbortError{InvokeID: resp.InvokeID, Reason: AbortReason(resp.Service)}
	default:
		return nil, fmt.Errorf("%w: unexpected PDU type %02x", ErrInvalidResponse, resp.Type)
	}
}

// splitServiceData breaks data into chunks no larger than
// MaxSegmentDataSize. A single chunk means the request needs no
// segmentation at all.
func (e *Engine) splitServiceData(data []byte) [][]byte {
	max := e.opts.MaxSegmentDataSize
	if max <= 0 || len(data) <= max {
		return [][]byte{data}
	}
	var segments [][]byte
	for offset := 0; offset < len(data); offset += max {
		end := offset + max
		if end > len(data) {
			end = len(data)
		}
		segments = append(segments, data[offset:end])
	}
	return segments
}

// sendSegments emits either a single unsegmented confirmed-request (the
// common case) or, when splitServiceData produced more than one chunk
// because the service data exceeds MaxSegmentDataSize, a full segmented
// train gated by the receiver's Segment-ACK window.
func (e *Engine) sendSegments(ctx context.Context, addr *net.UDPAddr, invokeID uint8, service ConfirmedServiceChoice, segments [][]byte) error {
	if len(segments) == 1 {
		apdu := EncodeConfirmedRequest(invokeID, service, segments[0], e.opts.MaxSegments, e.opts.MaxAPDU)
		return e.transmit(ctx, addr, apdu)
	}

	window := int(e.opts.WindowSize)
	if window < 1 {
		window = 1
	}

	for start := 0; start < len(segments); start += window {
		end := start + window
		if end > len(segments) {
			end = len(segments)
		}
		for seq := start; seq < end; seq++ {
			more := seq != len(segments)-1
			apdu := EncodeSegmentedConfirmedRequest(invokeID, service, segments[seq], uint8(seq), e.opts.WindowSize, e.opts.MaxSegments, e.opts.MaxAPDU, more)
			if err := e.transmit(ctx, addr, apdu); err != nil {
				return err
			}
		}
		if end < len(segments) {
			if err := e.awaitSegmentAck(ctx, invokeID); err != nil {
				return err
			}
		}
	}
	return nil
}

// awaitSegmentAck blocks until a Segment-ACK for invokeID arrives on the
// pending channel or the segment timeout elapses.
func (e *Engine) awaitSegmentAck(ctx context.Context, invokeID uint8) error {
	e.pendingMu.RLock()
	pr, ok := e.pending[invokeID]
	e.pendingMu.RUnlock()
	if !ok {
		return ErrInvalidResponse
	}

	timer := time.NewTimer(e.opts.SegmentTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case resp := <-pr.respCh:
		if resp.Type != PDUTypeSegmentAck {
			return fmt.Errorf("%w: expected Segment-ACK, got PDU type %02x", ErrInvalidResponse, resp.Type)
		}
		return nil
	case <-timer.C:
		return ErrTimeout
	}
}

func (e *Engine) transmit(ctx context.Context, addr *net.UDPAddr, apdu []byte) error {
	npdu := EncodeNPDU(true, NPDUControlPriorityNormal)
	bvlc := EncodeBVLC(BVLCOriginalUnicastNPDU, len(npdu)+len(apdu))
	packet := make([]byte, 0, len(bvlc)+len(npdu)+len(apdu))
	packet = append(packet, bvlc...)
	packet = append(packet, npdu...)
	packet = append(packet, apdu...)
	return e.sender.Send(ctx, addr, packet)
}

// Dispatch routes an inbound APDU to its pending confirmed-request waiter,
// or into segment reassembly if it is a segmented Complex-ACK/
// Confirmed-Request segment. It returns the reassembled APDU (with a
// complete, concatenated Data payload) the moment the final segment
// arrives, or nil while reassembly is still in progress.
func (e *Engine) Dispatch(apdu *APDU, from *net.UDPAddr) *APDU {
	if !apdu.Segmented && apdu.Type != PDUTypeSegmentAck {
		e.deliver(apdu.InvokeID, apdu)
		return apdu
	}

	if apdu.Type == PDUTypeSegmentAck {
		e.deliver(apdu.InvokeID, apdu)
		return nil
	}

	return e.reassemble(apdu, from)
}

func (e *Engine) deliver(invokeID uint8, apdu *APDU) {
	e.pendingMu.RLock()
	pr, ok := e.pending[invokeID]
	e.pendingMu.RUnlock()
	if !ok {
		return
	}
	select {
	case pr.respCh <- apdu:
	default:
	}
}

// reassemble folds one segment into the in-progress assembly for its
// invoke ID, emitting a Segment-ACK after each window, and returns the
// fully reassembled APDU once the final segment has been seen.
func (e *Engine) reassemble(apdu *APDU, from *net.UDPAddr) *APDU {
	e.assemblyMu.Lock()
	asm, ok := e.assembly[apdu.InvokeID]
	if !ok {
		asm = &segmentAssembly{segments: make(map[uint8][]byte), service: apdu.Service, pduType: apdu.Type}
		e.assembly[apdu.InvokeID] = asm
	}
	e.assemblyMu.Unlock()

	asm.mu.Lock()
	asm.segments[apdu.SequenceNum] = apdu.Data
	asm.lastSeen = time.Now()
	final := !apdu.MoreFollows
	asm.mu.Unlock()

	windowSize := apdu.WindowSize
	if windowSize == 0 {
		windowSize = 1
	}
	if (int(apdu.SequenceNum)+1)%int(windowSize) == 0 || final {
		ack := EncodeSegmentAck(apdu.InvokeID, apdu.SequenceNum, apdu.WindowSize, false, apdu.Type == PDUTypeConfirmedRequest)
		_ = e.transmit(context.Background(), from, ack)
	}

	if !final {
		return nil
	}

	e.assemblyMu.Lock()
	delete(e.assembly, apdu.InvokeID)
	e.assemblyMu.Unlock()

	asm.mu.Lock()
	defer asm.mu.Unlock()
	var data []byte
	for i := uint8(0); i <= apdu.SequenceNum; i++ {
		seg, ok := asm.segments[i]
		if !ok {
			return nil
		}
		data = append(data, seg...)
	}

	return &APDU{
		Type:     asm.pduType,
		InvokeID: apdu.InvokeID,
		Service:  asm.service,
		Data:     data,
	}
}

// DecodeErrorAPDUPayload decodes an Error APDU's service parameters
// (error-class, error-code) into a BACnetError.
func DecodeErrorAPDUPayload(data []byte) error {
	_, _, length1, headerLen1, err := DecodeTagNumber(data)
	if err != nil || len(data) < headerLen1+length1 {
		return ErrInvalidResponse
	}
	class := ErrorClass(DecodeUnsigned(data[headerLen1 : headerLen1+length1]))
	offset := headerLen1 + length1

	_, _, length2, headerLen2, err := DecodeTagNumber(data[offset:])
	if err != nil || len(data[offset:]) < headerLen2+length2 {
		return ErrInvalidResponse
	}
	code := ErrorCode(DecodeUnsigned(data[offset+headerLen2 : offset+headerLen2+length2]))

	return NewBACnetError(class, code)
}
