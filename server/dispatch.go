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

package server

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/edgeo/drivers/bacnet/bacnet"
)

// writableByDefault reports whether the façade's WriteProperty handler
// permits a direct (non-commandable-fallback) write to (objectID,
// propertyID). By default only ANALOG_VALUE:*'s PRESENT_VALUE is writable;
// everything else must go through WriteCommandableProperty or be denied.
func writableByDefault(objectID bacnet.ObjectIdentifier, propertyID bacnet.PropertyIdentifier) bool {
	return objectID.Type == bacnet.ObjectTypeAnalogValue && propertyID == bacnet.PropertyPresentValue
}

// handleConfirmedRequest dispatches an inbound confirmed-request by
// service choice, the server-side mirror of the teacher client's
// handleUnconfirmedRequest switch.
func (d *Device) handleConfirmedRequest(ctx context.Context, apdu *bacnet.APDU, addr *net.UDPAddr, npdu *bacnet.NPDU) {
	start := time.Now()
	d.metrics.RequestsReceived.Inc()

	var respData []byte
	var respErr error
	service := bacnet.ConfirmedServiceChoice(apdu.Service)

	switch service {
	case bacnet.ServiceReadProperty:
		respData, respErr = d.serveReadProperty(apdu.Data)
	case bacnet.ServiceReadPropertyMultiple:
		respData, respErr = d.serveReadPropertyMultiple(apdu.Data)
	case bacnet.ServiceWriteProperty:
		respErr = d.serveWriteProperty(apdu.Data)
	case bacnet.ServiceWritePropertyMultiple:
		respErr = d.serveWritePropertyMultiple(apdu.Data)
	case bacnet.ServiceSubscribeCOV:
		respErr = d.serveSubscribeCOV(apdu.Data, addr)
	default:
		d.reject(ctx, addr, apdu.InvokeID, bacnet.RejectReasonUnrecognizedService)
		return
	}

	d.metrics.RequestLatency.Observe(time.Since(start).Seconds())

	if respErr != nil {
		d.respondError(ctx, addr, apdu.InvokeID, service, respErr)
		return
	}

	var ack []byte
	if respData != nil {
		ack = bacnet.EncodeComplexAck(apdu.InvokeID, service, respData)
	} else {
		ack = bacnet.EncodeSimpleAck(apdu.InvokeID, service)
	}
	if err := d.sendPacket(ctx, addr, ack); err != nil {
		d.logger.Warn("send ack", slog.String("error", err.Error()))
	}
}

// handleUnconfirmedRequest dispatches WhoIs, the only unconfirmed service a
// device server answers.
func (d *Device) handleUnconfirmedRequest(apdu *bacnet.APDU, addr *net.UDPAddr, npdu *bacnet.NPDU) {
	switch bacnet.UnconfirmedServiceChoice(apdu.Service) {
	case bacnet.ServiceWhoIs:
		d.metrics.WhoIsReceived.Inc()
		low, high := bacnet.DecodeWhoIsRequest(apdu.Data)
		instance := int32(d.opts.deviceInstance)
		if (low >= 0 && instance < low) || (high >= 0 && instance > high) {
			return
		}
		if err := d.unicastIAm(context.Background(), addr); err != nil {
			d.logger.Warn("unicast I-Am", slog.String("error", err.Error()))
		}
	}
}

func (d *Device) serveReadProperty(data []byte) ([]byte, error) {
	req, err := bacnet.DecodeReadPropertyRequest(data)
	if err != nil {
		return nil, err
	}
	val, err := d.storage.ReadProperty(req.ObjectID, req.PropertyID, req.ArrayIndex)
	if err != nil {
		return nil, err
	}
	return bacnet.EncodeReadPropertyAck(req.ObjectID, req.PropertyID, req.ArrayIndex, val)
}

func (d *Device) serveReadPropertyMultiple(data []byte) ([]byte, error) {
	specs, err := bacnet.DecodeReadPropertyMultipleRequest(data)
	if err != nil {
		return nil, err
	}
	results := d.storage.ReadPropertyMultiple(specs)
	return bacnet.EncodeReadPropertyMultipleAck(results)
}

// serveWriteProperty implements the WriteProperty handler contract: only
// (ANALOG_VALUE:*, PRESENT_VALUE) is writable by default. The priority array
// is tried first; if the target isn't commandable-eligible, it falls back
// to a plain property write.
func (d *Device) serveWriteProperty(data []byte) error {
	req, err := bacnet.DecodeWritePropertyRequest(data)
	if err != nil {
		return err
	}
	if !writableByDefault(req.ObjectID, req.PropertyID) {
		return bacnet.NewBACnetError(bacnet.ErrorClassDevice, bacnet.ErrorCodeWriteAccessDenied)
	}
	return d.writeRestrictedProperty(req.ObjectID, req.PropertyID, req.ArrayIndex, req.Value, req.Priority)
}

func (d *Device) serveWritePropertyMultiple(data []byte) error {
	specs, err := bacnet.DecodeWritePropertyMultipleRequest(data)
	if err != nil {
		return err
	}
	for _, spec := range specs {
		for _, wv := range spec.Values {
			if !writableByDefault(spec.ObjectID, wv.PropertyID) {
				return bacnet.NewBACnetError(bacnet.ErrorClassDevice, bacnet.ErrorCodeWriteAccessDenied)
			}
			if err := d.writeRestrictedProperty(spec.ObjectID, wv.PropertyID, wv.ArrayIndex, wv.Value, wv.Priority); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeRestrictedProperty applies one already-permitted write: try the
// priority array first (honoring an explicit priority when the request
// carries one, default priority 16 — the lowest, "manual operator"
// priority — otherwise), falling back to a plain property write when the
// target isn't commandable-eligible.
func (d *Device) writeRestrictedProperty(objectID bacnet.ObjectIdentifier, propertyID bacnet.PropertyIdentifier, arrayIndex *uint32, value interface{}, priority *uint8) error {
	p := uint8(16)
	if priority != nil {
		p = *priority
	}
	err := d.storage.WriteCommandableProperty(objectID, propertyID, value, p)
	if err == bacnet.ErrNotForMe {
		return d.storage.WriteProperty(objectID, propertyID, arrayIndex, value, false)
	}
	return err
}

// serveSubscribeCOV registers or cancels a ChangeOfValue subscription.
// Cancellation is signalled by the absence of IssueConfirmed/Lifetime on
// the wire, decoded as SubscribeCOVRequest.Cancel. Always acks with a
// SimpleAck (returns nil on success) since there's no data to carry back.
func (d *Device) serveSubscribeCOV(data []byte, addr *net.UDPAddr) error {
	req, err := bacnet.DecodeSubscribeCOVRequest(data)
	if err != nil {
		return err
	}

	key := covSubscriptionKey{ObjectID: req.ObjectID, ProcessID: req.ProcessID}
	d.covMu.Lock()
	defer d.covMu.Unlock()
	if req.Cancel {
		delete(d.covSubs, key)
		return nil
	}
	d.covSubs[key] = covSubscription{Addr: addr, IssueConfirmed: req.IssueConfirmed}
	return nil
}

func (d *Device) respondError(ctx context.Context, addr *net.UDPAddr, invokeID uint8, service bacnet.ConfirmedServiceChoice, err error) {
	switch e := err.(type) {
	case *bacnet.BACnetError:
		d.metrics.ErrorsSent.Inc()
		d.sendAPDU(ctx, addr, bacnet.EncodeErrorAPDU(invokeID, service, e))
	case *bacnet.RejectError:
		d.reject(ctx, addr, invokeID, e.Reason)
	default:
		d.reject(ctx, addr, invokeID, bacnet.RejectReasonForDecodeError(err))
	}
}

func (d *Device) reject(ctx context.Context, addr *net.UDPAddr, invokeID uint8, reason bacnet.RejectReason) {
	d.metrics.RejectsSent.Inc()
	d.sendAPDU(ctx, addr, bacnet.EncodeRejectAPDU(invokeID, reason))
}

func (d *Device) sendAPDU(ctx context.Context, addr *net.UDPAddr, apdu []byte) {
	if err := d.sendPacket(ctx, addr, apdu); err != nil {
		d.logger.Warn("send APDU", slog.String("error", err.Error()))
	}
}

func (d *Device) sendPacket(ctx context.Context, addr *net.UDPAddr, apdu []byte) error {
	npdu := bacnet.EncodeNPDU(false, bacnet.NPDUControlPriorityNormal)
	bvlc := bacnet.EncodeBVLC(bacnet.BVLCOriginalUnicastNPDU, len(npdu)+len(apdu))
	packet := append(append(bvlc, npdu...), apdu...)
	return (&udpSender{conn: d.conn}).Send(ctx, addr, packet)
}
