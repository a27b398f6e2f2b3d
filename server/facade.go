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

// Package server implements a BACnet/IP device: it answers discovery and
// property-service requests out of a bacnet.DeviceStorage instead of
// issuing them, the server side the client package's teacher codebase
// never needed.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/edgeo/drivers/bacnet/bacnet"
	"github.com/robfig/cron/v3"
)

// Device is a BACnet/IP server: it owns a UDP socket, a protocol engine for
// segmentation bookkeeping, and a DeviceStorage it answers requests out of.
type Device struct {
	opts    *Options
	storage *bacnet.DeviceStorage
	engine  *bacnet.Engine
	metrics *Metrics

	conn   *net.UDPConn
	cancel context.CancelFunc
	wg     sync.WaitGroup
	cron   *cron.Cron
	watch  *storageWatcher

	covMu   sync.Mutex
	covSubs map[covSubscriptionKey]covSubscription

	logger *slog.Logger
}

// covSubscriptionKey identifies one active SubscribeCOV registration: a
// process subscribing to one object may hold at most one subscription,
// matching real BACnet SubscribeCOV semantics (a later Subscribe-Request
// with the same key replaces rather than adds).
type covSubscriptionKey struct {
	ObjectID  bacnet.ObjectIdentifier
	ProcessID uint32
}

// covSubscription records where to deliver ChangeOfValue notifications for
// one subscription and whether the subscriber asked for confirmed delivery.
type covSubscription struct {
	Addr           *net.UDPAddr
	IssueConfirmed bool
}

// udpSender adapts *net.UDPConn to bacnet.Sender. It cannot reuse the
// client's internal/transport.UDPTransport — Go's internal-package
// visibility rule confines that package to the bacnet module tree, and
// this façade lives in the outer module — so it re-implements the same
// thin send wrapper in the teacher's own style.
type udpSender struct {
	conn *net.UDPConn
}

func (s *udpSender) Send(ctx context.Context, addr *net.UDPAddr, packet []byte) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(3 * time.Second)
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	_, err := s.conn.WriteToUDP(packet, addr)
	return err
}

// NewDevice creates a Device configured by opts. Call Open to start serving.
func NewDevice(storage *bacnet.DeviceStorage, opts ...Option) *Device {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	d := &Device{
		opts:    o,
		storage: storage,
		metrics: NewMetrics(),
		covSubs: make(map[covSubscriptionKey]covSubscription),
		logger:  o.logger,
	}
	d.storage.OnChangeOfValue(d.handleChangeOfValue)
	return d
}

// Open binds the UDP socket, rewrites the storage's wildcard device
// instance to this device's configured instance, starts the receive loop,
// and broadcasts one I-Am. Mirrors the teacher client's Connect sequencing
// (open transport, start receiver goroutine, log) for the inbound side.
func (d *Device) Open(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp4", d.opts.listenAddr)
	if err != nil {
		return fmt.Errorf("resolve listen address: %w", err)
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return fmt.Errorf("listen UDP: %w", err)
	}
	d.conn = conn

	d.storage.RewriteDeviceInstance(d.opts.deviceInstance)

	d.engine = bacnet.NewEngine(&udpSender{conn: conn}, bacnet.DefaultEngineOptions())

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.wg.Add(1)
	go d.receiveLoop(runCtx)

	d.logger.Info("server opened", slog.String("local_addr", conn.LocalAddr().String()), slog.Uint64("device_instance", uint64(d.opts.deviceInstance)))

	if err := d.startSchedule(runCtx); err != nil {
		return err
	}
	if err := d.startWatch(runCtx); err != nil {
		return err
	}

	return d.broadcastIAm(ctx)
}

// Close stops the receive loop, the scheduler, the storage watcher, and
// closes the socket.
func (d *Device) Close() error {
	if d.cancel != nil {
		d.cancel()
	}
	d.stopSchedule()
	d.stopWatch()
	var err error
	if d.conn != nil {
		err = d.conn.Close()
	}
	d.wg.Wait()
	return err
}

// Metrics returns the device's request counters.
func (d *Device) Metrics() *Metrics { return d.metrics }

// Storage returns the device's backing object/property store.
func (d *Device) Storage() *bacnet.DeviceStorage { return d.storage }

// encodeIAm builds the I-Am unconfirmed-request APDU bytes for this device,
// shared by broadcastIAm (startup/periodic announcement) and unicastIAm
// (direct reply to a WhoIs).
func (d *Device) encodeIAm() []byte {
	deviceID := bacnet.ObjectIdentifier{Type: bacnet.ObjectTypeDevice, Instance: d.opts.deviceInstance}
	data := bacnet.EncodeIAmRequest(bacnet.IAmParameters{
		ObjectID:      deviceID,
		MaxAPDULength: bacnet.MaxAPDULength,
		Segmentation:  bacnet.SegmentationBoth,
		VendorID:      uint32(d.opts.vendorID),
	})
	return bacnet.EncodeUnconfirmedRequest(bacnet.ServiceIAm, data)
}

func (d *Device) broadcastIAm(ctx context.Context) error {
	apdu := d.encodeIAm()
	npdu := bacnet.EncodeNPDU(false, bacnet.NPDUControlPriorityNormal)
	bvlc := bacnet.EncodeBVLC(bacnet.BVLCOriginalBroadcastNPDU, len(npdu)+len(apdu))
	packet := append(append(bvlc, npdu...), apdu...)

	bcastAddr := &net.UDPAddr{IP: net.IPv4bcast, Port: d.opts.broadcastPort}
	return (&udpSender{conn: d.conn}).Send(ctx, bcastAddr, packet)
}

// unicastIAm replies to a WhoIs with an I-Am sent directly back to the
// requester rather than broadcast, per the server façade's WhoIs contract.
func (d *Device) unicastIAm(ctx context.Context, addr *net.UDPAddr) error {
	apdu := d.encodeIAm()
	npdu := bacnet.EncodeNPDU(false, bacnet.NPDUControlPriorityNormal)
	bvlc := bacnet.EncodeBVLC(bacnet.BVLCOriginalUnicastNPDU, len(npdu)+len(apdu))
	packet := append(append(bvlc, npdu...), apdu...)

	return (&udpSender{conn: d.conn}).Send(ctx, addr, packet)
}

// handleChangeOfValue notifies every subscriber registered for id of a
// storage write. It is invoked synchronously from inside the storage
// mutex (bacnet.DeviceStorage.fireChangeOfValue) and must not call back
// into d.storage.
func (d *Device) handleChangeOfValue(id bacnet.ObjectIdentifier, propertyID bacnet.PropertyIdentifier, arrayIndex *uint32, values []bacnet.TaggedValue) {
	d.covMu.Lock()
	var subs []covSubscription
	for key, sub := range d.covSubs {
		if key.ObjectID == id {
			subs = append(subs, sub)
		}
	}
	d.covMu.Unlock()
	if len(subs) == 0 {
		return
	}

	var value interface{}
	if len(values) > 0 {
		value = values[0].Value
	}
	params := bacnet.COVNotificationParameters{
		InitiatingDeviceID: bacnet.ObjectIdentifier{Type: bacnet.ObjectTypeDevice, Instance: d.opts.deviceInstance},
		MonitoredObjectID:  id,
		Values: []bacnet.PropertyValue{
			{ObjectID: id, PropertyID: propertyID, ArrayIndex: arrayIndex, Value: value},
		},
	}
	data, err := bacnet.EncodeCOVNotification(params)
	if err != nil {
		d.logger.Warn("encode COV notification", slog.String("error", err.Error()))
		return
	}
	apdu := bacnet.EncodeUnconfirmedRequest(bacnet.ServiceUnconfirmedCOVNotification, data)
	npdu := bacnet.EncodeNPDU(false, bacnet.NPDUControlPriorityNormal)
	bvlc := bacnet.EncodeBVLC(bacnet.BVLCOriginalUnicastNPDU, len(npdu)+len(apdu))
	packet := append(append(bvlc, npdu...), apdu...)

	sender := &udpSender{conn: d.conn}
	for _, sub := range subs {
		if err := sender.Send(context.Background(), sub.Addr, packet); err != nil {
			d.logger.Warn("send COV notification", slog.String("error", err.Error()))
		}
	}
}

func (d *Device) receiveLoop(ctx context.Context) {
	defer d.wg.Done()
	buf := make([]byte, 1500)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := d.conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			d.logger.Error("set read deadline", slog.String("error", err.Error()))
			return
		}

		n, addr, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			d.logger.Warn("read UDP", slog.String("error", err.Error()))
			continue
		}

		d.handlePacket(ctx, append([]byte(nil), buf[:n]...), addr)
	}
}

func (d *Device) handlePacket(ctx context.Context, data []byte, addr *net.UDPAddr) {
	bvlcHeader, err := bacnet.DecodeBVLC(data)
	if err != nil {
		d.metrics.DecodeErrors.Inc()
		return
	}

	npdu, offset, err := bacnet.DecodeNPDU(data[4:])
	if err != nil {
		d.metrics.DecodeErrors.Inc()
		return
	}
	_ = bvlcHeader

	apdu, err := bacnet.DecodeAPDU(data[4+offset:])
	if err != nil {
		d.metrics.DecodeErrors.Inc()
		return
	}

	if reassembled := d.engine.Dispatch(apdu, addr); reassembled != nil {
		apdu = reassembled
	} else if apdu.Segmented {
		return
	}

	switch apdu.Type {
	case bacnet.PDUTypeConfirmedRequest:
		d.handleConfirmedRequest(ctx, apdu, addr, npdu)
	case bacnet.PDUTypeUnconfirmedRequest:
		d.handleUnconfirmedRequest(apdu, addr, npdu)
	}
}
