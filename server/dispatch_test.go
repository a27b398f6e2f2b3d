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
	"net"
	"testing"
	"time"

	"github.com/edgeo/drivers/bacnet/bacnet"
	"github.com/stretchr/testify/require"
)

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	storage := bacnet.NewDeviceStorage()
	ai := bacnet.ObjectIdentifier{Type: bacnet.ObjectTypeAnalogInput, Instance: 1}
	storage.AddObject(ai)
	storage.SetProperty(ai, bacnet.PropertyPresentValue, float32(21.5))

	av := bacnet.ObjectIdentifier{Type: bacnet.ObjectTypeAnalogValue, Instance: 1}
	storage.AddObject(av)
	storage.SetCommandableProperty(av, bacnet.PropertyPresentValue, float32(0))

	return NewDevice(storage, WithDeviceInstance(100))
}

func TestServeReadProperty(t *testing.T) {
	d := newTestDevice(t)
	ai := bacnet.ObjectIdentifier{Type: bacnet.ObjectTypeAnalogInput, Instance: 1}
	req := bacnet.ReadPropertyRequest{ObjectID: ai, PropertyID: bacnet.PropertyPresentValue}
	data := bacnet.EncodeReadPropertyRequest(req)

	ack, err := d.serveReadProperty(data)
	require.NoError(t, err)
	require.NotEmpty(t, ack)
}

func TestServeReadPropertyUnknownObject(t *testing.T) {
	d := newTestDevice(t)
	missing := bacnet.ObjectIdentifier{Type: bacnet.ObjectTypeAnalogInput, Instance: 99}
	req := bacnet.ReadPropertyRequest{ObjectID: missing, PropertyID: bacnet.PropertyPresentValue}
	data := bacnet.EncodeReadPropertyRequest(req)

	_, err := d.serveReadProperty(data)
	require.Error(t, err)
	berr, ok := err.(*bacnet.BACnetError)
	require.True(t, ok)
	require.Equal(t, bacnet.ErrorCodeUnknownObject, berr.Code)
}

func TestServeWritePropertyDeniedOnNonAnalogValue(t *testing.T) {
	d := newTestDevice(t)
	ai := bacnet.ObjectIdentifier{Type: bacnet.ObjectTypeAnalogInput, Instance: 1}
	req := bacnet.WritePropertyRequest{ObjectID: ai, PropertyID: bacnet.PropertyPresentValue, Value: float32(30)}
	data, err := bacnet.EncodeWritePropertyRequest(req)
	require.NoError(t, err)

	err = d.serveWriteProperty(data)
	require.Error(t, err)
	berr, ok := err.(*bacnet.BACnetError)
	require.True(t, ok)
	require.Equal(t, bacnet.ErrorCodeWriteAccessDenied, berr.Code)

	val, err := d.storage.ReadProperty(ai, bacnet.PropertyPresentValue, nil)
	require.NoError(t, err)
	require.Equal(t, float32(21.5), val, "denied write must not mutate storage")
}

func TestServeWritePropertyAllowedOnAnalogValue(t *testing.T) {
	d := newTestDevice(t)
	av := bacnet.ObjectIdentifier{Type: bacnet.ObjectTypeAnalogValue, Instance: 1}
	req := bacnet.WritePropertyRequest{ObjectID: av, PropertyID: bacnet.PropertyPresentValue, Value: float32(30)}
	data, err := bacnet.EncodeWritePropertyRequest(req)
	require.NoError(t, err)

	require.NoError(t, d.serveWriteProperty(data))

	val, err := d.storage.ReadProperty(av, bacnet.PropertyPresentValue, nil)
	require.NoError(t, err)
	require.Equal(t, float32(30), val)
}

func TestServeSubscribeCOVRegistersAndCancels(t *testing.T) {
	d := newTestDevice(t)
	av := bacnet.ObjectIdentifier{Type: bacnet.ObjectTypeAnalogValue, Instance: 1}
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 47809}

	subscribe := bacnet.EncodeSubscribeCOVRequest(bacnet.SubscribeCOVRequest{
		ProcessID: 1, ObjectID: av, IssueConfirmed: false, Lifetime: 0,
	})
	require.NoError(t, d.serveSubscribeCOV(subscribe, addr))

	key := covSubscriptionKey{ObjectID: av, ProcessID: 1}
	d.covMu.Lock()
	sub, ok := d.covSubs[key]
	d.covMu.Unlock()
	require.True(t, ok)
	require.Equal(t, addr, sub.Addr)

	cancel := bacnet.EncodeSubscribeCOVRequest(bacnet.SubscribeCOVRequest{
		ProcessID: 1, ObjectID: av, Cancel: true,
	})
	require.NoError(t, d.serveSubscribeCOV(cancel, addr))

	d.covMu.Lock()
	_, ok = d.covSubs[key]
	d.covMu.Unlock()
	require.False(t, ok)
}

func TestWriteToSubscribedPropertyFiresCOVNotification(t *testing.T) {
	d := newTestDevice(t)
	av := bacnet.ObjectIdentifier{Type: bacnet.ObjectTypeAnalogValue, Instance: 1}

	serverConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer serverConn.Close()
	d.conn = serverConn

	subscriberConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer subscriberConn.Close()

	d.covMu.Lock()
	d.covSubs[covSubscriptionKey{ObjectID: av, ProcessID: 1}] = covSubscription{Addr: subscriberConn.LocalAddr().(*net.UDPAddr)}
	d.covMu.Unlock()

	req := bacnet.WritePropertyRequest{ObjectID: av, PropertyID: bacnet.PropertyPresentValue, Value: float32(42)}
	data, err := bacnet.EncodeWritePropertyRequest(req)
	require.NoError(t, err)
	require.NoError(t, d.serveWriteProperty(data))

	require.NoError(t, subscriberConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1500)
	n, _, err := subscriberConn.ReadFromUDP(buf)
	require.NoError(t, err)
	require.NotZero(t, n)
}

func TestServeReadPropertyMultiple(t *testing.T) {
	d := newTestDevice(t)
	ai := bacnet.ObjectIdentifier{Type: bacnet.ObjectTypeAnalogInput, Instance: 1}
	specs := []bacnet.ReadAccessSpecification{
		{ObjectID: ai, References: []bacnet.PropertyReference{{PropertyID: bacnet.PropertyAll}}},
	}
	data := bacnet.EncodeReadPropertyMultipleRequest(specs)

	ack, err := d.serveReadPropertyMultiple(data)
	require.NoError(t, err)
	require.NotEmpty(t, ack)
}
