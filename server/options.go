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
	"log/slog"
	"os"
)

// Options configures a Device. Mirrors the client package's functional
// options pattern (bacnet.clientOptions/Option) on the server side.
type Options struct {
	listenAddr     string
	deviceInstance uint32
	vendorID       uint16
	broadcastPort  int
	autosaveEvery  int
	storagePath    string
	logger         *slog.Logger
}

// Option configures a Device at construction time.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		listenAddr:    ":47808",
		vendorID:      0,
		broadcastPort: 47808,
		autosaveEvery: 0,
		logger:        slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}
}

// WithListenAddress sets the local UDP address the device listens on,
// e.g. ":47808" or "192.168.1.10:47808".
func WithListenAddress(addr string) Option {
	return func(o *Options) { o.listenAddr = addr }
}

// WithDeviceInstance sets the object instance of this device's Device
// object, rewriting any wildcard (bacnet.WildcardDeviceInstance) objects in
// storage to match on Open.
func WithDeviceInstance(instance uint32) Option {
	return func(o *Options) { o.deviceInstance = instance }
}

// WithVendorID sets the vendor identifier reported in I-Am.
func WithVendorID(id uint16) Option {
	return func(o *Options) { o.vendorID = id }
}

// WithBroadcastPort overrides the UDP port I-Am/broadcast traffic targets.
// Defaults to the standard BACnet/IP port, 47808.
func WithBroadcastPort(port int) Option {
	return func(o *Options) { o.broadcastPort = port }
}

// WithAutosave enables periodic storage persistence to path every n
// seconds. n <= 0 disables autosave (the default).
func WithAutosave(path string, seconds int) Option {
	return func(o *Options) {
		o.storagePath = path
		o.autosaveEvery = seconds
	}
}

// WithLogger overrides the device's structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) { o.logger = logger }
}
