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

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/edgeo/drivers/bacnet/bacnet"
	"github.com/edgeo/drivers/bacnet/server"
)

var (
	serveListen      string
	serveInstance    uint32
	serveVendor      uint16
	serveStoragePath string
	serveAutosave    int
	serveHTTPListen  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a BACnet/IP device server backed by a storage file",
	Long: `serve runs a BACnet/IP device out of an XML storage file: it answers
Who-Is with I-Am, and answers ReadProperty/ReadPropertyMultiple/
WriteProperty/WritePropertyMultiple out of the stored objects.

Examples:
  # Serve a device on the default port, instance 1001
  edgeo-bacnet serve --storage device.xml --device 1001

  # Also expose /metrics, /healthz, /storage on localhost:8080
  edgeo-bacnet serve --storage device.xml --device 1001 --http :8080`,

	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", ":47808", "UDP address to listen on")
	serveCmd.Flags().Uint32VarP(&serveInstance, "device", "d", 0, "Device object instance")
	serveCmd.Flags().Uint16Var(&serveVendor, "vendor", 0, "Vendor identifier reported in I-Am")
	serveCmd.Flags().StringVar(&serveStoragePath, "storage", "", "Path to the device's XML storage file")
	serveCmd.Flags().IntVar(&serveAutosave, "autosave", 0, "Autosave storage every n seconds (0 disables)")
	serveCmd.Flags().StringVar(&serveHTTPListen, "http", "", "Address for the diagnostics HTTP server (empty disables)")

	serveCmd.MarkFlagRequired("storage")
	serveCmd.MarkFlagRequired("device")
}

func runServe(cmd *cobra.Command, args []string) error {
	storage := bacnet.NewDeviceStorage()
	if err := storage.Load(serveStoragePath); err != nil {
		return fmt.Errorf("load storage: %w", err)
	}

	dev := server.NewDevice(storage,
		server.WithListenAddress(serveListen),
		server.WithDeviceInstance(serveInstance),
		server.WithVendorID(serveVendor),
		server.WithAutosave(serveStoragePath, serveAutosave),
		server.WithLogger(logger),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := dev.Open(ctx); err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	defer dev.Close()

	if serveHTTPListen != "" {
		httpServer := &http.Server{Addr: serveHTTPListen, Handler: dev.DiagnosticsRouter()}
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("diagnostics server", "error", err)
			}
		}()
		defer httpServer.Shutdown(ctx)
	}

	logger.Info("serving", "device_instance", serveInstance, "listen", serveListen)
	<-ctx.Done()
	return nil
}
