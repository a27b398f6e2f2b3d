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

	"github.com/fsnotify/fsnotify"
)

// storageWatcher hot-reloads the device's storage file on external edits
// (an operator hand-editing the XML, or a config-management tool pushing a
// new one), the server-side analogue of viper's fsnotify-driven config
// reload used elsewhere in this module.
type storageWatcher struct {
	fsw *fsnotify.Watcher
}

func (d *Device) startWatch(ctx context.Context) error {
	if d.opts.storagePath == "" {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(d.opts.storagePath); err != nil {
		fsw.Close()
		return err
	}
	d.watch = &storageWatcher{fsw: fsw}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := d.storage.Load(d.opts.storagePath); err != nil {
					d.logger.Warn("reload storage", slog.String("error", err.Error()))
					continue
				}
				d.storage.RewriteDeviceInstance(d.opts.deviceInstance)
				d.logger.Info("storage reloaded", slog.String("path", d.opts.storagePath))
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				d.logger.Warn("storage watch", slog.String("error", err.Error()))
			}
		}
	}()
	return nil
}

func (d *Device) stopWatch() {
	if d.watch != nil {
		d.watch.fsw.Close()
	}
}
