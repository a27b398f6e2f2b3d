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
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// startSchedule registers the device's periodic jobs (I-Am re-broadcast
// every minute, storage autosave when configured) and starts the
// scheduler. Call stopSchedule on shutdown.
func (d *Device) startSchedule(ctx context.Context) error {
	d.cron = cron.New(cron.WithSeconds())

	if _, err := d.cron.AddFunc("0 * * * * *", func() {
		if err := d.broadcastIAm(ctx); err != nil {
			d.logger.Warn("scheduled I-Am broadcast", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("schedule I-Am broadcast: %w", err)
	}

	if d.opts.autosaveEvery > 0 {
		spec := fmt.Sprintf("@every %ds", d.opts.autosaveEvery)
		if _, err := d.cron.AddFunc(spec, func() {
			if err := d.storage.Save(d.opts.storagePath); err != nil {
				d.logger.Warn("scheduled storage autosave", slog.String("error", err.Error()))
			}
		}); err != nil {
			return fmt.Errorf("schedule autosave: %w", err)
		}
	}

	d.cron.Start()
	return nil
}

func (d *Device) stopSchedule() {
	if d.cron != nil {
		<-d.cron.Stop().Done()
	}
}
