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
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DiagnosticsRouter builds an HTTP router exposing /metrics (Prometheus
// exposition), /healthz (liveness), and /storage (a JSON dump of the
// device's objects) for operators running a Device out-of-process.
func (d *Device) DiagnosticsRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Handle("/metrics", promhttp.HandlerFor(d.metrics.Registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", d.handleHealthz)
	r.Get("/storage", d.handleStorage)

	return r
}

func (d *Device) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type storageObjectView struct {
	ObjectID   string                 `json:"object_id"`
	Properties map[string]interface{} `json:"properties"`
}

func (d *Device) handleStorage(w http.ResponseWriter, r *http.Request) {
	ids := d.storage.Objects()
	view := make([]storageObjectView, 0, len(ids))
	for _, id := range ids {
		props := map[string]interface{}{}
		for _, propID := range d.storage.PropertyIDs(id) {
			val, err := d.storage.ReadProperty(id, propID, nil)
			if err != nil {
				continue
			}
			props[propID.String()] = val
		}
		view = append(view, storageObjectView{ObjectID: id.String(), Properties: props})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(view)
}
