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

// Package enumerate walks a device's full object list and reads a set of
// properties off every object, batching objects into concurrent
// ReadPropertyMultiple calls instead of one request per object.
package enumerate

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/edgeo/drivers/bacnet/bacnet"
)

const defaultBatchSize = 20

// Options configures EnumerateProperties.
type Options struct {
	batchSize   int
	concurrency int
	logger      *slog.Logger
}

// Option configures an enumerate call.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		batchSize:   defaultBatchSize,
		concurrency: 4,
		logger:      slog.Default(),
	}
}

// WithBatchSize sets how many objects are read per ReadPropertyMultiple
// call. Defaults to 20.
func WithBatchSize(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithConcurrency sets how many batches are in flight at once. Defaults to
// 4.
func WithConcurrency(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithLogger overrides the logger the enumeration correlates its
// per-operation id against.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) { o.logger = logger }
}

// Result is every property value read off one object.
type Result struct {
	ObjectID ObjectIdentifier
	Values   []bacnet.PropertyValue
	Err      error
}

// ObjectIdentifier re-exports bacnet.ObjectIdentifier so callers need not
// import the bacnet package just to name a Result's object.
type ObjectIdentifier = bacnet.ObjectIdentifier

// EnumerateProperties reads properties off every object in deviceID's
// object list, batching Options.batchSize objects per ReadPropertyMultiple
// call and running up to Options.concurrency batches at once. A batch
// failure does not abort the others: it is recorded on the Results whose
// objects it covered.
func EnumerateProperties(ctx context.Context, client *bacnet.Client, deviceID uint32, properties []bacnet.PropertyIdentifier, opts ...Option) ([]Result, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	opID := uuid.New().String()
	logger := o.logger.With("op_id", opID, "device_id", deviceID)

	objects, err := client.GetObjectList(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	logger.Info("enumerate: object list retrieved", "count", len(objects))

	refs := make([]bacnet.PropertyReference, len(properties))
	for i, p := range properties {
		refs[i] = bacnet.PropertyReference{PropertyID: p}
	}

	batches := batchObjects(objects, o.batchSize)
	results := make([][]Result, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)

	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			results[i] = readBatch(gctx, client, deviceID, batch, refs, logger)
			return nil
		})
	}

	// errgroup.Wait only returns an error from a Go func returning one;
	// readBatch folds per-object failures into Result.Err instead, so every
	// batch always completes and this is effectively unreachable.
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []Result
	for _, batch := range results {
		all = append(all, batch...)
	}
	logger.Info("enumerate: complete", "objects", len(all))
	return all, nil
}

func readBatch(ctx context.Context, client *bacnet.Client, deviceID uint32, objects []bacnet.ObjectIdentifier, refs []bacnet.PropertyReference, logger *slog.Logger) []Result {
	requests := make([]bacnet.ReadPropertyRequest, 0, len(objects)*len(refs))
	for _, oid := range objects {
		for _, ref := range refs {
			requests = append(requests, bacnet.ReadPropertyRequest{ObjectID: oid, PropertyID: ref.PropertyID})
		}
	}

	values, err := client.ReadPropertyMultiple(ctx, deviceID, requests)
	if err != nil {
		logger.Warn("enumerate: batch failed", "objects", len(objects), "error", err)
		results := make([]Result, len(objects))
		for i, oid := range objects {
			results[i] = Result{ObjectID: oid, Err: err}
		}
		return results
	}

	byObject := make(map[bacnet.ObjectIdentifier][]bacnet.PropertyValue, len(objects))
	for _, v := range values {
		byObject[v.ObjectID] = append(byObject[v.ObjectID], v)
	}

	results := make([]Result, len(objects))
	for i, oid := range objects {
		results[i] = Result{ObjectID: oid, Values: byObject[oid]}
	}
	return results
}

func batchObjects(objects []bacnet.ObjectIdentifier, size int) [][]bacnet.ObjectIdentifier {
	if size <= 0 {
		size = defaultBatchSize
	}
	var batches [][]bacnet.ObjectIdentifier
	for start := 0; start < len(objects); start += size {
		end := start + size
		if end > len(objects) {
			end = len(objects)
		}
		batches = append(batches, objects[start:end])
	}
	return batches
}
