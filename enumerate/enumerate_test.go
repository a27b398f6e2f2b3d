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

package enumerate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeo/drivers/bacnet/bacnet"
)

func objectsN(n int) []bacnet.ObjectIdentifier {
	objs := make([]bacnet.ObjectIdentifier, n)
	for i := range objs {
		objs[i] = bacnet.ObjectIdentifier{Type: bacnet.ObjectTypeAnalogInput, Instance: uint32(i)}
	}
	return objs
}

func TestBatchObjectsEvenSplit(t *testing.T) {
	batches := batchObjects(objectsN(40), 20)
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 20)
	assert.Len(t, batches[1], 20)
}

func TestBatchObjectsRemainder(t *testing.T) {
	batches := batchObjects(objectsN(45), 20)
	require.Len(t, batches, 3)
	assert.Len(t, batches[2], 5)
}

func TestBatchObjectsDefaultsWhenSizeInvalid(t *testing.T) {
	batches := batchObjects(objectsN(25), 0)
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], defaultBatchSize)
}

func TestWithBatchSizeIgnoresNonPositive(t *testing.T) {
	o := defaultOptions()
	WithBatchSize(-1)(o)
	assert.Equal(t, defaultBatchSize, o.batchSize)
	WithBatchSize(5)(o)
	assert.Equal(t, 5, o.batchSize)
}
