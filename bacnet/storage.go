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

package bacnet

import (
	"encoding/xml"
	"fmt"
	"os"
	"strconv"
	"sync"
)

// WildcardDeviceInstance is the BACnet reserved instance number (2^22-1)
// used in a device object identifier to mean "this device, whatever its
// real instance is" — storage rewrites it to the configured device id both
// at load (RewriteDeviceInstance) and per request (read_property/
// write_property).
const WildcardDeviceInstance = 0x3FFFFF

// priorityArraySize is the number of slots in a commandable property's
// priority array. Slot indices are 1-based in BACnet; slot 6 ("minimum
// on/off") is reserved and rejected by WriteCommandableProperty.
const priorityArraySize = 16

// reservedPriority is the priority level a commandable write may never
// target directly.
const reservedPriority = 6

// ArrayIndexAll is the PropertyReference array_index sentinel meaning "the
// whole property", as distinct from 0 ("count of elements") or a 1-based
// element index.
const ArrayIndexAll = 0xFFFFFFFF

// TaggedValue is one element of a StorageProperty's value list: an
// application-tagged value, the storage-layer analogue of the tag/value
// pair EncodeApplicationValue/DecodeApplicationValue carry on the wire.
type TaggedValue struct {
	Tag   ApplicationTag
	Value interface{}
}

// applicationTagOf infers the application tag EncodeApplicationValue would
// give value. It is the storage layer's half of the Go-type/tag mapping,
// used to adopt a property's recorded tag on first write.
func applicationTagOf(value interface{}) ApplicationTag {
	switch v := value.(type) {
	case nil:
		return TagNull
	case bool:
		return TagBoolean
	case uint32:
		return TagUnsignedInt
	case int:
		if v >= 0 {
			return TagUnsignedInt
		}
		return TagSignedInt
	case int32:
		if v >= 0 {
			return TagUnsignedInt
		}
		return TagSignedInt
	case float32:
		return TagReal
	case float64:
		return TagDouble
	case string:
		return TagCharacterString
	case ObjectIdentifier:
		return TagObjectID
	case []byte:
		return TagOctetString
	default:
		return TagNull
	}
}

// flattenValues collapses a value list back to the scalar shape most
// callers expect: nil for an empty list, the single element's Value for a
// singleton list (the common case — almost every BACnet property this
// device exposes is scalar), or a []interface{} for a genuine multi-valued
// property such as OBJECT_LIST.
func flattenValues(values []TaggedValue) interface{} {
	switch len(values) {
	case 0:
		return nil
	case 1:
		return values[0].Value
	default:
		out := make([]interface{}, len(values))
		for i, v := range values {
			out[i] = v.Value
		}
		return out
	}
}

// StorageProperty holds one property's value list (and, for commandable
// properties, its full priority array) within a StorageObject. It models
// the spec's (property_id, application_tag, list<TaggedValue>): Tag starts
// null and is adopted from the first non-null-tagged value written.
type StorageProperty struct {
	PropertyID        PropertyIdentifier
	Tag               ApplicationTag
	Values            []TaggedValue
	Commandable       bool
	PriorityArray     [priorityArraySize]*TaggedValue
	RelinquishDefault *TaggedValue
}

// presentValue recomputes the effective tagged value of a commandable
// property: the lowest-numbered non-nil priority slot, or RelinquishDefault
// if every slot is empty.
func (p *StorageProperty) presentValue() *TaggedValue {
	for _, v := range p.PriorityArray {
		if v != nil {
			return v
		}
	}
	return p.RelinquishDefault
}

// valueList returns the property's current value as the list ReadProperty's
// array_index cases index into. For a commandable property that is the
// value last written directly while OUT_OF_SERVICE was set, if any, or else
// a singleton holding the priority-array winner; otherwise the stored list.
func (p *StorageProperty) valueList() []TaggedValue {
	if p.Commandable {
		if len(p.Values) > 0 {
			return p.Values
		}
		if tv := p.presentValue(); tv != nil {
			return []TaggedValue{*tv}
		}
		return nil
	}
	return p.Values
}

// StorageObject is one BACnet object (its identifier plus its property
// set) tracked by a DeviceStorage.
type StorageObject struct {
	ObjectID   ObjectIdentifier
	Name       string
	Properties map[PropertyIdentifier]*StorageProperty
}

// newStorageObject creates an empty StorageObject for id.
func newStorageObject(id ObjectIdentifier) *StorageObject {
	return &StorageObject{
		ObjectID:   id,
		Properties: make(map[PropertyIdentifier]*StorageProperty),
	}
}

// ChangeOfValueFunc observes a successful WriteProperty or
// WriteCommandableProperty call. It fires synchronously from inside the
// storage mutex (see package docs on DeviceStorage) — an observer must not
// call back into the same DeviceStorage, only send notifications or record
// bookkeeping elsewhere.
type ChangeOfValueFunc func(id ObjectIdentifier, propertyID PropertyIdentifier, arrayIndex *uint32, values []TaggedValue)

// DeviceStorage is the in-memory object/property database backing the
// server façade, with optional XML persistence. It is safe for concurrent
// use: every accessor takes mu the same way the client takes devicesMu
// over its own device map. All reads, writes, and load/save serialise on
// the single mutex, per the concurrency model's shared-resource policy.
type DeviceStorage struct {
	mu             sync.RWMutex
	objects        map[ObjectIdentifier]*StorageObject
	path           string
	deviceInstance uint32

	obsMu     sync.Mutex
	observers []ChangeOfValueFunc
}

// NewDeviceStorage creates an empty DeviceStorage.
func NewDeviceStorage() *DeviceStorage {
	return &DeviceStorage{
		objects: make(map[ObjectIdentifier]*StorageObject),
	}
}

// OnChangeOfValue registers fn to be invoked after every successful write.
func (s *DeviceStorage) OnChangeOfValue(fn ChangeOfValueFunc) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, fn)
}

// fireChangeOfValue invokes every registered observer. Called while s.mu is
// still held by the write in progress, so observers run synchronously
// inside the storage mutex and must not re-enter storage.
func (s *DeviceStorage) fireChangeOfValue(id ObjectIdentifier, propertyID PropertyIdentifier, arrayIndex *uint32, values []TaggedValue) {
	s.obsMu.Lock()
	observers := s.observers
	s.obsMu.Unlock()
	for _, fn := range observers {
		fn(id, propertyID, arrayIndex, values)
	}
}

// normalizeID rewrites a wildcard OBJECT_DEVICE instance in id to this
// storage's configured device instance. Callers must hold s.mu.
func (s *DeviceStorage) normalizeID(id ObjectIdentifier) ObjectIdentifier {
	if id.Type == ObjectTypeDevice && id.Instance == WildcardDeviceInstance {
		return ObjectIdentifier{Type: ObjectTypeDevice, Instance: s.deviceInstance}
	}
	return id
}

// AddObject registers an object, creating its property map if absent.
// Re-adding an existing id is a no-op on the existing object.
func (s *DeviceStorage) AddObject(id ObjectIdentifier) *StorageObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	if obj, ok := s.objects[id]; ok {
		return obj
	}
	obj := newStorageObject(id)
	s.objects[id] = obj
	return obj
}

// DeleteObject removes an object and all of its properties.
func (s *DeviceStorage) DeleteObject(id ObjectIdentifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[id]; !ok {
		return NewBACnetError(ErrorClassObject, ErrorCodeUnknownObject)
	}
	delete(s.objects, id)
	return nil
}

// SetProperty sets a plain (non-commandable) property value, adopting the
// application tag inferred from value.
func (s *DeviceStorage) SetProperty(id ObjectIdentifier, propertyID PropertyIdentifier, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[id]
	if !ok {
		obj = newStorageObject(id)
		s.objects[id] = obj
	}
	tag := applicationTagOf(value)
	obj.Properties[propertyID] = &StorageProperty{
		PropertyID: propertyID,
		Tag:        tag,
		Values:     []TaggedValue{{Tag: tag, Value: value}},
	}
}

// SetCommandableProperty registers propertyID on id as commandable, with
// the given relinquish-default value.
func (s *DeviceStorage) SetCommandableProperty(id ObjectIdentifier, propertyID PropertyIdentifier, relinquishDefault interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[id]
	if !ok {
		obj = newStorageObject(id)
		s.objects[id] = obj
	}
	tag := applicationTagOf(relinquishDefault)
	obj.Properties[propertyID] = &StorageProperty{
		PropertyID:        propertyID,
		Tag:               tag,
		Commandable:       true,
		RelinquishDefault: &TaggedValue{Tag: tag, Value: relinquishDefault},
	}
}

// ReadProperty reads one property of one object, honoring the wildcard
// device instance on id when it names OBJECT_DEVICE and the array_index
// selection rules of a PropertyReference: nil or ArrayIndexAll for the
// whole property, 0 for its element count, or a 1-based element otherwise
// (out of range returns InvalidArrayIndex).
func (s *DeviceStorage) ReadProperty(id ObjectIdentifier, propertyID PropertyIdentifier, arrayIndex *uint32) (interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id = s.normalizeID(id)

	obj, ok := s.objects[id]
	if !ok {
		return nil, NewBACnetError(ErrorClassObject, ErrorCodeUnknownObject)
	}
	prop, ok := obj.Properties[propertyID]
	if !ok {
		return nil, NewBACnetError(ErrorClassProperty, ErrorCodeUnknownProperty)
	}

	values := prop.valueList()
	if arrayIndex == nil || *arrayIndex == ArrayIndexAll {
		return flattenValues(values), nil
	}
	if *arrayIndex == 0 {
		return uint32(len(values)), nil
	}
	idx := int(*arrayIndex)
	if idx < 1 || idx > len(values) {
		return nil, NewBACnetError(ErrorClassProperty, ErrorCodeInvalidArrayIndex)
	}
	return values[idx-1].Value, nil
}

// WriteProperty replaces a plain (non-commandable) property's value list,
// creating the object and/or property first when addIfMissing is set.
// Writing a property registered as commandable returns a WriteAccessDenied
// BACnetError; such properties are written with WriteCommandableProperty.
// On success it fires
// ChangeOfValue synchronously, still holding the storage mutex.
func (s *DeviceStorage) WriteProperty(id ObjectIdentifier, propertyID PropertyIdentifier, arrayIndex *uint32, value interface{}, addIfMissing bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id = s.normalizeID(id)

	obj, ok := s.objects[id]
	if !ok {
		if !addIfMissing {
			return NewBACnetError(ErrorClassObject, ErrorCodeUnknownObject)
		}
		obj = newStorageObject(id)
		s.objects[id] = obj
	}

	prop, ok := obj.Properties[propertyID]
	if !ok {
		if !addIfMissing {
			return NewBACnetError(ErrorClassProperty, ErrorCodeUnknownProperty)
		}
		prop = &StorageProperty{PropertyID: propertyID}
		obj.Properties[propertyID] = prop
	}
	if prop.Commandable {
		return NewBACnetError(ErrorClassProperty, ErrorCodeWriteAccessDenied)
	}

	tag := applicationTagOf(value)
	if prop.Tag == TagNull && tag != TagNull {
		prop.Tag = tag
	}
	prop.Values = []TaggedValue{{Tag: tag, Value: value}}

	s.fireChangeOfValue(id, propertyID, arrayIndex, prop.Values)
	return nil
}

// WriteCommandableProperty writes (or relinquishes, when value is nil) one
// slot of a commandable property's priority array. Priority 6 is rejected
// for every write that goes through the array. PresentValue is recomputed as the lowest-numbered non-nil slot,
// falling back to RelinquishDefault once every slot is empty. When the
// object's OUT_OF_SERVICE property reads true and propertyID is
// PRESENT_VALUE, the priority array is bypassed entirely and the value is
// written directly, simulating an overridden sensor. Returns ErrNotForMe
// when the object/property isn't commandable-eligible, so a façade handler
// can fall back to WriteProperty.
func (s *DeviceStorage) WriteCommandableProperty(id ObjectIdentifier, propertyID PropertyIdentifier, value interface{}, priority uint8) error {
	if priority < 1 || priority > priorityArraySize {
		return &RejectError{Reason: RejectReasonInvalidParameterDataType}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id = s.normalizeID(id)

	obj, ok := s.objects[id]
	if !ok {
		return ErrNotForMe
	}
	prop, ok := obj.Properties[propertyID]
	if !ok || !prop.Commandable {
		return ErrNotForMe
	}

	if propertyID == PropertyPresentValue {
		if oos, ok := obj.Properties[PropertyOutOfService]; ok {
			if outOfService, _ := flattenValues(oos.valueList()).(bool); outOfService {
				tag := applicationTagOf(value)
				if prop.Tag == TagNull && tag != TagNull {
					prop.Tag = tag
				}
				prop.Values = []TaggedValue{{Tag: tag, Value: value}}
				s.fireChangeOfValue(id, propertyID, nil, prop.Values)
				return nil
			}
		}
	}

	if priority == reservedPriority {
		return NewBACnetError(ErrorClassProperty, ErrorCodeWriteAccessDenied)
	}

	// A write through the priority array supersedes any direct write.
	prop.Values = nil
	if value == nil {
		prop.PriorityArray[priority-1] = nil
	} else {
		prop.PriorityArray[priority-1] = &TaggedValue{Tag: applicationTagOf(value), Value: value}
	}

	var values []TaggedValue
	if tv := prop.presentValue(); tv != nil {
		values = []TaggedValue{*tv}
	}
	s.fireChangeOfValue(id, propertyID, nil, values)
	return nil
}

// ReadPropertyMultiple reads every requested property of every requested
// object, folding per-property failures into ReadAccessResult entries
// rather than failing the whole call.
func (s *DeviceStorage) ReadPropertyMultiple(specs []ReadAccessSpecification) []ReadAccessResult {
	results := make([]ReadAccessResult, 0, len(specs))
	for _, spec := range specs {
		result := ReadAccessResult{ObjectID: spec.ObjectID}
		refs := spec.References
		if len(refs) == 1 && refs[0].PropertyID == PropertyAll {
			refs = s.allPropertyReferences(spec.ObjectID)
		}
		for _, ref := range refs {
			val, err := s.ReadProperty(spec.ObjectID, ref.PropertyID, ref.ArrayIndex)
			pr := PropertyReadResult{PropertyID: ref.PropertyID, ArrayIndex: ref.ArrayIndex}
			if err != nil {
				if berr, ok := err.(*BACnetError); ok {
					pr.Err = berr
				} else {
					pr.Err = NewBACnetError(ErrorClassProperty, ErrorCodeOther)
				}
			} else {
				pr.Value = val
			}
			result.Results = append(result.Results, pr)
		}
		results = append(results, result)
	}
	return results
}

// allPropertyReferences lists every property currently stored on id, used
// to answer a PROPERTY_ALL ("read everything") request.
func (s *DeviceStorage) allPropertyReferences(id ObjectIdentifier) []PropertyReference {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[id]
	if !ok {
		return nil
	}
	refs := make([]PropertyReference, 0, len(obj.Properties))
	for propID := range obj.Properties {
		refs = append(refs, PropertyReference{PropertyID: propID})
	}
	return refs
}

// PropertyIDs returns the property identifiers registered on id, in no
// particular order. Used by the server façade's diagnostics endpoint to
// enumerate an object's properties without exposing the storage map.
func (s *DeviceStorage) PropertyIDs(id ObjectIdentifier) []PropertyIdentifier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[id]
	if !ok {
		return nil
	}
	ids := make([]PropertyIdentifier, 0, len(obj.Properties))
	for propID := range obj.Properties {
		ids = append(ids, propID)
	}
	return ids
}

// Objects returns every object identifier currently stored, in no
// particular order. Used by the server façade to build OBJECT_LIST and by
// enumerate_properties to walk it in batches.
func (s *DeviceStorage) Objects() []ObjectIdentifier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]ObjectIdentifier, 0, len(s.objects))
	for id := range s.objects {
		ids = append(ids, id)
	}
	return ids
}

// RewriteDeviceInstance replaces every OBJECT_DEVICE object carrying the
// wildcard instance with deviceInstance, including any DEVICE object
// references stored as property values, and records deviceInstance so later
// per-request reads/writes normalize the wildcard the same way. This lets a
// storage XML file be authored once and deployed under any device instance
// number.
func (s *DeviceStorage) RewriteDeviceInstance(deviceInstance uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceInstance = deviceInstance

	rewriteID := func(id ObjectIdentifier) ObjectIdentifier {
		if id.Type == ObjectTypeDevice && id.Instance == WildcardDeviceInstance {
			return ObjectIdentifier{Type: ObjectTypeDevice, Instance: deviceInstance}
		}
		return id
	}

	rewritten := make(map[ObjectIdentifier]*StorageObject, len(s.objects))
	for id, obj := range s.objects {
		newID := rewriteID(id)
		obj.ObjectID = newID
		for _, prop := range obj.Properties {
			for i, tv := range prop.Values {
				if oid, ok := tv.Value.(ObjectIdentifier); ok {
					prop.Values[i].Value = rewriteID(oid)
				}
			}
		}
		rewritten[newID] = obj
	}
	s.objects = rewritten
}

// --- XML persistence ---

type xmlStorage struct {
	XMLName xml.Name    `xml:"device-storage"`
	Objects []xmlObject `xml:"object"`
}

type xmlObject struct {
	Type       uint16        `xml:"type,attr"`
	Instance   uint32        `xml:"instance,attr"`
	Name       string        `xml:"name,attr,omitempty"`
	Properties []xmlProperty `xml:"property"`
}

type xmlProperty struct {
	ID                PropertyIdentifier `xml:"id,attr"`
	Tag               ApplicationTag     `xml:"tag,attr,omitempty"`
	Value             string             `xml:"value,attr,omitempty"`
	Commandable       bool               `xml:"commandable,attr,omitempty"`
	RelinquishDefault string             `xml:"relinquish-default,attr,omitempty"`
}

// parseTaggedValue reparses the string form Save wrote back into the Go
// type its tag denotes, so Load round-trips the primitive application tags
// (boolean, unsigned, signed, real, double, character string) without the
// caller needing to re-coerce. ObjectID and octet-string values, which Save
// has no lossless text form for, load back as the raw string.
func parseTaggedValue(tag ApplicationTag, s string) interface{} {
	switch tag {
	case TagBoolean:
		return s == "true"
	case TagUnsignedInt:
		v, _ := strconv.ParseUint(s, 10, 32)
		return uint32(v)
	case TagSignedInt:
		v, _ := strconv.ParseInt(s, 10, 32)
		return int32(v)
	case TagReal:
		v, _ := strconv.ParseFloat(s, 32)
		return float32(v)
	case TagDouble:
		v, _ := strconv.ParseFloat(s, 64)
		return v
	case TagCharacterString:
		return s
	default:
		return s
	}
}

// Save writes the storage contents to path as XML, alongside each
// property's adopted application tag so Load can restore typed values
// rather than raw strings.
func (s *DeviceStorage) Save(path string) error {
	s.mu.RLock()
	doc := xmlStorage{}
	for _, obj := range s.objects {
		xo := xmlObject{Type: uint16(obj.ObjectID.Type), Instance: obj.ObjectID.Instance, Name: obj.Name}
		for _, prop := range obj.Properties {
			xp := xmlProperty{ID: prop.PropertyID, Tag: prop.Tag, Commandable: prop.Commandable}
			if prop.Commandable {
				if prop.RelinquishDefault != nil {
					xp.Tag = prop.RelinquishDefault.Tag
					xp.RelinquishDefault = fmt.Sprint(prop.RelinquishDefault.Value)
				}
			} else {
				xp.Value = fmt.Sprint(flattenValues(prop.Values))
			}
			xo.Properties = append(xo.Properties, xp)
		}
		doc.Objects = append(doc.Objects, xo)
	}
	s.mu.RUnlock()

	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal storage: %w", err)
	}
	data = append([]byte(xml.Header), data...)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write storage file: %w", err)
	}

	s.mu.Lock()
	s.path = path
	s.mu.Unlock()
	return nil
}

// Load reads a storage XML file written by Save, replacing the in-memory
// object set. Values are reparsed according to their saved tag; a property
// saved before tags were persisted (tag == TagNull) loads as a string.
func (s *DeviceStorage) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read storage file: %w", err)
	}

	var doc xmlStorage
	if err := xml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("unmarshal storage: %w", err)
	}

	objects := make(map[ObjectIdentifier]*StorageObject, len(doc.Objects))
	for _, xo := range doc.Objects {
		id := ObjectIdentifier{Type: ObjectType(xo.Type), Instance: xo.Instance}
		obj := newStorageObject(id)
		obj.Name = xo.Name
		for _, xp := range xo.Properties {
			prop := &StorageProperty{PropertyID: xp.ID, Tag: xp.Tag, Commandable: xp.Commandable}
			if xp.Commandable {
				prop.RelinquishDefault = &TaggedValue{Tag: xp.Tag, Value: parseTaggedValue(xp.Tag, xp.RelinquishDefault)}
			} else {
				prop.Values = []TaggedValue{{Tag: xp.Tag, Value: parseTaggedValue(xp.Tag, xp.Value)}}
			}
			obj.Properties[xp.ID] = prop
		}
		objects[id] = obj
	}

	s.mu.Lock()
	s.objects = objects
	s.path = path
	s.mu.Unlock()
	return nil
}

// Path returns the file path storage was last Saved to or Loaded from, or
// "" if neither has happened yet.
func (s *DeviceStorage) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}
