package bacnet

import (
	"path/filepath"
	"testing"
)

func TestDeviceStoragePlainPropertyRoundTrip(t *testing.T) {
	s := NewDeviceStorage()
	ai := ObjectIdentifier{Type: ObjectTypeAnalogInput, Instance: 1}
	s.AddObject(ai)
	s.SetProperty(ai, PropertyPresentValue, float32(21.5))

	val, err := s.ReadProperty(ai, PropertyPresentValue, nil)
	if err != nil {
		t.Fatalf("ReadProperty: %v", err)
	}
	if val != float32(21.5) {
		t.Fatalf("expected 21.5, got %v", val)
	}

	if err := s.WriteProperty(ai, PropertyPresentValue, nil, float32(22.0), false); err != nil {
		t.Fatalf("WriteProperty: %v", err)
	}
	val, _ = s.ReadProperty(ai, PropertyPresentValue, nil)
	if val != float32(22.0) {
		t.Fatalf("expected 22.0 after write, got %v", val)
	}
}

func TestDeviceStorageUnknownObjectAndProperty(t *testing.T) {
	s := NewDeviceStorage()
	missing := ObjectIdentifier{Type: ObjectTypeAnalogInput, Instance: 99}
	if _, err := s.ReadProperty(missing, PropertyPresentValue, nil); err == nil {
		t.Fatalf("expected error reading from unknown object")
	}

	ai := ObjectIdentifier{Type: ObjectTypeAnalogInput, Instance: 1}
	s.AddObject(ai)
	if _, err := s.ReadProperty(ai, PropertyPresentValue, nil); err == nil {
		t.Fatalf("expected error reading unknown property")
	}
}

func TestDeviceStorageWritePropertyAddIfMissing(t *testing.T) {
	s := NewDeviceStorage()
	missing := ObjectIdentifier{Type: ObjectTypeAnalogValue, Instance: 1}

	if err := s.WriteProperty(missing, PropertyPresentValue, nil, float32(1), false); err == nil {
		t.Fatalf("expected error writing unknown object without add_if_missing")
	}

	if err := s.WriteProperty(missing, PropertyPresentValue, nil, float32(1), true); err != nil {
		t.Fatalf("WriteProperty with add_if_missing: %v", err)
	}
	val, err := s.ReadProperty(missing, PropertyPresentValue, nil)
	if err != nil {
		t.Fatalf("ReadProperty after add_if_missing write: %v", err)
	}
	if val != float32(1) {
		t.Fatalf("expected 1, got %v", val)
	}
}

func TestDeviceStorageWritePropertyAdoptsTag(t *testing.T) {
	s := NewDeviceStorage()
	av := ObjectIdentifier{Type: ObjectTypeAnalogValue, Instance: 1}
	s.AddObject(av)

	if err := s.WriteProperty(av, PropertyPresentValue, nil, float32(3), true); err != nil {
		t.Fatalf("WriteProperty: %v", err)
	}
	obj := s.AddObject(av)
	prop := obj.Properties[PropertyPresentValue]
	if prop == nil || prop.Tag != TagReal {
		t.Fatalf("expected adopted tag TagReal, got %+v", prop)
	}
}

func TestDeviceStorageReadPropertyArrayIndex(t *testing.T) {
	s := NewDeviceStorage()
	ai := ObjectIdentifier{Type: ObjectTypeAnalogInput, Instance: 1}
	s.AddObject(ai)
	s.SetProperty(ai, PropertyPresentValue, float32(21.5))

	count, err := s.ReadProperty(ai, PropertyPresentValue, uint32Ptr(0))
	if err != nil {
		t.Fatalf("ReadProperty count: %v", err)
	}
	if count != uint32(1) {
		t.Fatalf("expected count 1, got %v", count)
	}

	all, err := s.ReadProperty(ai, PropertyPresentValue, uint32Ptr(ArrayIndexAll))
	if err != nil {
		t.Fatalf("ReadProperty ALL: %v", err)
	}
	if all != float32(21.5) {
		t.Fatalf("expected 21.5, got %v", all)
	}

	elem, err := s.ReadProperty(ai, PropertyPresentValue, uint32Ptr(1))
	if err != nil {
		t.Fatalf("ReadProperty element 1: %v", err)
	}
	if elem != float32(21.5) {
		t.Fatalf("expected 21.5, got %v", elem)
	}

	if _, err := s.ReadProperty(ai, PropertyPresentValue, uint32Ptr(2)); err == nil {
		t.Fatalf("expected out-of-range array index to error")
	} else if berr, ok := err.(*BACnetError); !ok || berr.Code != ErrorCodeInvalidArrayIndex {
		t.Fatalf("expected InvalidArrayIndex, got %v", err)
	}
}

func uint32Ptr(v uint32) *uint32 { return &v }

func TestDeviceStorageCommandablePriorityArray(t *testing.T) {
	s := NewDeviceStorage()
	ao := ObjectIdentifier{Type: ObjectTypeAnalogOutput, Instance: 1}
	s.AddObject(ao)
	s.SetCommandableProperty(ao, PropertyPresentValue, float32(0))

	val, err := s.ReadProperty(ao, PropertyPresentValue, nil)
	if err != nil {
		t.Fatalf("ReadProperty: %v", err)
	}
	if val != float32(0) {
		t.Fatalf("expected relinquish default 0, got %v", val)
	}

	if err := s.WriteCommandableProperty(ao, PropertyPresentValue, float32(75), 8); err != nil {
		t.Fatalf("WriteCommandableProperty priority 8: %v", err)
	}
	val, _ = s.ReadProperty(ao, PropertyPresentValue, nil)
	if val != float32(75) {
		t.Fatalf("expected 75 at priority 8, got %v", val)
	}

	if err := s.WriteCommandableProperty(ao, PropertyPresentValue, float32(50), 3); err != nil {
		t.Fatalf("WriteCommandableProperty priority 3: %v", err)
	}
	val, _ = s.ReadProperty(ao, PropertyPresentValue, nil)
	if val != float32(50) {
		t.Fatalf("expected priority 3 (50) to win over priority 8, got %v", val)
	}

	if err := s.WriteCommandableProperty(ao, PropertyPresentValue, nil, 3); err != nil {
		t.Fatalf("relinquish priority 3: %v", err)
	}
	val, _ = s.ReadProperty(ao, PropertyPresentValue, nil)
	if val != float32(75) {
		t.Fatalf("expected fallback to priority 8 (75) after relinquishing 3, got %v", val)
	}
}

func TestDeviceStorageReservedPriorityRejected(t *testing.T) {
	s := NewDeviceStorage()
	ao := ObjectIdentifier{Type: ObjectTypeAnalogOutput, Instance: 1}
	s.AddObject(ao)
	s.SetCommandableProperty(ao, PropertyPresentValue, float32(0))

	if err := s.WriteCommandableProperty(ao, PropertyPresentValue, float32(1), 6); err == nil {
		t.Fatalf("expected write to reserved priority 6 to be rejected")
	}
	if err := s.WriteCommandableProperty(ao, PropertyPresentValue, float32(1), 17); err == nil {
		t.Fatalf("expected write to out-of-range priority 17 to be rejected")
	}
}

func TestDeviceStorageWriteToCommandableDirectlyRejected(t *testing.T) {
	s := NewDeviceStorage()
	ao := ObjectIdentifier{Type: ObjectTypeAnalogOutput, Instance: 1}
	s.AddObject(ao)
	s.SetCommandableProperty(ao, PropertyPresentValue, float32(0))

	if err := s.WriteProperty(ao, PropertyPresentValue, nil, float32(5), false); err == nil {
		t.Fatalf("expected direct WriteProperty on a commandable property to be rejected")
	}
}

func TestDeviceStorageWriteCommandableNotForMe(t *testing.T) {
	s := NewDeviceStorage()
	ai := ObjectIdentifier{Type: ObjectTypeAnalogInput, Instance: 1}
	s.AddObject(ai)
	s.SetProperty(ai, PropertyPresentValue, float32(21.5))

	err := s.WriteCommandableProperty(ai, PropertyPresentValue, float32(1), 8)
	if err != ErrNotForMe {
		t.Fatalf("expected ErrNotForMe for a non-commandable property, got %v", err)
	}
}

func TestDeviceStorageOutOfServiceBypassesPriorityArray(t *testing.T) {
	s := NewDeviceStorage()
	ao := ObjectIdentifier{Type: ObjectTypeAnalogOutput, Instance: 1}
	s.AddObject(ao)
	s.SetCommandableProperty(ao, PropertyPresentValue, float32(0))
	s.SetProperty(ao, PropertyOutOfService, true)

	if err := s.WriteCommandableProperty(ao, PropertyPresentValue, float32(99), 8); err != nil {
		t.Fatalf("WriteCommandableProperty with OUT_OF_SERVICE: %v", err)
	}
	val, err := s.ReadProperty(ao, PropertyPresentValue, nil)
	if err != nil {
		t.Fatalf("ReadProperty: %v", err)
	}
	if val != float32(99) {
		t.Fatalf("expected OUT_OF_SERVICE write to bypass the priority array and read back 99, got %v", val)
	}
}

func TestDeviceStorageChangeOfValueFires(t *testing.T) {
	s := NewDeviceStorage()
	ai := ObjectIdentifier{Type: ObjectTypeAnalogInput, Instance: 1}
	s.AddObject(ai)
	s.SetProperty(ai, PropertyPresentValue, float32(0))

	var gotID ObjectIdentifier
	var gotProp PropertyIdentifier
	var gotValues []TaggedValue
	calls := 0
	s.OnChangeOfValue(func(id ObjectIdentifier, propertyID PropertyIdentifier, arrayIndex *uint32, values []TaggedValue) {
		calls++
		gotID, gotProp, gotValues = id, propertyID, values
	})

	if err := s.WriteProperty(ai, PropertyPresentValue, nil, float32(42), false); err != nil {
		t.Fatalf("WriteProperty: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected ChangeOfValue to fire once, got %d", calls)
	}
	if gotID != ai || gotProp != PropertyPresentValue {
		t.Fatalf("unexpected ChangeOfValue target: %v %v", gotID, gotProp)
	}
	if len(gotValues) != 1 || gotValues[0].Value != float32(42) {
		t.Fatalf("unexpected ChangeOfValue values: %+v", gotValues)
	}
}

func TestDeviceStorageRewriteDeviceInstance(t *testing.T) {
	s := NewDeviceStorage()
	dev := ObjectIdentifier{Type: ObjectTypeDevice, Instance: WildcardDeviceInstance}
	s.AddObject(dev)
	ai := ObjectIdentifier{Type: ObjectTypeAnalogInput, Instance: 1}
	s.AddObject(ai)
	s.SetProperty(ai, PropertyObjectIdentifier, dev)

	s.RewriteDeviceInstance(42)

	ids := s.Objects()
	found := false
	for _, id := range ids {
		if id.Type == ObjectTypeDevice {
			if id.Instance != 42 {
				t.Fatalf("expected device instance 42, got %d", id.Instance)
			}
			found = true
		}
	}
	if !found {
		t.Fatalf("device object missing after rewrite")
	}

	val, err := s.ReadProperty(ai, PropertyObjectIdentifier, nil)
	if err != nil {
		t.Fatalf("ReadProperty: %v", err)
	}
	gotOid, ok := val.(ObjectIdentifier)
	if !ok || gotOid.Instance != 42 {
		t.Fatalf("expected rewritten device reference, got %v", val)
	}
}

func TestDeviceStorageWildcardNormalizedPerRequest(t *testing.T) {
	s := NewDeviceStorage()
	dev := ObjectIdentifier{Type: ObjectTypeDevice, Instance: 42}
	s.AddObject(dev)
	s.SetProperty(dev, PropertyObjectName, "unit-test-device")
	s.RewriteDeviceInstance(42)

	wildcard := ObjectIdentifier{Type: ObjectTypeDevice, Instance: WildcardDeviceInstance}
	val, err := s.ReadProperty(wildcard, PropertyObjectName, nil)
	if err != nil {
		t.Fatalf("ReadProperty with wildcard instance: %v", err)
	}
	if val != "unit-test-device" {
		t.Fatalf("expected wildcard instance to resolve to device 42, got %v", val)
	}
}

func TestDeviceStorageSaveLoad(t *testing.T) {
	s := NewDeviceStorage()
	ai := ObjectIdentifier{Type: ObjectTypeAnalogInput, Instance: 1}
	s.AddObject(ai)
	s.SetProperty(ai, PropertyPresentValue, float32(21.5))

	path := filepath.Join(t.TempDir(), "storage.xml")
	if err := s.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := NewDeviceStorage()
	if err := loaded.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	val, err := loaded.ReadProperty(ai, PropertyPresentValue, nil)
	if err != nil {
		t.Fatalf("ReadProperty after load: %v", err)
	}
	if val != float32(21.5) {
		t.Fatalf("expected 21.5 after reload, got %v", val)
	}
}

func TestDeviceStorageReadPropertyMultipleWildcard(t *testing.T) {
	s := NewDeviceStorage()
	ai := ObjectIdentifier{Type: ObjectTypeAnalogInput, Instance: 1}
	s.AddObject(ai)
	s.SetProperty(ai, PropertyPresentValue, float32(21.5))
	s.SetProperty(ai, PropertyUnits, uint32(62))

	specs := []ReadAccessSpecification{
		{ObjectID: ai, References: []PropertyReference{{PropertyID: PropertyAll}}},
	}
	results := s.ReadPropertyMultiple(specs)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if len(results[0].Results) != 2 {
		t.Fatalf("expected 2 property results for wildcard read, got %d", len(results[0].Results))
	}
}
