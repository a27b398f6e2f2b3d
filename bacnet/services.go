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

import "fmt"

// PropertyReference names one property (optionally one array element) of
// an object, the unit the read/write services carry repeatedly.
type PropertyReference struct {
	PropertyID PropertyIdentifier
	ArrayIndex *uint32
}

// ReadAccessSpecification is one object's worth of properties to read in a
// ReadPropertyMultiple request.
type ReadAccessSpecification struct {
	ObjectID   ObjectIdentifier
	References []PropertyReference
}

// PropertyReadResult is one property's outcome within a ReadPropertyMultiple
// response: either a decoded Value or an Err describing why it could not be
// read.
type PropertyReadResult struct {
	PropertyID PropertyIdentifier
	ArrayIndex *uint32
	Value      interface{}
	Err        *BACnetError
}

// ReadAccessResult groups the PropertyReadResults for one object within a
// ReadPropertyMultiple response.
type ReadAccessResult struct {
	ObjectID ObjectIdentifier
	Results  []PropertyReadResult
}

// EncodeApplicationValue encodes a Go value as an application-tagged
// primitive, the common value encoder every write/notify service shares.
func EncodeApplicationValue(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return []byte{0x00}, nil
	case bool:
		return EncodeBooleanTag(v), nil
	case int:
		if v >= 0 {
			return EncodeUnsignedTag(uint32(v)), nil
		}
		data := EncodeSigned(int32(v))
		tag := EncodeTag(uint8(TagSignedInt), TagClassApplication, len(data))
		return append(tag, data...), nil
	case int32:
		if v >= 0 {
			return EncodeUnsignedTag(uint32(v)), nil
		}
		data := EncodeSigned(v)
		tag := EncodeTag(uint8(TagSignedInt), TagClassApplication, len(data))
		return append(tag, data...), nil
	case uint32:
		return EncodeUnsignedTag(v), nil
	case float32:
		return EncodeRealTag(v), nil
	case float64:
		data := EncodeDouble(v)
		tag := EncodeTag(uint8(TagDouble), TagClassApplication, len(data))
		return append(tag, data...), nil
	case string:
		return EncodeCharacterStringTag(v), nil
	case ObjectIdentifier:
		return EncodeObjectIdentifierTag(v), nil
	case []byte:
		tag := EncodeTag(uint8(TagOctetString), TagClassApplication, len(v))
		return append(tag, v...), nil
	default:
		return nil, fmt.Errorf("unsupported value type: %T", value)
	}
}

// DecodeApplicationValue decodes one application-tagged primitive at the
// start of data and returns it as the matching Go type. A context-tagged
// closing tag decodes as (nil, nil) so callers can use it as a loop
// sentinel without a special case.
func DecodeApplicationValue(data []byte) (interface{}, error) {
	if len(data) < 1 {
		return nil, ErrInvalidResponse
	}

	tagNum, class, length, headerLen, err := DecodeTagNumber(data)
	if err != nil {
		return nil, err
	}

	if length == -2 {
		return nil, nil
	}
	if class == TagClassApplication && ApplicationTag(tagNum) == TagBoolean {
		// An application-tagged boolean carries its value in the length bits.
		return length == 1, nil
	}
	if length < 0 || len(data) < headerLen+length {
		return nil, errInvalidTag
	}

	valueData := data[headerLen : headerLen+length]

	if class == TagClassApplication {
		switch ApplicationTag(tagNum) {
		case TagNull:
			return nil, nil
		case TagBoolean:
			return length == 1, nil
		case TagUnsignedInt:
			return DecodeUnsigned(valueData), nil
		case TagSignedInt:
			return DecodeSigned(valueData), nil
		case TagReal:
			return DecodeReal(valueData), nil
		case TagDouble:
			return DecodeDouble(valueData), nil
		case TagOctetString:
			return valueData, nil
		case TagCharacterString:
			return DecodeCharacterString(valueData), nil
		case TagEnumerated:
			return DecodeUnsigned(valueData), nil
		case TagObjectID:
			return DecodeObjectIdentifierFromBytes(valueData), nil
		default:
			return valueData, nil
		}
	}

	return valueData, nil
}

func encodeOptionalArrayIndex(tagNum uint8, idx *uint32) []byte {
	if idx == nil {
		return nil
	}
	return EncodeContextUnsigned(tagNum, *idx)
}

// --- ReadProperty ---

// EncodeReadPropertyRequest encodes the service parameters of a
// ReadProperty-Request.
func EncodeReadPropertyRequest(req ReadPropertyRequest) []byte {
	buf := EncodeContextObjectIdentifier(0, req.ObjectID)
	buf = append(buf, EncodeContextUnsigned(1, uint32(req.PropertyID))...)
	buf = append(buf, encodeOptionalArrayIndex(2, req.ArrayIndex)...)
	return buf
}

// DecodeReadPropertyRequest decodes the service parameters of a
// ReadProperty-Request.
func DecodeReadPropertyRequest(data []byte) (ReadPropertyRequest, error) {
	d := NewDecoder(data)
	var req ReadPropertyRequest

	n, class, length, headerLen, err := d.PeekTag()
	if err != nil || n != 0 || class != TagClassContext {
		return req, errMissingRequired
	}
	req.ObjectID = DecodeObjectIdentifierFromBytes(data[d.pos+headerLen : d.pos+headerLen+length])
	d.pos += headerLen + length

	n, class, length, headerLen, err = d.PeekTag()
	if err != nil || n != 1 || class != TagClassContext {
		return req, errMissingRequired
	}
	req.PropertyID = PropertyIdentifier(DecodeUnsigned(data[d.pos+headerLen : d.pos+headerLen+length]))
	d.pos += headerLen + length

	if !d.Done() {
		n, class, length, headerLen, err = d.PeekTag()
		if err == nil && n == 2 && class == TagClassContext && length >= 0 {
			idx := DecodeUnsigned(data[d.pos+headerLen : d.pos+headerLen+length])
			req.ArrayIndex = &idx
			d.pos += headerLen + length
		}
	}

	return req, nil
}

// EncodeReadPropertyAck encodes the service parameters of a ReadProperty
// Complex-ACK.
func EncodeReadPropertyAck(objectID ObjectIdentifier, propertyID PropertyIdentifier, arrayIndex *uint32, value interface{}) ([]byte, error) {
	buf := EncodeContextObjectIdentifier(0, objectID)
	buf = append(buf, EncodeContextUnsigned(1, uint32(propertyID))...)
	buf = append(buf, encodeOptionalArrayIndex(2, arrayIndex)...)
	buf = append(buf, EncodeOpeningTag(3)...)
	encoded, err := EncodeApplicationValue(value)
	if err != nil {
		return nil, err
	}
	buf = append(buf, encoded...)
	buf = append(buf, EncodeClosingTag(3)...)
	return buf, nil
}

// --- ReadPropertyMultiple ---

// EncodeReadPropertyMultipleRequest encodes the service parameters of a
// ReadPropertyMultiple-Request.
func EncodeReadPropertyMultipleRequest(specs []ReadAccessSpecification) []byte {
	var buf []byte
	for _, spec := range specs {
		buf = append(buf, EncodeContextObjectIdentifier(0, spec.ObjectID)...)
		buf = append(buf, EncodeOpeningTag(1)...)
		for _, ref := range spec.References {
			buf = append(buf, EncodeContextUnsigned(0, uint32(ref.PropertyID))...)
			buf = append(buf, encodeOptionalArrayIndex(1, ref.ArrayIndex)...)
		}
		buf = append(buf, EncodeClosingTag(1)...)
	}
	return buf
}

// DecodeReadPropertyMultipleRequest decodes the service parameters of a
// ReadPropertyMultiple-Request.
func DecodeReadPropertyMultipleRequest(data []byte) ([]ReadAccessSpecification, error) {
	var specs []ReadAccessSpecification
	offset := 0

	for offset < len(data) {
		tagNum, class, length, headerLen, err := DecodeTagNumber(data[offset:])
		if err != nil {
			return nil, errInvalidTag
		}
		if tagNum != 0 || class != TagClassContext {
			return nil, errInvalidTag
		}
		oid := DecodeObjectIdentifierFromBytes(data[offset+headerLen : offset+headerLen+length])
		offset += headerLen + length

		tagNum, class, length, headerLen, err = DecodeTagNumber(data[offset:])
		if err != nil || tagNum != 1 || class != TagClassContext || length != -1 {
			return nil, errInvalidTag
		}
		offset += headerLen

		spec := ReadAccessSpecification{ObjectID: oid}
		for offset < len(data) {
			tagNum, class, length, headerLen, err = DecodeTagNumber(data[offset:])
			if err != nil {
				return nil, errInvalidTag
			}
			if class == TagClassContext && length == -2 && tagNum == 1 {
				offset += headerLen
				break
			}
			if tagNum != 0 || class != TagClassContext {
				return nil, errInvalidTag
			}
			propID := PropertyIdentifier(DecodeUnsigned(data[offset+headerLen : offset+headerLen+length]))
			offset += headerLen + length

			ref := PropertyReference{PropertyID: propID}
			if offset < len(data) {
				tagNum, class, length, headerLen, err = DecodeTagNumber(data[offset:])
				if err == nil && tagNum == 1 && class == TagClassContext && length >= 0 {
					idx := DecodeUnsigned(data[offset+headerLen : offset+headerLen+length])
					ref.ArrayIndex = &idx
					offset += headerLen + length
				}
			}
			spec.References = append(spec.References, ref)
		}
		specs = append(specs, spec)
	}

	return specs, nil
}

// EncodeReadPropertyMultipleAck encodes the service parameters of a
// ReadPropertyMultiple Complex-ACK.
func EncodeReadPropertyMultipleAck(results []ReadAccessResult) ([]byte, error) {
	var buf []byte
	for _, res := range results {
		buf = append(buf, EncodeContextObjectIdentifier(0, res.ObjectID)...)
		buf = append(buf, EncodeOpeningTag(1)...)
		for _, pr := range res.Results {
			buf = append(buf, EncodeContextUnsigned(2, uint32(pr.PropertyID))...)
			buf = append(buf, encodeOptionalArrayIndex(3, pr.ArrayIndex)...)
			if pr.Err != nil {
				buf = append(buf, EncodeOpeningTag(5)...)
				buf = append(buf, EncodeContextUnsigned(0, uint32(pr.Err.Class))...)
				buf = append(buf, EncodeContextUnsigned(1, uint32(pr.Err.Code))...)
				buf = append(buf, EncodeClosingTag(5)...)
				continue
			}
			buf = append(buf, EncodeOpeningTag(4)...)
			encoded, err := EncodeApplicationValue(pr.Value)
			if err != nil {
				return nil, err
			}
			buf = append(buf, encoded...)
			buf = append(buf, EncodeClosingTag(4)...)
		}
		buf = append(buf, EncodeClosingTag(1)...)
	}
	return buf, nil
}

// DecodeReadPropertyMultipleAck decodes the service parameters of a
// ReadPropertyMultiple Complex-ACK into one ReadAccessResult per object.
func DecodeReadPropertyMultipleAck(data []byte) ([]ReadAccessResult, error) {
	var results []ReadAccessResult
	offset := 0

	for offset < len(data) {
		tagNum, class, length, headerLen, err := DecodeTagNumber(data[offset:])
		if err != nil || tagNum != 0 || class != TagClassContext {
			break
		}
		oid := DecodeObjectIdentifierFromBytes(data[offset+headerLen : offset+headerLen+length])
		offset += headerLen + length

		tagNum, class, length, headerLen, err = DecodeTagNumber(data[offset:])
		if err != nil || tagNum != 1 || class != TagClassContext || length != -1 {
			break
		}
		offset += headerLen

		result := ReadAccessResult{ObjectID: oid}
		for offset < len(data) {
			tagNum, class, length, headerLen, err = DecodeTagNumber(data[offset:])
			if err != nil {
				break
			}
			if class == TagClassContext && length == -2 && tagNum == 1 {
				offset += headerLen
				break
			}
			if tagNum != 2 || class != TagClassContext {
				break
			}
			propID := PropertyIdentifier(DecodeUnsigned(data[offset+headerLen : offset+headerLen+length]))
			offset += headerLen + length

			pr := PropertyReadResult{PropertyID: propID}

			tagNum, class, length, headerLen, err = DecodeTagNumber(data[offset:])
			if err == nil && tagNum == 3 && class == TagClassContext && length >= 0 {
				idx := DecodeUnsigned(data[offset+headerLen : offset+headerLen+length])
				pr.ArrayIndex = &idx
				offset += headerLen + length
				tagNum, class, length, headerLen, err = DecodeTagNumber(data[offset:])
			}

			if err == nil && tagNum == 5 && class == TagClassContext && length == -1 {
				// propertyAccessError
				offset += headerLen
				_, _, l1, h1, _ := DecodeTagNumber(data[offset:])
				errClass := ErrorClass(DecodeUnsigned(data[offset+h1 : offset+h1+l1]))
				offset += h1 + l1
				_, _, l2, h2, _ := DecodeTagNumber(data[offset:])
				errCode := ErrorCode(DecodeUnsigned(data[offset+h2 : offset+h2+l2]))
				offset += h2 + l2
				pr.Err = &BACnetError{Class: errClass, Code: errCode}
				_, _, _, h3, _ := DecodeTagNumber(data[offset:])
				offset += h3 // closing [5]
			} else if err == nil && tagNum == 4 && class == TagClassContext && length == -1 {
				offset += headerLen
				val, verr := DecodeApplicationValue(data[offset:])
				if verr != nil {
					return nil, verr
				}
				pr.Value = val
				_, _, vlen, vhead, _ := DecodeTagNumber(data[offset:])
				if vlen >= 0 {
					offset += vhead + vlen
				}
				_, _, _, h4, _ := DecodeTagNumber(data[offset:])
				offset += h4 // closing [4]
			}

			result.Results = append(result.Results, pr)
		}
		results = append(results, result)
	}

	return results, nil
}

// --- WriteProperty ---

// EncodeWritePropertyRequest encodes the service parameters of a
// WriteProperty-Request.
func EncodeWritePropertyRequest(req WritePropertyRequest) ([]byte, error) {
	buf := EncodeContextObjectIdentifier(0, req.ObjectID)
	buf = append(buf, EncodeContextUnsigned(1, uint32(req.PropertyID))...)
	buf = append(buf, encodeOptionalArrayIndex(2, req.ArrayIndex)...)
	buf = append(buf, EncodeOpeningTag(3)...)
	encoded, err := EncodeApplicationValue(req.Value)
	if err != nil {
		return nil, err
	}
	buf = append(buf, encoded...)
	buf = append(buf, EncodeClosingTag(3)...)
	if req.Priority != nil {
		buf = append(buf, EncodeContextUnsigned(4, uint32(*req.Priority))...)
	}
	return buf, nil
}

// DecodeWritePropertyRequest decodes the service parameters of a
// WriteProperty-Request.
func DecodeWritePropertyRequest(data []byte) (WritePropertyRequest, error) {
	var req WritePropertyRequest
	offset := 0

	tagNum, class, length, headerLen, err := DecodeTagNumber(data[offset:])
	if err != nil || tagNum != 0 || class != TagClassContext {
		return req, errMissingRequired
	}
	req.ObjectID = DecodeObjectIdentifierFromBytes(data[offset+headerLen : offset+headerLen+length])
	offset += headerLen + length

	tagNum, class, length, headerLen, err = DecodeTagNumber(data[offset:])
	if err != nil || tagNum != 1 || class != TagClassContext {
		return req, errMissingRequired
	}
	req.PropertyID = PropertyIdentifier(DecodeUnsigned(data[offset+headerLen : offset+headerLen+length]))
	offset += headerLen + length

	tagNum, class, length, headerLen, err = DecodeTagNumber(data[offset:])
	if err != nil {
		return req, errInvalidTag
	}
	if tagNum == 2 && class == TagClassContext && length >= 0 {
		idx := DecodeUnsigned(data[offset+headerLen : offset+headerLen+length])
		req.ArrayIndex = &idx
		offset += headerLen + length
		tagNum, class, length, headerLen, err = DecodeTagNumber(data[offset:])
		if err != nil {
			return req, errInvalidTag
		}
	}

	if tagNum != 3 || class != TagClassContext || length != -1 {
		return req, errInvalidTag
	}
	offset += headerLen

	val, err := DecodeApplicationValue(data[offset:])
	if err != nil {
		return req, err
	}
	req.Value = val
	_, _, vlen, vhead, _ := DecodeTagNumber(data[offset:])
	if vlen >= 0 {
		offset += vhead + vlen
	}
	_, _, _, closeHead, _ := DecodeTagNumber(data[offset:])
	offset += closeHead

	if offset < len(data) {
		tagNum, class, length, headerLen, err = DecodeTagNumber(data[offset:])
		if err == nil && tagNum == 4 && class == TagClassContext && length >= 0 {
			p := uint8(DecodeUnsigned(data[offset+headerLen : offset+headerLen+length]))
			req.Priority = &p
		}
	}

	return req, nil
}

// --- WritePropertyMultiple ---

// WritePropertyValueSpec is one property write within a
// WritePropertyMultiple request, scoped to one object.
type WritePropertyValueSpec struct {
	PropertyID PropertyIdentifier
	ArrayIndex *uint32
	Value      interface{}
	Priority   *uint8
}

// WriteAccessSpecification groups WritePropertyValueSpecs for one object.
type WriteAccessSpecification struct {
	ObjectID ObjectIdentifier
	Values   []WritePropertyValueSpec
}

// EncodeWritePropertyMultipleRequest encodes the service parameters of a
// WritePropertyMultiple-Request.
func EncodeWritePropertyMultipleRequest(specs []WriteAccessSpecification) ([]byte, error) {
	var buf []byte
	for _, spec := range specs {
		buf = append(buf, EncodeContextObjectIdentifier(0, spec.ObjectID)...)
		buf = append(buf, EncodeOpeningTag(1)...)
		for _, wv := range spec.Values {
			buf = append(buf, EncodeContextUnsigned(0, uint32(wv.PropertyID))...)
			buf = append(buf, encodeOptionalArrayIndex(1, wv.ArrayIndex)...)
			buf = append(buf, EncodeOpeningTag(2)...)
			encoded, err := EncodeApplicationValue(wv.Value)
			if err != nil {
				return nil, err
			}
			buf = append(buf, encoded...)
			buf = append(buf, EncodeClosingTag(2)...)
			if wv.Priority != nil {
				buf = append(buf, EncodeContextUnsigned(3, uint32(*wv.Priority))...)
			}
		}
		buf = append(buf, EncodeClosingTag(1)...)
	}
	return buf, nil
}

// DecodeWritePropertyMultipleRequest decodes the service parameters of a
// WritePropertyMultiple-Request.
func DecodeWritePropertyMultipleRequest(data []byte) ([]WriteAccessSpecification, error) {
	var specs []WriteAccessSpecification
	offset := 0

	for offset < len(data) {
		tagNum, class, length, headerLen, err := DecodeTagNumber(data[offset:])
		if err != nil || tagNum != 0 || class != TagClassContext {
			return nil, errInvalidTag
		}
		oid := DecodeObjectIdentifierFromBytes(data[offset+headerLen : offset+headerLen+length])
		offset += headerLen + length

		tagNum, class, length, headerLen, err = DecodeTagNumber(data[offset:])
		if err != nil || tagNum != 1 || class != TagClassContext || length != -1 {
			return nil, errInvalidTag
		}
		offset += headerLen

		spec := WriteAccessSpecification{ObjectID: oid}
		for offset < len(data) {
			tagNum, class, length, headerLen, err = DecodeTagNumber(data[offset:])
			if err != nil {
				return nil, errInvalidTag
			}
			if class == TagClassContext && length == -2 && tagNum == 1 {
				offset += headerLen
				break
			}
			if tagNum != 0 || class != TagClassContext {
				return nil, errInvalidTag
			}
			wv := WritePropertyValueSpec{PropertyID: PropertyIdentifier(DecodeUnsigned(data[offset+headerLen : offset+headerLen+length]))}
			offset += headerLen + length

			tagNum, class, length, headerLen, err = DecodeTagNumber(data[offset:])
			if err != nil {
				return nil, errInvalidTag
			}
			if tagNum == 1 && class == TagClassContext && length >= 0 {
				idx := DecodeUnsigned(data[offset+headerLen : offset+headerLen+length])
				wv.ArrayIndex = &idx
				offset += headerLen + length
				tagNum, class, length, headerLen, err = DecodeTagNumber(data[offset:])
				if err != nil {
					return nil, errInvalidTag
				}
			}

			if tagNum != 2 || class != TagClassContext || length != -1 {
				return nil, errInvalidTag
			}
			offset += headerLen
			val, verr := DecodeApplicationValue(data[offset:])
			if verr != nil {
				return nil, verr
			}
			wv.Value = val
			_, _, vlen, vhead, _ := DecodeTagNumber(data[offset:])
			if vlen >= 0 {
				offset += vhead + vlen
			}
			_, _, _, closeHead, _ := DecodeTagNumber(data[offset:])
			offset += closeHead

			if offset < len(data) {
				tagNum, class, length, headerLen, err = DecodeTagNumber(data[offset:])
				if err == nil && tagNum == 3 && class == TagClassContext && length >= 0 {
					p := uint8(DecodeUnsigned(data[offset+headerLen : offset+headerLen+length]))
					wv.Priority = &p
					offset += headerLen + length
				}
			}

			spec.Values = append(spec.Values, wv)
		}
		specs = append(specs, spec)
	}

	return specs, nil
}

// --- SubscribeCOV / SubscribeCOVProperty ---

// SubscribeCOVRequest carries the parameters of a SubscribeCOV-Request.
type SubscribeCOVRequest struct {
	ProcessID     uint32
	ObjectID      ObjectIdentifier
	Cancel        bool
	IssueConfirmed bool
	Lifetime      uint32 // seconds, 0 = indefinite
}

// EncodeSubscribeCOVRequest encodes the service parameters of a
// SubscribeCOV-Request.
func EncodeSubscribeCOVRequest(req SubscribeCOVRequest) []byte {
	buf := EncodeContextUnsigned(0, req.ProcessID)
	buf = append(buf, EncodeContextObjectIdentifier(1, req.ObjectID)...)
	if req.Cancel {
		return buf
	}
	buf = append(buf, EncodeContextBoolean(2, req.IssueConfirmed)...)
	buf = append(buf, EncodeContextUnsigned(3, req.Lifetime)...)
	return buf
}

// SubscribeCOVPropertyRequest carries the parameters of a
// SubscribeCOVProperty-Request: a SubscribeCOVRequest scoped to one
// property, optionally with a client-chosen increment.
type SubscribeCOVPropertyRequest struct {
	SubscribeCOVRequest
	PropertyID   PropertyIdentifier
	ArrayIndex   *uint32
	COVIncrement *float32
}

// EncodeSubscribeCOVPropertyRequest encodes the service parameters of a
// SubscribeCOVProperty-Request.
func EncodeSubscribeCOVPropertyRequest(req SubscribeCOVPropertyRequest) []byte {
	buf := EncodeSubscribeCOVRequest(req.SubscribeCOVRequest)
	buf = append(buf, EncodeOpeningTag(4)...)
	buf = append(buf, EncodeContextUnsigned(0, uint32(req.PropertyID))...)
	buf = append(buf, encodeOptionalArrayIndex(1, req.ArrayIndex)...)
	buf = append(buf, EncodeClosingTag(4)...)
	if req.COVIncrement != nil {
		data := EncodeReal(*req.COVIncrement)
		buf = append(buf, EncodeContextTag(5, data)...)
	}
	return buf
}

// DecodeSubscribeCOVRequest decodes the service parameters of a
// SubscribeCOV-Request. IssueConfirmed and Lifetime are absent on the wire
// for a cancellation, in which case Cancel is set and both are left zero.
func DecodeSubscribeCOVRequest(data []byte) (SubscribeCOVRequest, error) {
	var req SubscribeCOVRequest
	offset := 0

	tagNum, class, length, headerLen, err := DecodeTagNumber(data[offset:])
	if err != nil || tagNum != 0 || class != TagClassContext {
		return req, errMissingRequired
	}
	req.ProcessID = DecodeUnsigned(data[offset+headerLen : offset+headerLen+length])
	offset += headerLen + length

	tagNum, class, length, headerLen, err = DecodeTagNumber(data[offset:])
	if err != nil || tagNum != 1 || class != TagClassContext {
		return req, errMissingRequired
	}
	req.ObjectID = DecodeObjectIdentifierFromBytes(data[offset+headerLen : offset+headerLen+length])
	offset += headerLen + length

	if offset >= len(data) {
		req.Cancel = true
		return req, nil
	}

	tagNum, class, length, headerLen, err = DecodeTagNumber(data[offset:])
	if err != nil || tagNum != 2 || class != TagClassContext {
		return req, errMissingRequired
	}
	req.IssueConfirmed = length == 1 && data[offset+headerLen] != 0
	offset += headerLen + length

	tagNum, class, length, headerLen, err = DecodeTagNumber(data[offset:])
	if err != nil || tagNum != 3 || class != TagClassContext {
		return req, errMissingRequired
	}
	req.Lifetime = DecodeUnsigned(data[offset+headerLen : offset+headerLen+length])

	return req, nil
}

// --- AtomicReadFile / AtomicWriteFile ---

// AtomicReadFileRequest carries the parameters of an AtomicReadFile-Request.
type AtomicReadFileRequest struct {
	FileID       ObjectIdentifier
	IsStream     bool
	StartPos     int32
	RequestCount uint32
}

// EncodeAtomicReadFileRequest encodes the service parameters of an
// AtomicReadFile-Request. Only stream access (the common case for log/trend
// files) is encoded; record access is not exercised by this client.
func EncodeAtomicReadFileRequest(req AtomicReadFileRequest) []byte {
	buf := EncodeObjectIdentifierTag(req.FileID)
	buf = append(buf, EncodeOpeningTag(0)...)
	sp := EncodeSigned(req.StartPos)
	tag := EncodeTag(uint8(TagSignedInt), TagClassApplication, len(sp))
	buf = append(buf, tag...)
	buf = append(buf, sp...)
	buf = append(buf, EncodeUnsignedTag(req.RequestCount)...)
	buf = append(buf, EncodeClosingTag(0)...)
	return buf
}

// AtomicReadFileAck carries the result of an AtomicReadFile Complex-ACK.
type AtomicReadFileAck struct {
	EndOfFile bool
	StartPos  int32
	Data      []byte
}

// EncodeAtomicReadFileAck encodes the service parameters of an
// AtomicReadFile Complex-ACK (stream-access form).
func EncodeAtomicReadFileAck(ack AtomicReadFileAck) []byte {
	buf := EncodeBooleanTag(ack.EndOfFile)
	buf = append(buf, EncodeOpeningTag(0)...)
	sp := EncodeSigned(ack.StartPos)
	tag := EncodeTag(uint8(TagSignedInt), TagClassApplication, len(sp))
	buf = append(buf, tag...)
	buf = append(buf, sp...)
	octetTag := EncodeTag(uint8(TagOctetString), TagClassApplication, len(ack.Data))
	buf = append(buf, octetTag...)
	buf = append(buf, ack.Data...)
	buf = append(buf, EncodeClosingTag(0)...)
	return buf
}

// AtomicWriteFileRequest carries the parameters of an
// AtomicWriteFile-Request (stream-access form).
type AtomicWriteFileRequest struct {
	FileID   ObjectIdentifier
	StartPos int32
	Data     []byte
}

// EncodeAtomicWriteFileRequest encodes the service parameters of an
// AtomicWriteFile-Request.
func EncodeAtomicWriteFileRequest(req AtomicWriteFileRequest) []byte {
	buf := EncodeObjectIdentifierTag(req.FileID)
	buf = append(buf, EncodeOpeningTag(0)...)
	sp := EncodeSigned(req.StartPos)
	tag := EncodeTag(uint8(TagSignedInt), TagClassApplication, len(sp))
	buf = append(buf, tag...)
	buf = append(buf, sp...)
	octetTag := EncodeTag(uint8(TagOctetString), TagClassApplication, len(req.Data))
	buf = append(buf, octetTag...)
	buf = append(buf, req.Data...)
	buf = append(buf, EncodeClosingTag(0)...)
	return buf
}

// --- ReadRange ---

// ReadRangeRequest carries the parameters of a ReadRange-Request, scoped to
// a by-position window (the common trend-log query shape).
type ReadRangeRequest struct {
	ObjectID     ObjectIdentifier
	PropertyID   PropertyIdentifier
	ArrayIndex   *uint32
	RefIndex     uint32
	RequestCount int32
}

// EncodeReadRangeRequest encodes the service parameters of a
// ReadRange-Request.
func EncodeReadRangeRequest(req ReadRangeRequest) []byte {
	buf := EncodeContextObjectIdentifier(0, req.ObjectID)
	buf = append(buf, EncodeContextUnsigned(1, uint32(req.PropertyID))...)
	buf = append(buf, encodeOptionalArrayIndex(2, req.ArrayIndex)...)
	buf = append(buf, EncodeOpeningTag(3)...)
	buf = append(buf, EncodeContextUnsigned(1, req.RefIndex)...)
	data := EncodeSigned(req.RequestCount)
	buf = append(buf, EncodeContextTag(2, data)...)
	buf = append(buf, EncodeClosingTag(3)...)
	return buf
}

// --- CreateObject / DeleteObject ---

// EncodeCreateObjectRequest encodes the service parameters of a
// CreateObject-Request.
func EncodeCreateObjectRequest(objectID ObjectIdentifier, initialValues []WritePropertyValueSpec) ([]byte, error) {
	buf := EncodeContextObjectIdentifier(0, objectID)
	if len(initialValues) == 0 {
		return buf, nil
	}
	buf = append(buf, EncodeOpeningTag(1)...)
	for _, wv := range initialValues {
		buf = append(buf, EncodeContextUnsigned(0, uint32(wv.PropertyID))...)
		buf = append(buf, encodeOptionalArrayIndex(1, wv.ArrayIndex)...)
		buf = append(buf, EncodeOpeningTag(2)...)
		encoded, err := EncodeApplicationValue(wv.Value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, encoded...)
		buf = append(buf, EncodeClosingTag(2)...)
	}
	buf = append(buf, EncodeClosingTag(1)...)
	return buf, nil
}

// EncodeDeleteObjectRequest encodes the service parameters of a
// DeleteObject-Request.
func EncodeDeleteObjectRequest(objectID ObjectIdentifier) []byte {
	return EncodeObjectIdentifierTag(objectID)
}

// DecodeDeleteObjectRequest decodes the service parameters of a
// DeleteObject-Request.
func DecodeDeleteObjectRequest(data []byte) (ObjectIdentifier, error) {
	_, class, length, headerLen, err := DecodeTagNumber(data)
	if err != nil || class != TagClassApplication || length != 4 {
		return ObjectIdentifier{}, errInvalidTag
	}
	return DecodeObjectIdentifierFromBytes(data[headerLen : headerLen+length]), nil
}

// --- Event / COV / Alarm notifications ---

// EventNotificationParameters carries the parameters shared by
// Confirmed/UnconfirmedEventNotification.
type EventNotificationParameters struct {
	ProcessID            uint32
	InitiatingDeviceID   ObjectIdentifier
	EventObjectID        ObjectIdentifier
	NotificationClass    uint32
	Priority             uint8
	EventType            uint32
	MessageText          string
	NotifyType           uint8
	ToState              EventState
}

// EncodeEventNotification encodes the service parameters shared by
// Confirmed/UnconfirmedEventNotification-Request.
func EncodeEventNotification(p EventNotificationParameters) []byte {
	buf := EncodeContextUnsigned(0, p.ProcessID)
	buf = append(buf, EncodeContextObjectIdentifier(1, p.InitiatingDeviceID)...)
	buf = append(buf, EncodeContextObjectIdentifier(2, p.EventObjectID)...)
	buf = append(buf, EncodeContextUnsigned(3, p.NotificationClass)...)
	buf = append(buf, EncodeContextUnsigned(4, uint32(p.Priority))...)
	buf = append(buf, EncodeContextUnsigned(5, p.EventType)...)
	if p.MessageText != "" {
		buf = append(buf, EncodeContextTag(6, EncodeCharacterString(p.MessageText))...)
	}
	buf = append(buf, EncodeContextUnsigned(7, uint32(p.NotifyType))...)
	buf = append(buf, EncodeContextUnsigned(9, uint32(p.ToState))...)
	return buf
}

// COVNotificationParameters carries the parameters shared by
// Confirmed/UnconfirmedCOVNotification.
type COVNotificationParameters struct {
	ProcessID          uint32
	InitiatingDeviceID ObjectIdentifier
	MonitoredObjectID  ObjectIdentifier
	TimeRemaining      uint32
	Values             []PropertyValue
}

// EncodeCOVNotification encodes the service parameters shared by
// Confirmed/UnconfirmedCOVNotification-Request.
func EncodeCOVNotification(p COVNotificationParameters) ([]byte, error) {
	buf := EncodeContextUnsigned(0, p.ProcessID)
	buf = append(buf, EncodeContextObjectIdentifier(1, p.InitiatingDeviceID)...)
	buf = append(buf, EncodeContextObjectIdentifier(2, p.MonitoredObjectID)...)
	buf = append(buf, EncodeContextUnsigned(3, p.TimeRemaining)...)
	buf = append(buf, EncodeOpeningTag(4)...)
	for _, v := range p.Values {
		buf = append(buf, EncodeContextUnsigned(0, uint32(v.PropertyID))...)
		buf = append(buf, encodeOptionalArrayIndex(1, v.ArrayIndex)...)
		buf = append(buf, EncodeOpeningTag(2)...)
		encoded, err := EncodeApplicationValue(v.Value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, encoded...)
		buf = append(buf, EncodeClosingTag(2)...)
		if v.Priority != nil {
			buf = append(buf, EncodeContextUnsigned(3, uint32(*v.Priority))...)
		}
	}
	buf = append(buf, EncodeClosingTag(4)...)
	return buf, nil
}

// DecodeCOVNotification decodes the service parameters shared by
// Confirmed/UnconfirmedCOVNotification-Request.
func DecodeCOVNotification(data []byte) (COVNotificationParameters, error) {
	var p COVNotificationParameters
	offset := 0

	tagNum, class, length, headerLen, err := DecodeTagNumber(data[offset:])
	if err != nil || tagNum != 0 || class != TagClassContext {
		return p, errMissingRequired
	}
	p.ProcessID = DecodeUnsigned(data[offset+headerLen : offset+headerLen+length])
	offset += headerLen + length

	tagNum, class, length, headerLen, err = DecodeTagNumber(data[offset:])
	if err != nil || tagNum != 1 || class != TagClassContext {
		return p, errMissingRequired
	}
	p.InitiatingDeviceID = DecodeObjectIdentifierFromBytes(data[offset+headerLen : offset+headerLen+length])
	offset += headerLen + length

	tagNum, class, length, headerLen, err = DecodeTagNumber(data[offset:])
	if err != nil || tagNum != 2 || class != TagClassContext {
		return p, errMissingRequired
	}
	p.MonitoredObjectID = DecodeObjectIdentifierFromBytes(data[offset+headerLen : offset+headerLen+length])
	offset += headerLen + length

	tagNum, class, length, headerLen, err = DecodeTagNumber(data[offset:])
	if err != nil || tagNum != 3 || class != TagClassContext {
		return p, errMissingRequired
	}
	p.TimeRemaining = DecodeUnsigned(data[offset+headerLen : offset+headerLen+length])
	offset += headerLen + length

	tagNum, class, length, headerLen, err = DecodeTagNumber(data[offset:])
	if err != nil || tagNum != 4 || class != TagClassContext || length != -1 {
		return p, errMissingRequired
	}
	offset += headerLen

	for offset < len(data) {
		tagNum, class, length, headerLen, err = DecodeTagNumber(data[offset:])
		if err != nil {
			break
		}
		if class == TagClassContext && length == -2 && tagNum == 4 {
			break
		}
		if tagNum != 0 || class != TagClassContext {
			break
		}
		propID := PropertyIdentifier(DecodeUnsigned(data[offset+headerLen : offset+headerLen+length]))
		offset += headerLen + length

		pv := PropertyValue{PropertyID: propID}
		tagNum, class, length, headerLen, err = DecodeTagNumber(data[offset:])
		if err == nil && tagNum == 1 && class == TagClassContext && length >= 0 {
			idx := DecodeUnsigned(data[offset+headerLen : offset+headerLen+length])
			pv.ArrayIndex = &idx
			offset += headerLen + length
			tagNum, class, length, headerLen, err = DecodeTagNumber(data[offset:])
		}
		if err != nil || tagNum != 2 || class != TagClassContext || length != -1 {
			break
		}
		offset += headerLen
		val, verr := DecodeApplicationValue(data[offset:])
		if verr != nil {
			break
		}
		pv.Value = val
		_, _, vlen, vhead, _ := DecodeTagNumber(data[offset:])
		if vlen >= 0 {
			offset += vhead + vlen
		}
		_, _, _, closeHead, _ := DecodeTagNumber(data[offset:])
		offset += closeHead

		if offset < len(data) {
			tagNum, class, length, headerLen, err = DecodeTagNumber(data[offset:])
			if err == nil && tagNum == 3 && class == TagClassContext && length >= 0 {
				pr := uint8(DecodeUnsigned(data[offset+headerLen : offset+headerLen+length]))
				pv.Priority = &pr
				offset += headerLen + length
			}
		}

		p.Values = append(p.Values, pv)
	}

	return p, nil
}

// --- AcknowledgeAlarm ---

// AcknowledgeAlarmRequest carries the parameters of an
// AcknowledgeAlarm-Request.
type AcknowledgeAlarmRequest struct {
	AckProcessID  uint32
	EventObjectID ObjectIdentifier
	EventStateAck EventState
	AckSource     string
}

// EncodeAcknowledgeAlarmRequest encodes the service parameters of an
// AcknowledgeAlarm-Request.
func EncodeAcknowledgeAlarmRequest(req AcknowledgeAlarmRequest) []byte {
	buf := EncodeContextUnsigned(0, req.AckProcessID)
	buf = append(buf, EncodeContextObjectIdentifier(1, req.EventObjectID)...)
	buf = append(buf, EncodeContextUnsigned(2, uint32(req.EventStateAck))...)
	buf = append(buf, EncodeContextTag(3, EncodeCharacterString(req.AckSource))...)
	return buf
}

// --- GetEventInformation ---

// EncodeGetEventInformationRequest encodes the service parameters of a
// GetEventInformation-Request; lastReceivedObjectID is nil for the first
// call of a paged enumeration.
func EncodeGetEventInformationRequest(lastReceivedObjectID *ObjectIdentifier) []byte {
	if lastReceivedObjectID == nil {
		return nil
	}
	return EncodeContextObjectIdentifier(0, *lastReceivedObjectID)
}

// --- DeviceCommunicationControl ---

// DeviceCommunicationControlRequest carries the parameters of a
// DeviceCommunicationControl-Request.
type DeviceCommunicationControlRequest struct {
	TimeDuration *uint32 // minutes, nil = indefinite
	EnableDisable uint8   // 0=enable, 1=disable, 2=disable-initiation
	Password      string
}

// EncodeDeviceCommunicationControlRequest encodes the service parameters of
// a DeviceCommunicationControl-Request.
func EncodeDeviceCommunicationControlRequest(req DeviceCommunicationControlRequest) []byte {
	var buf []byte
	if req.TimeDuration != nil {
		buf = append(buf, EncodeContextUnsigned(0, *req.TimeDuration)...)
	}
	buf = append(buf, EncodeContextUnsigned(1, uint32(req.EnableDisable))...)
	if req.Password != "" {
		buf = append(buf, EncodeContextTag(2, EncodeCharacterString(req.Password))...)
	}
	return buf
}

// --- ReinitializeDevice ---

// ReinitializeDeviceRequest carries the parameters of a
// ReinitializeDevice-Request.
type ReinitializeDeviceRequest struct {
	State    uint8
	Password string
}

// EncodeReinitializeDeviceRequest encodes the service parameters of a
// ReinitializeDevice-Request.
func EncodeReinitializeDeviceRequest(req ReinitializeDeviceRequest) []byte {
	buf := EncodeContextUnsigned(0, uint32(req.State))
	if req.Password != "" {
		buf = append(buf, EncodeContextTag(1, EncodeCharacterString(req.Password))...)
	}
	return buf
}

// --- AddListElement / RemoveListElement ---

// ListElementRequest carries the parameters shared by
// Add/RemoveListElement-Request.
type ListElementRequest struct {
	ObjectID   ObjectIdentifier
	PropertyID PropertyIdentifier
	ArrayIndex *uint32
	Elements   []interface{}
}

// EncodeListElementRequest encodes the service parameters shared by
// Add/RemoveListElement-Request.
func EncodeListElementRequest(req ListElementRequest) ([]byte, error) {
	buf := EncodeContextObjectIdentifier(0, req.ObjectID)
	buf = append(buf, EncodeContextUnsigned(1, uint32(req.PropertyID))...)
	buf = append(buf, encodeOptionalArrayIndex(2, req.ArrayIndex)...)
	buf = append(buf, EncodeOpeningTag(3)...)
	for _, el := range req.Elements {
		encoded, err := EncodeApplicationValue(el)
		if err != nil {
			return nil, err
		}
		buf = append(buf, encoded...)
	}
	buf = append(buf, EncodeClosingTag(3)...)
	return buf, nil
}

// --- LifeSafetyOperation ---

// LifeSafetyOperationRequest carries the parameters of a
// LifeSafetyOperation-Request.
type LifeSafetyOperationRequest struct {
	ProcessID     uint32
	Source        string
	Operation     uint8
	TargetObjectID ObjectIdentifier
}

// EncodeLifeSafetyOperationRequest encodes the service parameters of a
// LifeSafetyOperation-Request.
func EncodeLifeSafetyOperationRequest(req LifeSafetyOperationRequest) []byte {
	buf := EncodeContextUnsigned(0, req.ProcessID)
	buf = append(buf, EncodeContextTag(1, EncodeCharacterString(req.Source))...)
	buf = append(buf, EncodeContextUnsigned(2, uint32(req.Operation))...)
	buf = append(buf, EncodeContextObjectIdentifier(3, req.TargetObjectID)...)
	return buf
}

// --- Unconfirmed discovery services: WhoIs / IAm / WhoHas / IHave ---

// EncodeWhoIsRequest encodes the service parameters of a Who-Is-Request.
// A range is encoded only when both bounds are non-negative.
func EncodeWhoIsRequest(lowLimit, highLimit int32) []byte {
	if lowLimit < 0 || highLimit < 0 {
		return nil
	}
	buf := EncodeContextUnsigned(0, uint32(lowLimit))
	buf = append(buf, EncodeContextUnsigned(1, uint32(highLimit))...)
	return buf
}

// DecodeWhoIsRequest decodes the service parameters of a Who-Is-Request.
// Either return value is -1 if the corresponding bound was absent.
func DecodeWhoIsRequest(data []byte) (lowLimit, highLimit int32) {
	lowLimit, highLimit = -1, -1
	if len(data) == 0 {
		return
	}
	tagNum, class, length, headerLen, err := DecodeTagNumber(data)
	if err != nil || tagNum != 0 || class != TagClassContext {
		return
	}
	lowLimit = int32(DecodeUnsigned(data[headerLen : headerLen+length]))
	offset := headerLen + length
	if offset >= len(data) {
		return
	}
	tagNum, class, length, headerLen, err = DecodeTagNumber(data[offset:])
	if err != nil || tagNum != 1 || class != TagClassContext {
		return
	}
	highLimit = int32(DecodeUnsigned(data[offset+headerLen : offset+headerLen+length]))
	return
}

// IAmParameters carries the parameters of an I-Am-Request.
type IAmParameters struct {
	ObjectID         ObjectIdentifier
	MaxAPDULength    uint32
	Segmentation     Segmentation
	VendorID         uint32
}

// EncodeIAmRequest encodes the service parameters of an I-Am-Request.
func EncodeIAmRequest(p IAmParameters) []byte {
	buf := EncodeObjectIdentifierTag(p.ObjectID)
	buf = append(buf, EncodeUnsignedTag(p.MaxAPDULength)...)
	buf = append(buf, EncodeEnumeratedTag(uint32(p.Segmentation))...)
	buf = append(buf, EncodeUnsignedTag(p.VendorID)...)
	return buf
}

// DecodeIAmRequest decodes the service parameters of an I-Am-Request.
func DecodeIAmRequest(data []byte) (IAmParameters, error) {
	var p IAmParameters
	offset := 0

	_, class, length, headerLen, err := DecodeTagNumber(data[offset:])
	if err != nil || class != TagClassApplication || length != 4 {
		return p, errInvalidTag
	}
	p.ObjectID = DecodeObjectIdentifierFromBytes(data[offset+headerLen : offset+headerLen+length])
	offset += headerLen + length

	_, class, length, headerLen, err = DecodeTagNumber(data[offset:])
	if err != nil || class != TagClassApplication {
		return p, errInvalidTag
	}
	p.MaxAPDULength = DecodeUnsigned(data[offset+headerLen : offset+headerLen+length])
	offset += headerLen + length

	_, class, length, headerLen, err = DecodeTagNumber(data[offset:])
	if err != nil || class != TagClassApplication {
		return p, errInvalidTag
	}
	p.Segmentation = Segmentation(DecodeUnsigned(data[offset+headerLen : offset+headerLen+length]))
	offset += headerLen + length

	_, class, length, headerLen, err = DecodeTagNumber(data[offset:])
	if err != nil || class != TagClassApplication {
		return p, errInvalidTag
	}
	p.VendorID = DecodeUnsigned(data[offset+headerLen : offset+headerLen+length])

	return p, nil
}

// WhoHasParameters carries the parameters of a Who-Has-Request. Exactly one
// of ObjectID or ObjectName identifies the target object.
type WhoHasParameters struct {
	LowLimit   *uint32
	HighLimit  *uint32
	ObjectID   *ObjectIdentifier
	ObjectName string
}

// EncodeWhoHasRequest encodes the service parameters of a Who-Has-Request.
func EncodeWhoHasRequest(p WhoHasParameters) []byte {
	var buf []byte
	if p.LowLimit != nil && p.HighLimit != nil {
		buf = append(buf, EncodeContextUnsigned(0, *p.LowLimit)...)
		buf = append(buf, EncodeContextUnsigned(1, *p.HighLimit)...)
	}
	if p.ObjectID != nil {
		buf = append(buf, EncodeContextObjectIdentifier(2, *p.ObjectID)...)
	} else {
		buf = append(buf, EncodeContextTag(3, EncodeCharacterString(p.ObjectName))...)
	}
	return buf
}

// IHaveParameters carries the parameters of an I-Have-Request.
type IHaveParameters struct {
	DeviceID   ObjectIdentifier
	ObjectID   ObjectIdentifier
	ObjectName string
}

// EncodeIHaveRequest encodes the service parameters of an I-Have-Request.
func EncodeIHaveRequest(p IHaveParameters) []byte {
	buf := EncodeObjectIdentifierTag(p.DeviceID)
	buf = append(buf, EncodeObjectIdentifierTag(p.ObjectID)...)
	buf = append(buf, EncodeCharacterStringTag(p.ObjectName)...)
	return buf
}

// --- TimeSynchronization / UTCTimeSynchronization ---

// BACnetDateTime is the wire-level BACnet date+time pair used by
// TimeSynchronization and schedule-related services.
type BACnetDateTime struct {
	Year, Month, Day, DayOfWeek uint8
	Hour, Minute, Second, Hundredths uint8
}

// EncodeTimeSynchronizationRequest encodes the service parameters of a
// TimeSynchronization-Request (and, identically, a
// UTCTimeSynchronization-Request — the two differ only in service choice).
func EncodeTimeSynchronizationRequest(dt BACnetDateTime) []byte {
	date := []byte{dt.Year, dt.Month, dt.Day, dt.DayOfWeek}
	dateTag := EncodeTag(uint8(TagDate), TagClassApplication, 4)
	buf := append(dateTag, date...)

	timeVal := []byte{dt.Hour, dt.Minute, dt.Second, dt.Hundredths}
	timeTag := EncodeTag(uint8(TagTime), TagClassApplication, 4)
	buf = append(buf, timeTag...)
	buf = append(buf, timeVal...)
	return buf
}

// DecodeTimeSynchronizationRequest decodes the service parameters shared by
// TimeSynchronization/UTCTimeSynchronization-Request.
func DecodeTimeSynchronizationRequest(data []byte) (BACnetDateTime, error) {
	var dt BACnetDateTime
	if len(data) < 10 {
		return dt, errMissingRequired
	}
	_, class, length, headerLen, err := DecodeTagNumber(data)
	if err != nil || class != TagClassApplication || length != 4 {
		return dt, errInvalidTag
	}
	dateBytes := data[headerLen : headerLen+4]
	dt.Year, dt.Month, dt.Day, dt.DayOfWeek = dateBytes[0], dateBytes[1], dateBytes[2], dateBytes[3]
	offset := headerLen + 4

	_, class, length, headerLen, err = DecodeTagNumber(data[offset:])
	if err != nil || class != TagClassApplication || length != 4 {
		return dt, errInvalidTag
	}
	timeBytes := data[offset+headerLen : offset+headerLen+4]
	dt.Hour, dt.Minute, dt.Second, dt.Hundredths = timeBytes[0], timeBytes[1], timeBytes[2], timeBytes[3]

	return dt, nil
}
