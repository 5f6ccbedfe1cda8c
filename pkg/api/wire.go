package api

import (
	"fmt"

	"google.golang.org/grpc/encoding"
	grpcproto "google.golang.org/grpc/encoding/proto"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// wireMessage is a gripper message that encodes itself in the protobuf
// wire format of gripper.proto. Field numbers below must match that file.
type wireMessage interface {
	marshalWire(b []byte) ([]byte, error)
	unmarshalWire(b []byte) error
}

// protoCodec replaces grpc's default codec so hosts built from
// gripper.proto can talk to this server without a content subtype.
// Generated protobuf messages are passed through to the stock encoder.
type protoCodec struct{}

func (protoCodec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case wireMessage:
		return m.marshalWire(nil)
	case proto.Message:
		return proto.Marshal(m)
	}
	return nil, fmt.Errorf("proto codec: cannot marshal %T", v)
}

func (protoCodec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case wireMessage:
		return m.unmarshalWire(data)
	case proto.Message:
		return proto.Unmarshal(data, m)
	}
	return fmt.Errorf("proto codec: cannot unmarshal into %T", v)
}

func (protoCodec) Name() string {
	return grpcproto.Name
}

func init() {
	encoding.RegisterCodec(protoCodec{})
}

const (
	fieldName         protowire.Number = 1 // Collection.name
	fieldSearchFields protowire.Number = 1 // CollectionInfo.search_fields
	fieldID           protowire.Number = 1 // RowID.id, Row.id
	fieldCollection   protowire.Number = 1 // RowRequest.collection, FieldRequest.collection
	fieldRequestRowID protowire.Number = 2 // RowRequest.id
	fieldField        protowire.Number = 2 // FieldRequest.field
	fieldData         protowire.Number = 2 // Row.data
	fieldRequestID    protowire.Number = 3 // RowRequest.requestID, Row.requestID
	fieldValue        protowire.Number = 3 // FieldRequest.value
)

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// readFields walks b and hands each field to read, which returns the
// number of bytes it consumed. Fields read leaves at zero are skipped.
func readFields(b []byte, read func(num protowire.Number, typ protowire.Type, b []byte) int) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		n = read(num, typ, b)
		if n == 0 {
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
	}
	return nil
}

func readString(typ protowire.Type, b []byte, dst *string) int {
	if typ != protowire.BytesType {
		return 0
	}
	v, n := protowire.ConsumeString(b)
	if n >= 0 {
		*dst = v
	}
	return n
}

func readUint(typ protowire.Type, b []byte, dst *uint64) int {
	if typ != protowire.VarintType {
		return 0
	}
	v, n := protowire.ConsumeVarint(b)
	if n >= 0 {
		*dst = v
	}
	return n
}

func (m *Empty) marshalWire(b []byte) ([]byte, error) {
	return b, nil
}

func (m *Empty) unmarshalWire(b []byte) error {
	return readFields(b, func(protowire.Number, protowire.Type, []byte) int { return 0 })
}

func (m *Collection) marshalWire(b []byte) ([]byte, error) {
	return appendString(b, fieldName, m.Name), nil
}

func (m *Collection) unmarshalWire(b []byte) error {
	*m = Collection{}
	return readFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == fieldName {
			return readString(typ, b, &m.Name)
		}
		return 0
	})
}

func (m *CollectionInfo) marshalWire(b []byte) ([]byte, error) {
	for _, f := range m.SearchFields {
		b = protowire.AppendTag(b, fieldSearchFields, protowire.BytesType)
		b = protowire.AppendString(b, f)
	}
	return b, nil
}

func (m *CollectionInfo) unmarshalWire(b []byte) error {
	*m = CollectionInfo{}
	return readFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num != fieldSearchFields {
			return 0
		}
		var f string
		n := readString(typ, b, &f)
		if n > 0 {
			m.SearchFields = append(m.SearchFields, f)
		}
		return n
	})
}

func (m *RowID) marshalWire(b []byte) ([]byte, error) {
	return appendString(b, fieldID, m.ID), nil
}

func (m *RowID) unmarshalWire(b []byte) error {
	*m = RowID{}
	return readFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == fieldID {
			return readString(typ, b, &m.ID)
		}
		return 0
	})
}

func (m *RowRequest) marshalWire(b []byte) ([]byte, error) {
	b = appendString(b, fieldCollection, m.Collection)
	b = appendString(b, fieldRequestRowID, m.ID)
	return appendUint(b, fieldRequestID, m.RequestID), nil
}

func (m *RowRequest) unmarshalWire(b []byte) error {
	*m = RowRequest{}
	return readFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case fieldCollection:
			return readString(typ, b, &m.Collection)
		case fieldRequestRowID:
			return readString(typ, b, &m.ID)
		case fieldRequestID:
			return readUint(typ, b, &m.RequestID)
		}
		return 0
	})
}

func (m *FieldRequest) marshalWire(b []byte) ([]byte, error) {
	b = appendString(b, fieldCollection, m.Collection)
	b = appendString(b, fieldField, m.Field)
	return appendString(b, fieldValue, m.Value), nil
}

func (m *FieldRequest) unmarshalWire(b []byte) error {
	*m = FieldRequest{}
	return readFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case fieldCollection:
			return readString(typ, b, &m.Collection)
		case fieldField:
			return readString(typ, b, &m.Field)
		case fieldValue:
			return readString(typ, b, &m.Value)
		}
		return 0
	})
}

// Row.data is a google.protobuf.Struct on the wire, so the JSON object is
// converted through structpb in both directions.
func (m *Row) marshalWire(b []byte) ([]byte, error) {
	b = appendString(b, fieldID, m.ID)
	if len(m.Data) > 0 && string(m.Data) != "null" {
		var data structpb.Struct
		if err := data.UnmarshalJSON(m.Data); err != nil {
			return nil, fmt.Errorf("row %s: encode data: %w", m.ID, err)
		}
		raw, err := proto.MarshalOptions{Deterministic: true}.Marshal(&data)
		if err != nil {
			return nil, fmt.Errorf("row %s: encode data: %w", m.ID, err)
		}
		b = protowire.AppendTag(b, fieldData, protowire.BytesType)
		b = protowire.AppendBytes(b, raw)
	}
	return appendUint(b, fieldRequestID, m.RequestID), nil
}

func (m *Row) unmarshalWire(b []byte) error {
	*m = Row{}
	var (
		data    []byte
		hasData bool
	)
	err := readFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case fieldID:
			return readString(typ, b, &m.ID)
		case fieldRequestID:
			return readUint(typ, b, &m.RequestID)
		case fieldData:
			if typ != protowire.BytesType {
				return 0
			}
			v, n := protowire.ConsumeBytes(b)
			if n >= 0 {
				data = append(data, v...)
				hasData = true
			}
			return n
		}
		return 0
	})
	if err != nil {
		return err
	}
	if !hasData {
		return nil
	}
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("row %s: decode data: %w", m.ID, err)
	}
	m.Data, err = s.MarshalJSON()
	return err
}
