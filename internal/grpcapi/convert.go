package grpcapi

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// itemsKey holds the list in list responses
const itemsKey = "items"

// toStruct converts a JSON-encodable object into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T: %w", v, err)
	}
	st := &structpb.Struct{}
	if err := protojson.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("failed to convert %T to struct: %w", v, err)
	}
	return st, nil
}

// listStruct wraps a list as {items: list}.
func listStruct[T any](items []T) (*structpb.Struct, error) {
	if items == nil {
		items = []T{}
	}
	return toStruct(map[string]any{itemsKey: items})
}

// fromStruct decodes st into v through its JSON form.
func fromStruct(st *structpb.Struct, v any) error {
	if st == nil {
		st = &structpb.Struct{}
	}
	data, err := protojson.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode struct: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode struct into %T: %w", v, err)
	}
	return nil
}

// fromListStruct decodes the items of a list response.
func fromListStruct[T any](st *structpb.Struct) ([]T, error) {
	var wrapper struct {
		Items []T `json:"items"`
	}
	if err := fromStruct(st, &wrapper); err != nil {
		return nil, err
	}
	if wrapper.Items == nil {
		wrapper.Items = []T{}
	}
	return wrapper.Items, nil
}

// stringField returns a string field of st, or "" when absent.
func stringField(st *structpb.Struct, key string) string {
	if st == nil {
		return ""
	}
	return st.GetFields()[key].GetStringValue()
}

// truthyField reports whether st holds true or the string "true" at key.
func truthyField(st *structpb.Struct, key string) bool {
	if st == nil {
		return false
	}
	v, ok := st.GetFields()[key]
	if !ok {
		return false
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_BoolValue:
		return k.BoolValue
	case *structpb.Value_StringValue:
		return k.StringValue == "true"
	}
	return false
}
