package models

import (
	"encoding/json"
	"reflect"
	"strings"
	"sync"
)

// Extras carries JSON fields a decoder did not recognize.
type Extras map[string]json.RawMessage

var knownFieldsCache sync.Map // reflect.Type -> map[string]struct{}

func knownFields(t reflect.Type) map[string]struct{} {
	if cached, ok := knownFieldsCache.Load(t); ok {
		return cached.(map[string]struct{})
	}

	fields := make(map[string]struct{}, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := strings.Split(f.Tag.Get("json"), ",")[0]
		if name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		fields[name] = struct{}{}
	}

	knownFieldsCache.Store(t, fields)
	return fields
}

// decodePartial unmarshals data into v (a pointer to a struct) and returns
// every top-level field v does not declare.
func decodePartial(data []byte, v any) (Extras, error) {
	if err := json.Unmarshal(data, v); err != nil {
		return nil, err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	known := knownFields(reflect.TypeOf(v).Elem())
	var extra Extras
	for k, val := range raw {
		if _, ok := known[k]; ok {
			continue
		}
		if extra == nil {
			extra = Extras{}
		}
		extra[k] = val
	}
	return extra, nil
}

// encodeWithExtras marshals v and merges extra fields back in. Declared
// fields always win over an extra with the same name.
func encodeWithExtras(v any, extra Extras) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return b, err
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	for k, val := range extra {
		if _, ok := m[k]; !ok {
			m[k] = val
		}
	}
	return json.Marshal(m)
}
