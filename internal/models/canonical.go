package models

import (
	"bytes"
	"encoding/json"
	"reflect"
	"time"
)

var timeType = reflect.TypeOf(time.Time{})

// CanonicalJSON encodes v so that equal content yields equal bytes: object
// keys are sorted and every time.Time field is encoded in UTC. String
// content is never touched, even when it looks like a timestamp.
func CanonicalJSON(v any) ([]byte, error) {
	rv := reflect.ValueOf(v)
	if rv.IsValid() {
		v = utcCopy(rv).Interface()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// utcCopy returns a copy of v with every reachable time.Time in UTC. v
// itself and the data it points to are left unchanged.
func utcCopy(v reflect.Value) reflect.Value {
	if v.Type() == timeType {
		return reflect.ValueOf(v.Interface().(time.Time).UTC())
	}

	switch v.Kind() {
	case reflect.Struct:
		out := reflect.New(v.Type()).Elem()
		out.Set(v)
		for i := 0; i < v.NumField(); i++ {
			if !v.Type().Field(i).IsExported() {
				continue
			}
			out.Field(i).Set(utcCopy(v.Field(i)))
		}
		return out
	case reflect.Pointer:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type().Elem())
		out.Elem().Set(utcCopy(v.Elem()))
		return out
	case reflect.Slice:
		if v.IsNil() || v.Type().Elem().Kind() == reflect.Uint8 {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(utcCopy(v.Index(i)))
		}
		return out
	default:
		return v
	}
}
