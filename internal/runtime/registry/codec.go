package registry

import (
	"fmt"
	"reflect"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/drblury/eventdispatch/internal/runtime/cloudevents"
	errspkg "github.com/drblury/eventdispatch/internal/runtime/errors"
	jsoncodec "github.com/drblury/eventdispatch/internal/runtime/jsoncodec"
)

// decodeFunc turns the data of an event into T.
type decodeFunc[T any] func(evt cloudevents.Event) (T, error)

// jsonDecoder decodes "data" as JSON. A data_base64 payload is treated as
// JSON bytes. Events without data yield the zero value of T. Decode failures
// wrap ErrDataDecode and are redelivered like any other handler failure.
func jsonDecoder[T any]() decodeFunc[T] {
	return func(evt cloudevents.Event) (T, error) {
		var v T
		raw := []byte(evt.Data)
		if len(raw) == 0 {
			raw = evt.DataBase64
		}
		if len(raw) == 0 {
			return v, nil
		}
		if err := jsoncodec.Unmarshal(raw, &v); err != nil {
			return v, fmt.Errorf("%w as %T: %w", errspkg.ErrDataDecode, v, err)
		}
		return v, nil
	}
}

var protoUnmarshalOptions = protojson.UnmarshalOptions{DiscardUnknown: true}

// protoDecoder decodes "data" with protojson and "data_base64" as binary
// protobuf. T must be a pointer to a generated message.
func protoDecoder[T proto.Message]() (decodeFunc[T], error) {
	typ := reflect.TypeFor[T]()
	if typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("proto data type %s must be a pointer", typ)
	}
	elem := typ.Elem()

	return func(evt cloudevents.Event) (T, error) {
		msg := reflect.New(elem).Interface().(T)
		var err error
		switch {
		case len(evt.Data) > 0:
			err = protoUnmarshalOptions.Unmarshal(evt.Data, msg)
		case len(evt.DataBase64) > 0:
			err = proto.Unmarshal(evt.DataBase64, msg)
		}
		if err != nil {
			return msg, fmt.Errorf("%w as %s: %w", errspkg.ErrDataDecode, typ, err)
		}
		return msg, nil
	}, nil
}
