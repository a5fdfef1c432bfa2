package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// Handler holds a task function and the shape of its signature.
type Handler struct {
	Fn          reflect.Value
	PayloadType reflect.Type
	HasContext  bool
	HasResult   bool
}

// NewHandler creates a Handler from a function with one of the signatures
//
//	func(T) error
//	func(context.Context, T) error
//	func(T) (R, error)
//	func(context.Context, T) (R, error)
func NewHandler(fn any) (*Handler, error) {
	if fn == nil {
		return nil, errors.New("handler cannot be nil")
	}

	fnVal := reflect.ValueOf(fn)
	if fnVal.Kind() != reflect.Func {
		return nil, errors.New("handler must be a function")
	}
	if fnVal.IsNil() {
		return nil, errors.New("handler function cannot be nil")
	}

	fnType := fnVal.Type()
	h := &Handler{Fn: fnVal}

	switch fnType.NumIn() {
	case 1:
		if fnType.In(0).Implements(contextType) {
			return nil, errors.New("handler must take a payload argument")
		}
		h.PayloadType = fnType.In(0)
	case 2:
		if !fnType.In(0).Implements(contextType) {
			return nil, errors.New("handler's first argument must be context.Context")
		}
		h.HasContext = true
		h.PayloadType = fnType.In(1)
	default:
		return nil, errors.New("handler must have 1-2 arguments")
	}

	switch fnType.NumOut() {
	case 1:
		if fnType.Out(0) != errorType {
			return nil, errors.New("handler must return error")
		}
	case 2:
		if fnType.Out(1) != errorType {
			return nil, errors.New("handler must return (R, error)")
		}
		h.HasResult = true
	default:
		return nil, errors.New("handler must return error or (R, error)")
	}

	return h, nil
}

// Execute decodes payload into the handler's argument type and calls it.
// The result is nil for handlers that return only an error.
func (h *Handler) Execute(ctx context.Context, payload map[string]any) (any, error) {
	if !h.Fn.IsValid() || h.Fn.IsNil() {
		return nil, errors.New("handler function is nil or invalid")
	}

	arg, err := h.decode(payload)
	if err != nil {
		return nil, err
	}

	var in []reflect.Value
	if h.HasContext {
		if ctx == nil {
			ctx = context.Background()
		}
		in = append(in, reflect.ValueOf(ctx))
	}
	in = append(in, arg)

	out := h.Fn.Call(in)

	errVal := out[len(out)-1]
	if !errVal.IsNil() {
		return nil, errVal.Interface().(error)
	}
	if h.HasResult {
		return out[0].Interface(), nil
	}
	return nil, nil
}

// decode round-trips the payload through JSON into a fresh PayloadType value.
func (h *Handler) decode(payload map[string]any) (reflect.Value, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("failed to marshal payload: %w", err)
	}
	ptr := reflect.New(h.PayloadType)
	if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("failed to decode payload into %s: %w", h.PayloadType, err)
	}
	return ptr.Elem(), nil
}
