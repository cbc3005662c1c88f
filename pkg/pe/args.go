package pe

import (
	"fmt"
	"reflect"
	"unsafe"

	"github.com/carved4/go-ldr/pkg/errors"
)

// Args converts Go values to native call arguments. Integers and booleans
// are passed by value, pointers by address. Pointed-to Go memory must stay
// reachable for the duration of the call.
func Args(args ...any) ([]uintptr, error) {
	out := make([]uintptr, len(args))
	for i, a := range args {
		v, err := processArg(a)
		if err != nil {
			return nil, errors.Wrap(errors.ErrSerialization, "pe.Args", fmt.Errorf("argument %d: %w", i, err))
		}
		out[i] = v
	}
	return out, nil
}

func processArg(arg any) (uintptr, error) {
	if arg == nil {
		return 0, nil
	}
	// fast path for common types
	switch v := arg.(type) {
	case uintptr:
		return v, nil
	case unsafe.Pointer:
		return uintptr(v), nil
	case int:
		return uintptr(v), nil
	case int32:
		return uintptr(int64(v)), nil
	case int64:
		return uintptr(v), nil
	case uint:
		return uintptr(v), nil
	case uint16:
		return uintptr(v), nil
	case uint32:
		return uintptr(v), nil
	case uint64:
		return uintptr(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	}

	val := reflect.ValueOf(arg)
	switch val.Kind() {
	case reflect.Ptr, reflect.UnsafePointer:
		return val.Pointer(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return uintptr(val.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return uintptr(val.Uint()), nil
	case reflect.Bool:
		if val.Bool() {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("unsupported type %T", arg)
}
