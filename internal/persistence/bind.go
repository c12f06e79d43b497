package persistence

import (
	"fmt"
	"reflect"

	"github.com/petrijr/dalma/pkg/api"
)

var binderType = reflect.TypeOf((*api.Binder)(nil)).Elem()

// Bind resolves the monikers of a freshly decoded value. It walks v
// depth-first and calls Bind on every api.Binder it reaches through
// exported fields, slices, maps and interfaces. Each pointer is visited
// once, so cyclic graphs terminate.
//
// Engine records carry no monikers; ModeEngine is a no-op.
func Bind(mode Mode, r api.Resolver, v any) error {
	if mode == ModeEngine || v == nil {
		return nil
	}
	b := &binder{res: r, seen: make(map[visit]bool)}
	return b.walk(reflect.ValueOf(v))
}

type visit struct {
	typ reflect.Type
	ptr uintptr
}

type binder struct {
	res  api.Resolver
	seen map[visit]bool
}

func (b *binder) walk(v reflect.Value) error {
	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		key := visit{v.Type(), v.Pointer()}
		if b.seen[key] {
			return nil
		}
		b.seen[key] = true
		return b.walk(v.Elem())

	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		inner := v.Elem()
		if inner.Kind() == reflect.Pointer {
			return b.walk(inner)
		}
		// Non-pointer values inside an interface are not addressable;
		// bind a copy and store it back.
		cp := reflect.New(inner.Type()).Elem()
		cp.Set(inner)
		if err := b.walk(cp); err != nil {
			return err
		}
		if v.CanSet() {
			v.Set(cp)
		}
		return nil

	case reflect.Struct:
		if v.CanAddr() && v.Addr().Type().Implements(binderType) {
			if err := v.Addr().Interface().(api.Binder).Bind(b.res); err != nil {
				return err
			}
		}
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			if err := b.walk(v.Field(i)); err != nil {
				return fmt.Errorf("%s.%s: %w", t.Name(), t.Field(i).Name, err)
			}
		}
		return nil

	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		fallthrough
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := b.walk(v.Index(i)); err != nil {
				return err
			}
		}
		return nil

	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		iter := v.MapRange()
		for iter.Next() {
			cp := reflect.New(iter.Value().Type()).Elem()
			cp.Set(iter.Value())
			if err := b.walk(cp); err != nil {
				return err
			}
			v.SetMapIndex(iter.Key(), cp)
		}
		return nil
	}
	return nil
}
