// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"reflect"

	"github.com/btcsuite/btcd/wire"
)

var (
	// pointerSize is the size of a pointer on the running platform.
	pointerSize = int64(reflect.TypeOf(uintptr(0)).Size())

	// txDescOverhead approximates the memory taken by a pool entry besides
	// its transaction: the descriptor itself and its slots in the hash map
	// and the two btree indices.
	txDescOverhead = int64(reflect.TypeOf(TxDesc{}).Size()) +
		chainhashSize + 4*pointerSize

	// outPointOverhead approximates the memory taken by an entry of the
	// spent outpoint index.
	outPointOverhead = int64(reflect.TypeOf(wire.OutPoint{}).Size()) +
		pointerSize

	// linkOverhead approximates the memory taken by one parent or child
	// link of an entry.
	linkOverhead = 2 * pointerSize
)

// chainhashSize is the size of a map key holding a transaction hash.
const chainhashSize = 32

// txMemUsage returns the memory taken by tx, following its pointers.
func txMemUsage(tx *wire.MsgTx) int64 {
	return int64(dynamicMemUsage(reflect.ValueOf(tx)))
}

// dynamicMemUsage returns the memory taken by v along with everything it
// references.  v must not reference itself.
func dynamicMemUsage(v reflect.Value) uintptr {
	t := v.Type()
	bytes := t.Size()

	// Pointers, slices, maps and nested values are followed; everything
	// else is fully accounted for by its type size.
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface:
		if !v.IsNil() {
			bytes += dynamicMemUsage(v.Elem())
		}

	case reflect.Array, reflect.Slice:
		bytes += sequenceMemUsage(v)

	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			bytes += dynamicMemUsage(iter.Key())
			bytes += dynamicMemUsage(iter.Value())
		}

	case reflect.Struct:
		for _, f := range reflect.VisibleFields(t) {
			vf := v.FieldByIndex(f.Index)
			switch vf.Kind() {
			case reflect.Pointer, reflect.Interface:
				if !vf.IsNil() {
					bytes += dynamicMemUsage(vf.Elem())
				}
			case reflect.Array, reflect.Slice:
				// The header or inline array is already part of
				// the struct size.
				bytes -= vf.Type().Size()
				bytes += dynamicMemUsage(vf)
			}
		}
	}

	return bytes
}

// sequenceMemUsage returns the memory referenced by the elements of an array
// or slice, including the backing array of a slice.
func sequenceMemUsage(v reflect.Value) uintptr {
	n := v.Len()
	if n == 0 {
		return 0
	}
	elemKind := v.Type().Elem().Kind()

	// Byte sequences are counted without visiting every element.
	if elemKind == reflect.Uint8 {
		if v.Kind() == reflect.Array {
			return 0
		}
		return uintptr(n)
	}

	var bytes uintptr
	for i := 0; i < n; i++ {
		elem := v.Index(i)
		if v.Kind() == reflect.Array {
			// Inline elements are part of the array size already.
			if (elemKind == reflect.Pointer ||
				elemKind == reflect.Interface) && !elem.IsNil() {

				bytes += dynamicMemUsage(elem.Elem())
			}
			continue
		}
		bytes += dynamicMemUsage(elem)
	}
	return bytes
}
