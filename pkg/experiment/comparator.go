package experiment

import (
	"fmt"
	"reflect"

	"github.com/google/go-cmp/cmp"
)

// Comparator decides whether the control and candidate values are
// equivalent. It runs on the caller's path and must be pure and fast.
type Comparator[T any] func(control, candidate T) bool

// exportAll lets cmp descend into unexported fields, so value types such as
// big.Int or structs with private state compare by content.
var exportAll = cmp.Exporter(func(reflect.Type) bool { return true })

// DefaultComparator compares values with cmp.Equal, which uses an Equal
// method when T has one. Values cmp cannot handle are compared with
// reflect.DeepEqual instead, so the default never fails.
func DefaultComparator[T any]() Comparator[T] {
	return func(control, candidate T) (equal bool) {
		defer func() {
			if r := recover(); r != nil {
				equal = reflect.DeepEqual(control, candidate)
			}
		}()
		return cmp.Equal(control, candidate, exportAll)
	}
}

// Equal compares values with ==.
func Equal[T comparable]() Comparator[T] {
	return func(control, candidate T) bool {
		return control == candidate
	}
}

// compare applies cmp to both values. A panicking comparator is reported as
// a mismatch together with the recovered error.
func compare[T any](cmp Comparator[T], control, candidate T) (matched bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			matched = false
			err = fmt.Errorf("comparator panicked: %v", r)
		}
	}()
	return cmp(control, candidate), nil
}
