package coproc

import "github.com/atrniv/coproc/protocol"

// Transform is user logic run once per input record, in input order. It may
// return no records (filter), one (map) or several (flat map). Returned
// records carry timestamp deltas relative to the input batch; their offset
// deltas are reassigned when the output batch is built.
//
// Input records alias the batch buffer and must not be modified.
type Transform interface {
	Apply(record protocol.Record) ([]protocol.Record, error)
}

// Initializer is implemented by transforms that need one-time setup. Init runs
// once, before the first Apply.
type Initializer interface {
	Init() error
}

// TransformFunc adapts a plain function to Transform.
type TransformFunc func(record protocol.Record) ([]protocol.Record, error)

func (f TransformFunc) Apply(record protocol.Record) ([]protocol.Record, error) {
	return f(record)
}

// Map emits exactly one record per input.
func Map(fn func(protocol.Record) protocol.Record) Transform {
	return TransformFunc(func(record protocol.Record) ([]protocol.Record, error) {
		return []protocol.Record{fn(record)}, nil
	})
}

// Filter keeps the records for which keep returns true.
func Filter(keep func(protocol.Record) bool) Transform {
	return TransformFunc(func(record protocol.Record) ([]protocol.Record, error) {
		if !keep(record) {
			return nil, nil
		}
		return []protocol.Record{record}, nil
	})
}

// FlatMap emits any number of records per input.
func FlatMap(fn func(protocol.Record) []protocol.Record) Transform {
	return TransformFunc(func(record protocol.Record) ([]protocol.Record, error) {
		return fn(record), nil
	})
}

// Identity passes every record through unchanged.
func Identity() Transform {
	return Map(func(record protocol.Record) protocol.Record { return record })
}
