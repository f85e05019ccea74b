// Package dataloader provides generic helpers for batched fetch-by-key.
//
// A batch function loads the values of many keys with one statement. The
// store returns the rows in its own order and omits missing keys, so the
// result has to be matched back to the requested keys:
//
//	func load(ctx context.Context, ids []any) ([]*entity.Entity, []error) {
//		set, err := fetch(ctx, querylanguage.FieldIn("id", ids...))
//		if err != nil {
//			return nil, []error{err}
//		}
//		return dataloader.OrderByKeys(ids, set.Entities, keyOf)
//	}
//
// The persistence manager resolves lazy navigation references this way.
package dataloader

import (
	"context"
	"errors"
)

// ErrNotFound is returned for keys missing from a batch result.
var ErrNotFound = errors.New("dataloader: entity not found")

// KeyFunc extracts a key from a value.
type KeyFunc[K comparable, V any] func(V) K

// BatchFunc loads a batch of values by their keys. The results are in key
// order; a single error applies to the whole batch.
type BatchFunc[K comparable, V any] func(ctx context.Context, keys []K) ([]V, []error)

// OrderByKeys reorders values to match the order of the requested keys.
// Missing values are zero values with ErrNotFound at their position.
// Duplicate keys get the same value.
func OrderByKeys[K comparable, V any](keys []K, values []V, keyFn KeyFunc[K, V]) ([]V, []error) {
	lookup := make(map[K]V, len(values))
	for _, v := range values {
		lookup[keyFn(v)] = v
	}
	result := make([]V, len(keys))
	errs := make([]error, len(keys))
	for i, key := range keys {
		if v, ok := lookup[key]; ok {
			result[i] = v
		} else {
			errs[i] = ErrNotFound
		}
	}
	return result, errs
}

// GroupByKey groups values by key, keeping their relative order.
func GroupByKey[K comparable, V any](values []V, keyFn KeyFunc[K, V]) map[K][]V {
	result := make(map[K][]V)
	for _, v := range values {
		key := keyFn(v)
		result[key] = append(result[key], v)
	}
	return result
}

// Load calls fn once per chunk of at most size distinct keys and returns
// the values and errors in the order of keys. A batch-level error (a
// single error for a chunk of more than one key) is reported for every
// key of the chunk.
func Load[K comparable, V any](ctx context.Context, keys []K, size int, fn BatchFunc[K, V]) ([]V, []error) {
	var (
		uniq []K
		seen = make(map[K]int, len(keys))
	)
	for _, k := range keys {
		if _, ok := seen[k]; !ok {
			seen[k] = len(uniq)
			uniq = append(uniq, k)
		}
	}
	if size <= 0 {
		size = len(uniq)
	}
	vals := make([]V, len(uniq))
	errs := make([]error, len(uniq))
	for start := 0; start < len(uniq); start += size {
		end := min(start+size, len(uniq))
		chunk := uniq[start:end]
		vs, es := fn(ctx, chunk)
		if len(es) == 1 && es[0] != nil && (len(chunk) > 1 || len(vs) == 0) {
			for i := start; i < end; i++ {
				errs[i] = es[0]
			}
			continue
		}
		copy(vals[start:end], vs)
		copy(errs[start:end], es)
	}
	outV := make([]V, len(keys))
	outE := make([]error, len(keys))
	for i, k := range keys {
		outV[i], outE[i] = vals[seen[k]], errs[seen[k]]
	}
	return outV, outE
}
