package pipe

import (
	"context"
	"reflect"
	"sync"
)

// Combine fans multiple faucets into one. The merged channel closes when
// every source closes. Ordering across sources is not guaranteed; within a
// source it is preserved.
func Combine[T any](sources ...<-chan T) <-chan T {
	out := make(chan T)
	var wg sync.WaitGroup
	wg.Add(len(sources))
	for _, src := range sources {
		go func(src <-chan T) {
			defer wg.Done()
			for item := range src {
				out <- item
			}
		}(src)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// Nexts awaits the next item from any receiver in a named map. Returns the
// key it arrived on and (key, zero, false) when that receiver is closed.
// Context cancellation returns ("", zero, false).
func Nexts[T any](ctx context.Context, receivers map[string]<-chan T) (string, T, bool) {
	var zero T
	keys := make([]string, 0, len(receivers))
	cases := make([]reflect.SelectCase, 0, len(receivers)+1)
	for key, rx := range receivers {
		keys = append(keys, key)
		cases = append(cases, reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(rx),
		})
	}
	cases = append(cases, reflect.SelectCase{
		Dir:  reflect.SelectRecv,
		Chan: reflect.ValueOf(ctx.Done()),
	})

	chosen, value, ok := reflect.Select(cases)
	if chosen == len(keys) {
		return "", zero, false // cancelled
	}
	if !ok {
		return keys[chosen], zero, false
	}
	return keys[chosen], value.Interface().(T), true
}

// HomeReplicaMap is the conventional two-level home -> replica -> value map
// agents use for per-channel state.
type HomeReplicaMap[T any] map[string]map[string]T

// Insert sets map[home][replica], allocating the inner map on first use.
func (m HomeReplicaMap[T]) Insert(home, replica string, value T) {
	inner, ok := m[home]
	if !ok {
		inner = make(map[string]T)
		m[home] = inner
	}
	inner[replica] = value
}

// Get fetches map[home][replica].
func (m HomeReplicaMap[T]) Get(home, replica string) (T, bool) {
	var zero T
	inner, ok := m[home]
	if !ok {
		return zero, false
	}
	value, ok := inner[replica]
	if !ok {
		return zero, false
	}
	return value, true
}
