package metafields

import (
	"context"
	"encoding/json"
	"sync"
)

type call struct {
	query string
	vars  map[string]any
}

// fakeClient answers every call with respond's JSON "data" member.
type fakeClient struct {
	mu      sync.Mutex
	calls   []call
	respond func(n int, query string, vars map[string]any) (string, error)
}

func (f *fakeClient) Do(_ context.Context, query string, vars map[string]any, out any) error {
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, call{query: query, vars: vars})
	f.mu.Unlock()

	data, err := f.respond(n, query, vars)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal([]byte(data), out)
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func constant(data string) func(int, string, map[string]any) (string, error) {
	return func(int, string, map[string]any) (string, error) { return data, nil }
}
