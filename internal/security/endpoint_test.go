package security

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func stubLookup(t *testing.T, addrs map[string][]string) {
	t.Helper()
	orig := LookupHost
	LookupHost = func(_ context.Context, host string) ([]string, error) {
		if a, ok := addrs[host]; ok {
			return a, nil
		}
		return nil, errors.New("no such host")
	}
	t.Cleanup(func() { LookupHost = orig })
}

func TestValidateEndpointURL(t *testing.T) {
	stubLookup(t, map[string][]string{
		"hooks.example.com":    {"93.184.216.34"},
		"internal.example.com": {"10.0.0.7"},
	})
	ctx := context.Background()

	assert.NoError(t, ValidateEndpointURL(ctx, "https://hooks.example.com/fraudpop", false))
	assert.NoError(t, ValidateEndpointURL(ctx, "https://93.184.216.34/x", false))
	assert.NoError(t, ValidateEndpointURL(ctx, "http://hooks.example.com/x", true))

	bad := []string{
		"http://hooks.example.com/x",
		"ftp://hooks.example.com",
		"https://",
		"https://user:pw@hooks.example.com",
		"https://localhost/x",
		"https://127.0.0.1/x",
		"https://192.168.1.10/x",
		"https://169.254.169.254/latest",
		"https://[::1]/x",
		"https://0.0.0.0/x",
		"https://internal.example.com/x",
		"https://unknown.example.com/x",
		"::not a url",
	}
	for _, u := range bad {
		assert.ErrorIs(t, ValidateEndpointURL(ctx, u, false), ErrUnsafeURL, u)
	}
}
