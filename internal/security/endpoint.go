package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrUnsafeURL is wrapped by every endpoint validation failure.
var ErrUnsafeURL = errors.New("unsafe endpoint URL")

// LookupHost resolves hostnames during validation. Replaced in tests.
var LookupHost = net.DefaultResolver.LookupHost

var blockedHosts = []string{"localhost", "metadata.google.internal", "metadata.google"}

// ValidateEndpointURL checks that a merchant-supplied alert webhook URL is
// safe to call from the server. Private, loopback, link-local and unspecified
// addresses are rejected, both as literals and after DNS resolution. Plain
// http is accepted only when allowHTTP is set.
func ValidateEndpointURL(ctx context.Context, rawURL string, allowHTTP bool) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid URL format", ErrUnsafeURL)
	}

	switch {
	case u.Scheme == "https":
	case u.Scheme == "http" && allowHTTP:
	default:
		return fmt.Errorf("%w: scheme %q is not allowed", ErrUnsafeURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: URL must have a host", ErrUnsafeURL)
	}
	if u.User != nil {
		return fmt.Errorf("%w: credentials in URL are not allowed", ErrUnsafeURL)
	}

	host := u.Hostname()
	for _, b := range blockedHosts {
		if strings.EqualFold(host, b) {
			return fmt.Errorf("%w: host %q is not allowed", ErrUnsafeURL, host)
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		return checkIP(ip)
	}

	addrs, err := LookupHost(ctx, host)
	if err != nil {
		return fmt.Errorf("%w: cannot resolve host %s", ErrUnsafeURL, host)
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil {
			if err := checkIP(ip); err != nil {
				return fmt.Errorf("host %q resolves to blocked address: %w", host, err)
			}
		}
	}
	return nil
}

func checkIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("%w: loopback addresses are not allowed", ErrUnsafeURL)
	case ip.IsPrivate():
		return fmt.Errorf("%w: private addresses are not allowed", ErrUnsafeURL)
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("%w: link-local addresses are not allowed", ErrUnsafeURL)
	case ip.IsUnspecified():
		return fmt.Errorf("%w: unspecified addresses are not allowed", ErrUnsafeURL)
	}
	return nil
}
