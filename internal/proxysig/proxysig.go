// Package proxysig verifies storefront app proxy requests signed by the
// platform with the app's shared secret.
//
// The signed message is every query parameter except "signature", sorted by
// name and rendered as key=value pairs joined with "&". Multi-valued
// parameters join their values with ",".
package proxysig

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// ParamName is the query parameter carrying the hex HMAC.
const ParamName = "signature"

// Message builds the canonical string that is signed.
func Message(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == ParamName {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strings.Join(params[k], ","))
	}
	return b.String()
}

// Sign returns the hex HMAC-SHA256 of the canonical message. An existing
// signature parameter is ignored.
func Sign(params url.Values, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(Message(params)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether params carry a valid signature for secret.
// It returns false when the signature is missing or the secret is empty.
func Verify(params url.Values, secret string) bool {
	if secret == "" {
		return false
	}
	sig := params.Get(ParamName)
	if sig == "" {
		return false
	}
	expected := Sign(params, secret)
	return hmac.Equal([]byte(expected), []byte(sig))
}

// VerifyURL parses rawURL and verifies its query string. Unparseable URLs fail.
func VerifyURL(rawURL, secret string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	params, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return false
	}
	return Verify(params, secret)
}
