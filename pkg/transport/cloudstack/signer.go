// pkg/transport/cloudstack/signer.go
package cloudstack

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"sort"
	"strings"
)

// EncodeParams renders params as a query string with keys sorted and values
// escaped the way CloudStack expects when verifying a signature: spaces are
// %20, never '+'. Only the first value of each key is used.
func EncodeParams(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+escape(params.Get(k)))
	}
	return strings.Join(parts, "&")
}

// Sign computes the CloudStack request signature of an encoded query string:
// HMAC-SHA1 over the lower-cased query, keyed by the secret, base64 encoded.
func Sign(encodedQuery, secretKey string) string {
	mac := hmac.New(sha1.New, []byte(secretKey))
	mac.Write([]byte(strings.ToLower(encodedQuery)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// SignedQuery adds the signature to an encoded query string.
func SignedQuery(params url.Values, secretKey string) string {
	query := EncodeParams(params)
	return query + "&signature=" + escape(Sign(query, secretKey))
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
