// pkg/transport/cloudstack/signer_test.go
package cloudstack

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeParams(t *testing.T) {
	params := url.Values{
		"name":    {"web server"},
		"command": {"deployVirtualMachine"},
		"cidr":    {"10.0.0.0/24"},
		"expr":    {"1+2"},
	}

	got := EncodeParams(params)

	assert.Equal(t, "cidr=10.0.0.0%2F24&command=deployVirtualMachine&expr=1%2B2&name=web%20server", got)
}

func TestSign_IsCaseInsensitiveOverQuery(t *testing.T) {
	a := Sign("apiKey=ABC&command=listZones&response=json", "secret")
	b := Sign("apikey=abc&command=listzones&response=json", "secret")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, Sign("apikey=abc&command=listzones&response=json", "other-secret"))
}

func TestSignedQuery(t *testing.T) {
	params := url.Values{"command": {"listZones"}, "apiKey": {"key"}}

	q := SignedQuery(params, "secret")

	parsed, err := url.ParseQuery(q)
	assert.NoError(t, err)
	signature := parsed.Get("signature")
	parsed.Del("signature")
	assert.Equal(t, Sign(EncodeParams(parsed), "secret"), signature)
}
