package httpclient

import (
	"crypto/tls"
	"net/http"
)

// defaultTransport returns a transport honoring verify_ssl (spec.md §4.3).
func defaultTransport(skipVerify bool) http.RoundTripper {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if skipVerify {
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{}
		}
		transport.TLSClientConfig.InsecureSkipVerify = true
	}
	return transport
}
