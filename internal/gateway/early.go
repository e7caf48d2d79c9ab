package gateway

import (
	"encoding/base64"
	"net/http"
	"strings"
)

const earlyDataHeader = "Sec-WebSocket-Protocol"

// earlyData decodes the first client message carried in the
// Sec-WebSocket-Protocol request header as unpadded base64url. It returns
// nil if the header is absent or not valid base64.
func earlyData(r *http.Request) []byte {
	v := strings.TrimSpace(r.Header.Get(earlyDataHeader))
	if v == "" {
		return nil
	}
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(v, "="))
	if err != nil || len(b) == 0 {
		return nil
	}
	return b
}
