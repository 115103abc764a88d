package seamless

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// RouteTag is the fixed route component of the pushbetdata signature.
const RouteTag = "pushbetdata"

// Sign returns the lowercase hex digest the provider is expected to send.
func Sign(operatorCode, requestTime, secret string) string {
	sum := md5.Sum([]byte(operatorCode + requestTime + RouteTag + secret))
	return hex.EncodeToString(sum[:])
}

// VerifySign compares a provided signature case-insensitively.
func VerifySign(provided, operatorCode, requestTime, secret string) bool {
	expected := Sign(operatorCode, requestTime, secret)
	got := strings.ToLower(strings.TrimSpace(provided))
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}
