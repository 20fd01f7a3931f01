package okx

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"

	"nakula/pkg/core"
)

// Request headers for authenticated REST calls.
const (
	headerAPIKey     = "OK-ACCESS-KEY"
	headerSignature  = "OK-ACCESS-SIGN"
	headerTimestamp  = "OK-ACCESS-TIMESTAMP"
	headerPassphrase = "OK-ACCESS-PASSPHRASE"
	// headerSimulated routes the request to the demo trading
	// environment. Set only in sandbox mode.
	headerSimulated = "x-simulated-trading"
)

// loginPath is the fixed path signed for the websocket login exchange.
const loginPath = "/users/self/verify"

// Sign computes the request signature: base64 of the HMAC-SHA256 of
// timestamp + upper-case method + path + body, keyed with the secret.
// For GET requests body must be empty, and path must include the query
// string exactly as sent on the wire.
func Sign(secret, timestamp, method, path, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte(method))
	mac.Write([]byte(path))
	mac.Write([]byte(body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// RestTimestamp formats a time the way REST signing requires:
// ISO-8601 UTC with millisecond precision.
func RestTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// LoginTimestamp formats a time the way the websocket login requires:
// unix epoch seconds as a decimal string.
func LoginTimestamp(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

// authHeaders builds the signed header set for one REST request.
// Method must already be upper case and canonicalPath must include the
// encoded query string.
func authHeaders(creds *core.Credentials, method, canonicalPath, body string, now time.Time) map[string]string {
	ts := RestTimestamp(now)
	return map[string]string{
		headerAPIKey:     creds.APIKey,
		headerSignature:  Sign(creds.SecretKey, ts, method, canonicalPath, body),
		headerTimestamp:  ts,
		headerPassphrase: creds.Passphrase,
	}
}

// loginArgs builds the argument object for the websocket login frame.
// The signature covers timestamp + "GET" + login path with an empty
// body.
func loginArgs(creds *core.Credentials, now time.Time) map[string]string {
	ts := LoginTimestamp(now)
	return map[string]string{
		"apiKey":     creds.APIKey,
		"passphrase": creds.Passphrase,
		"timestamp":  ts,
		"sign":       Sign(creds.SecretKey, ts, "GET", loginPath, ""),
	}
}
