package okx

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nakula/pkg/core"
)

func TestParseEnvelope_Success(t *testing.T) {
	body := []byte(`{"code":"0","msg":"","data":[{"instId":"BTC-USDT"}]}`)

	data, err := parseEnvelope(http.StatusOK, body)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"instId":"BTC-USDT"}]`, string(data))
}

func TestParseEnvelope_RateLimit(t *testing.T) {
	body := []byte(`{"code":"50011","msg":"Too Many Requests","data":[]}`)

	_, err := parseEnvelope(http.StatusOK, body)
	require.Error(t, err)
	assert.True(t, core.IsRateLimitError(err))
}

func TestParseEnvelope_AuthCodes(t *testing.T) {
	for _, code := range []string{"50102", "50111", "50113"} {
		body := []byte(`{"code":"` + code + `","msg":"rejected","data":[]}`)
		_, err := parseEnvelope(http.StatusUnauthorized, body)
		require.Error(t, err, code)
		assert.True(t, core.IsAuthenticationError(err), code)
	}
}

func TestParseEnvelope_InvalidInstrument(t *testing.T) {
	body := []byte(`{"code":"51001","msg":"Instrument ID doesn't exist","data":[]}`)

	_, err := parseEnvelope(http.StatusOK, body)
	require.Error(t, err)
	assert.True(t, core.IsInvalidInstrumentError(err))
}

func TestParseEnvelope_Malformed(t *testing.T) {
	_, err := parseEnvelope(http.StatusOK, []byte(`<html>not json</html>`))
	require.Error(t, err)

	var exErr *core.ExchangeError
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, core.ErrorTypeMalformedResponse, exErr.Type)
}

func TestParseEnvelope_ServerErrorWithHTMLBody(t *testing.T) {
	_, err := parseEnvelope(http.StatusBadGateway, []byte(`<html>502</html>`))
	require.Error(t, err)

	var exErr *core.ExchangeError
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, core.ErrorTypeServerError, exErr.Type)
}

func TestClassifyBusinessError_StatusFallback(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   string
		msg    string
		want   core.ErrorType
	}{
		{"http 429 unknown code", http.StatusTooManyRequests, "99999", "slow down", core.ErrorTypeRateLimit},
		{"http 401 unknown code", http.StatusUnauthorized, "99999", "denied", core.ErrorTypeAuthentication},
		{"http 500 unknown code", http.StatusInternalServerError, "99999", "boom", core.ErrorTypeServerError},
		{"message sniffing", http.StatusOK, "99999", "Instrument doesn't exist", core.ErrorTypeInvalidInstrument},
		{"plain bad request", http.StatusBadRequest, "99999", "bad param", core.ErrorTypeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyBusinessError(tt.status, tt.code, tt.msg)
			assert.Equal(t, tt.want, err.Type)
			assert.Equal(t, tt.status, err.StatusCode)
			assert.Equal(t, tt.code, err.Code)
		})
	}
}

func TestClassifyFrame(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  frameKind
	}{
		{"pong", "pong", framePong},
		{"subscribe ack", `{"event":"subscribe","arg":{"channel":"tickers","instId":"BTC-USDT"}}`, frameEvent},
		{"error event", `{"event":"error","code":"60018","msg":"channel doesn't exist"}`, frameEvent},
		{"login ack", `{"event":"login","code":"0","connId":"abc"}`, frameEvent},
		{"data push", `{"arg":{"channel":"tickers","instId":"BTC-USDT"},"data":[{"last":"43000"}]}`, frameData},
		{"garbage", "not json at all", frameUnknown},
		{"empty object", `{}`, frameUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyFrame([]byte(tt.frame)))
		})
	}
}

func TestChannelArgKey(t *testing.T) {
	arg := channelArg{Channel: "tickers", InstID: "ETH-USDT-SWAP"}
	key := arg.key()

	assert.Equal(t, core.ChannelTickers, key.Channel)
	assert.Equal(t, "ETH-USDT-SWAP", key.InstID)
	assert.Equal(t, "tickers:ETH-USDT-SWAP", key.String())
}
