package okx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"

	"nakula/pkg/core"
)

// Production and sandbox endpoints. Sandbox REST reuses the production
// host with the simulated-trading header; only the websocket host
// differs.
const (
	restBaseURL = "https://www.okx.com"

	wsPublicURL  = "wss://ws.okx.com:8443/ws/v5/public"
	wsPrivateURL = "wss://ws.okx.com:8443/ws/v5/private"

	wsSandboxPublicURL  = "wss://wspap.okx.com:8443/ws/v5/public?brokerId=9999"
	wsSandboxPrivateURL = "wss://wspap.okx.com:8443/ws/v5/private?brokerId=9999"
)

// Exchange business codes that need dedicated handling.
const (
	codeOK               = "0"
	codeTooManyRequests  = "50011"
	codeTimestampExpired = "50102"
	codeInvalidAPIKey    = "50111"
	codeInvalidSign      = "50113"
	codeInstrumentGone   = "51001"
	codeChannelNotExist  = "60018"
)

// restEnvelope is the uniform REST response wrapper.
type restEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// parseEnvelope decodes a REST response body, folds in the HTTP status,
// and returns the data payload or a classified error.
func parseEnvelope(status int, body []byte) (json.RawMessage, error) {
	var env restEnvelope
	if err := sonic.Unmarshal(body, &env); err != nil {
		if status >= http.StatusInternalServerError {
			return nil, core.NewExchangeError(core.ErrorTypeServerError, "",
				fmt.Sprintf("http %d: %s", status, truncate(body, 200)))
		}
		return nil, core.NewExchangeError(core.ErrorTypeMalformedResponse, "",
			fmt.Sprintf("undecodable response: %v", err))
	}

	if env.Code == codeOK {
		return env.Data, nil
	}
	return nil, classifyBusinessError(status, env.Code, env.Msg)
}

// classifyBusinessError maps an exchange rejection to a typed error.
// The business code wins over the HTTP status; the status only breaks
// ties when the code is unrecognized.
func classifyBusinessError(status int, code, msg string) *core.ExchangeError {
	errType := core.ErrorTypeBadRequest

	switch code {
	case codeTooManyRequests:
		errType = core.ErrorTypeRateLimit
	case codeTimestampExpired, codeInvalidAPIKey, codeInvalidSign:
		errType = core.ErrorTypeAuthentication
	case codeInstrumentGone, codeChannelNotExist:
		errType = core.ErrorTypeInvalidInstrument
	default:
		switch {
		case status == http.StatusTooManyRequests:
			errType = core.ErrorTypeRateLimit
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			errType = core.ErrorTypeAuthentication
		case status >= http.StatusInternalServerError:
			errType = core.ErrorTypeServerError
		case strings.Contains(strings.ToLower(msg), "doesn't exist"):
			errType = core.ErrorTypeInvalidInstrument
		}
	}

	err := core.NewExchangeError(errType, code, msg)
	err.StatusCode = status
	return err
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// channelArg identifies one stream in subscribe frames and data pushes.
type channelArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId,omitempty"`
}

func (a channelArg) key() core.SubscriptionKey {
	return core.SubscriptionKey{Channel: core.Channel(a.Channel), InstID: a.InstID}
}

// wsRequest is an outbound operation frame (subscribe, unsubscribe,
// login).
type wsRequest struct {
	Op   string `json:"op"`
	Args []any  `json:"args"`
}

// wsEvent is an inbound acknowledgement or error frame.
type wsEvent struct {
	Event  string     `json:"event"`
	Arg    channelArg `json:"arg"`
	Code   string     `json:"code"`
	Msg    string     `json:"msg"`
	ConnID string     `json:"connId"`
}

// wsPush is an inbound data frame.
type wsPush struct {
	Arg    channelArg      `json:"arg"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// frameKind classifies inbound websocket frames.
type frameKind int

const (
	frameUnknown frameKind = iota
	// framePong is the bare "pong" text answering an application ping.
	framePong
	// frameEvent is an acknowledgement or error frame.
	frameEvent
	// frameData is a market data or account push.
	frameData
)

// classifyFrame inspects a raw inbound frame without fully decoding it.
func classifyFrame(data []byte) frameKind {
	if string(data) == "pong" {
		return framePong
	}
	if !strings.HasPrefix(strings.TrimLeft(string(data), " \t\r\n"), "{") {
		return frameUnknown
	}

	var probe struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := sonic.Unmarshal(data, &probe); err != nil {
		return frameUnknown
	}
	if probe.Event != "" {
		return frameEvent
	}
	if len(probe.Data) > 0 {
		return frameData
	}
	return frameUnknown
}
