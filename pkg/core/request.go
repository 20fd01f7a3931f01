package core

import (
	"net/url"
	"sort"
	"strings"
)

// Category classifies REST endpoints for rate limit accounting.
type Category int

// Rate limit categories. Each category owns independent capacity.
const (
	// CategoryPublic covers unauthenticated endpoints.
	CategoryPublic Category = iota
	// CategoryMarketData covers /market/ endpoints.
	CategoryMarketData
	// CategoryPrivateAccount covers authenticated account endpoints.
	CategoryPrivateAccount
	// CategoryPrivateTrade covers order placement and cancellation.
	CategoryPrivateTrade
)

// String returns the string representation of the category.
func (c Category) String() string {
	return [...]string{"public", "market_data", "private_account", "private_trade"}[c]
}

// ClassifyEndpoint maps an API path to its rate limit category.
func ClassifyEndpoint(path string) Category {
	switch {
	case strings.Contains(path, "/trade/order") || strings.Contains(path, "/trade/cancel"):
		return CategoryPrivateTrade
	case strings.Contains(path, "/account/") || strings.Contains(path, "/trade/"):
		return CategoryPrivateAccount
	case strings.Contains(path, "/market/"):
		return CategoryMarketData
	default:
		return CategoryPublic
	}
}

// RequestSpec describes one logical REST call. It is a value type,
// constructed per call and never shared.
type RequestSpec struct {
	// Method is the HTTP method.
	Method string `json:"method"`
	// Path is the endpoint path (e.g., "/api/v5/market/ticker").
	Path string `json:"path"`
	// Query holds query parameters; empty values are dropped.
	Query map[string]string `json:"query,omitempty"`
	// Body is the optional JSON request body.
	Body any `json:"body,omitempty"`
	// Private marks requests that must be signed.
	Private bool `json:"private"`
}

// NewRequest creates a RequestSpec for the given method and path.
func NewRequest(method, path string) *RequestSpec {
	return &RequestSpec{
		Method: method,
		Path:   path,
		Query:  make(map[string]string),
	}
}

// SetQuery adds a query parameter. Empty values are recorded and later
// dropped when the canonical path is built.
func (r *RequestSpec) SetQuery(key, value string) *RequestSpec {
	if r.Query == nil {
		r.Query = make(map[string]string)
	}
	r.Query[key] = value
	return r
}

// SetBody sets the JSON request body.
func (r *RequestSpec) SetBody(body any) *RequestSpec {
	r.Body = body
	return r
}

// SetPrivate marks the request as requiring a signature.
func (r *RequestSpec) SetPrivate() *RequestSpec {
	r.Private = true
	return r
}

// Category returns the rate limit category for this request.
func (r *RequestSpec) Category() Category {
	return ClassifyEndpoint(r.Path)
}

// CanonicalPath returns the path plus encoded query string with empty
// values filtered out, in sorted key order. This exact string is what
// gets signed, so it must match what is sent on the wire.
func (r *RequestSpec) CanonicalPath() string {
	if len(r.Query) == 0 {
		return r.Path
	}

	keys := make([]string, 0, len(r.Query))
	for k, v := range r.Query {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return r.Path
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(r.Path)
	sb.WriteByte('?')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(k))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(r.Query[k]))
	}
	return sb.String()
}

// FilteredQuery returns the query parameters with empty values removed.
func (r *RequestSpec) FilteredQuery() map[string]string {
	out := make(map[string]string, len(r.Query))
	for k, v := range r.Query {
		if v != "" {
			out[k] = v
		}
	}
	return out
}
