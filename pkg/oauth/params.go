package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"math"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Params holds additional request or response parameters.
//
// On requests, keys that collide with a normative parameter of that request
// (such as "state" or "code_challenge") are dropped at construction:
// normative fields always win.
type Params map[string]string

// without returns a copy of p minus the reserved keys.
func (p Params) without(reserved []string) Params {
	if len(p) == 0 {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		if slices.Contains(reserved, k) {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// DroppedKeys returns the keys of p that are missing from kept, sorted.
// Comparing configured parameters with a request's AdditionalParameters
// yields the keys the request dropped because they collide with a normative
// parameter.
func (p Params) DroppedKeys(kept Params) []string {
	var keys []string
	for k := range p {
		if _, ok := kept[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

// JoinScopes joins scopes into a space-delimited string, preserving order.
// Duplicates are kept.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// HasScope reports whether the space-delimited scope string contains s.
func HasScope(scope, s string) bool {
	return slices.Contains(strings.Fields(scope), s)
}

// HTTPRequest is a transport-neutral description of a request to a
// provider endpoint. Exactly one of Form and JSON is set for POST requests.
type HTTPRequest struct {
	Method string
	URL    string
	Header http.Header
	Form   url.Values
	JSON   []byte
}

// NewRequest turns the description into an *http.Request.
func (r *HTTPRequest) NewRequest(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	header := r.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	switch {
	case r.JSON != nil:
		body = bytes.NewReader(r.JSON)
		header.Set("Content-Type", "application/json")
	case r.Form != nil:
		body = strings.NewReader(r.Form.Encode())
		header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if header.Get("Accept") == "" {
		header.Set("Accept", "application/json")
	}
	req.Header = header
	return req, nil
}

// queryParam is one key/value pair of an ordered query string.
type queryParam struct {
	key   string
	value string
}

// buildQueryURL appends params to endpoint, keeping any query the endpoint
// already carries. Empty values are skipped and spaces encode as %20.
func buildQueryURL(endpoint string, params []queryParam, additional Params) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}

	var parts []string
	if u.RawQuery != "" {
		parts = append(parts, u.RawQuery)
	}
	for _, p := range params {
		if p.value == "" {
			continue
		}
		parts = append(parts, queryEscape(p.key)+"="+queryEscape(p.value))
	}
	for _, k := range slices.Sorted(maps.Keys(additional)) {
		parts = append(parts, queryEscape(k)+"="+queryEscape(additional[k]))
	}

	u.RawQuery = strings.Join(parts, "&")
	return u.String(), nil
}

func queryEscape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// paramsFromURL extracts redirect parameters from the query, falling back to
// the fragment for implicit-style responses.
func paramsFromURL(u *url.URL) (Params, error) {
	raw := u.RawQuery
	if raw == "" {
		raw = u.Fragment
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect parameters: %w", err)
	}
	params := make(Params, len(values))
	for k, v := range values {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return params, nil
}

// maxSeconds is the largest second count a time.Duration can hold.
const maxSeconds = math.MaxInt64 / int64(time.Second)

// expiresInSeconds reads an "expires_in" style value, which providers send as
// either a JSON number or a numeric string. Negative values and values too
// large for a time.Duration are rejected.
func expiresInSeconds(v any) (int64, bool) {
	var (
		seconds int64
		err     error
	)
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || n < 0 || n > float64(maxSeconds) {
			return 0, false
		}
		seconds = int64(n)
	case int:
		seconds = int64(n)
	case int64:
		seconds = n
	case json.Number:
		seconds, err = n.Int64()
	case string:
		seconds, err = strconv.ParseInt(n, 10, 64)
	default:
		return 0, false
	}
	if err != nil || seconds < 0 || seconds > maxSeconds {
		return 0, false
	}
	return seconds, true
}

// withoutKeys returns a copy of m minus the given keys.
func withoutKeys(m map[string]any, keys ...string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if slices.Contains(keys, k) {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
