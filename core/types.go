package core

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Method is the HTTP method of a request.
type Method string

// Supported request methods.
const (
	MethodGet    Method = http.MethodGet
	MethodPost   Method = http.MethodPost
	MethodPut    Method = http.MethodPut
	MethodDelete Method = http.MethodDelete
	MethodPatch  Method = http.MethodPatch
)

// Valid reports whether m is one of the supported methods.
func (m Method) Valid() bool {
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodDelete, MethodPatch:
		return true
	default:
		return false
	}
}

// idempotent reports whether a request with this method may be resent safely.
func (m Method) idempotent() bool {
	switch m {
	case MethodGet, MethodPut, MethodDelete:
		return true
	default:
		return false
	}
}

// AuthType selects which stored credential, if any, is attached to a request.
type AuthType int

const (
	// AuthNone sends the request without an Authorization header.
	AuthNone AuthType = iota
	// AuthAccess attaches the access token.
	AuthAccess
	// AuthRefresh attaches the refresh token.
	AuthRefresh
)

// String returns the lowercase name of the auth type.
func (a AuthType) String() string {
	switch a {
	case AuthNone:
		return "none"
	case AuthAccess:
		return "access"
	case AuthRefresh:
		return "refresh"
	default:
		return fmt.Sprintf("auth(%d)", int(a))
	}
}

// RequestSpec describes one call to Client.Execute.
//
// Body handling:
//   - nil sends no body
//   - []byte, json.RawMessage and string are sent as-is
//   - anything else is JSON-encoded
type RequestSpec struct {
	Method Method
	Auth   AuthType
	Path   string
	Body   any
}

// Response is a fully-read HTTP response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// JSON decodes the response body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// TokenPair is an access/refresh credential pair.
type TokenPair struct {
	Access  Secret
	Refresh Secret
}

// Complete reports whether both tokens are present.
func (p TokenPair) Complete() bool {
	return !p.Access.IsEmpty() && !p.Refresh.IsEmpty()
}

// encodeBody converts a request body into wire bytes.
func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return json.Marshal(b)
	}
}

// joinPath prefixes root onto path, normalising slashes.
func joinPath(root, path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimSuffix(root, "/") + path
}
