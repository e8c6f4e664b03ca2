//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: _examples/original_source/cpp-http/include/http/common.hpp (struct request, struct response)
//

package httpmsg

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Header is a case-insensitive, last-write-wins header map: keys are
// normalized to lower-case on ingest, matching §3's "header lookup is
// lower-case normalized on ingest."
type Header map[string]string

// Set stores value under the lower-cased key, overwriting any previous
// value for that key.
func (h Header) Set(key, value string) {
	h[strings.ToLower(key)] = value
}

// Get returns the value stored for key (case-insensitively), or "" if
// absent.
func (h Header) Get(key string) string {
	return h[strings.ToLower(key)]
}

// sortedKeys returns h's keys in sorted order, for deterministic wire
// stringification.
func (h Header) sortedKeys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Request is the Go rendering of the original's `http::request`.
type Request struct {
	VersionMajor int
	VersionMinor int
	Method       string
	URL          *URL
	Headers      Header
	Body         []byte
}

// NewRequest returns a [*Request] with the given method (GET when
// method is empty), HTTP/1.1, and an empty [Header] map, matching §4.H's
// request-mode defaults.
func NewRequest(method string, url *URL) *Request {
	if method == "" {
		method = http.MethodGet
	}
	return &Request{
		VersionMajor: 1,
		VersionMinor: 1,
		Method:       method,
		URL:          url,
		Headers:      Header{},
	}
}

// String renders r in HTTP/1.1 wire form: request-line, headers (Host
// included only if present in Headers), a blank line, and the body.
func (r *Request) String() string {
	var b strings.Builder

	target := r.URL
	fmt.Fprintf(&b, "%s %s HTTP/%d.%d\r\n", r.Method, target.FullPath(), r.VersionMajor, r.VersionMinor)

	for _, k := range r.Headers.sortedKeys() {
		fmt.Fprintf(&b, "%s: %s\r\n", k, r.Headers[k])
	}
	b.WriteString("\r\n")
	if len(r.Body) > 0 {
		b.Write(r.Body)
	}
	return b.String()
}

// Response is the Go rendering of the original's `http::response`.
type Response struct {
	VersionMajor int
	VersionMinor int
	Status       int
	Headers      Header
	Body         []byte
	Upgrade      bool
}

// NewResponse returns a [*Response] with the given status, HTTP/1.1,
// and an empty [Header] map.
func NewResponse(status int) *Response {
	return &Response{
		VersionMajor: 1,
		VersionMinor: 1,
		Status:       status,
		Headers:      Header{},
	}
}

// Success reports whether Status is in the 2xx range, matching the
// original's `operator bool()`.
func (r *Response) Success() bool {
	return r.Status >= 200 && r.Status < 300
}

// String renders r in HTTP/1.1 wire form: status-line, headers, a blank
// line, and the body.
func (r *Response) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "HTTP/%d.%d %d %s\r\n", r.VersionMajor, r.VersionMinor, r.Status, http.StatusText(r.Status))
	for _, k := range r.Headers.sortedKeys() {
		fmt.Fprintf(&b, "%s: %s\r\n", k, r.Headers[k])
	}
	b.WriteString("\r\n")
	if len(r.Body) > 0 {
		b.Write(r.Body)
	}
	return b.String()
}
