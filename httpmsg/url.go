//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: _examples/original_source/cpp-http/include/http/common.hpp (struct url)
//

// Package httpmsg implements the shared HTTP data model — [URL],
// [Request], [Response] — consumed by both the http1 and http2 engines.
package httpmsg

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

// defaultPorts maps a schema to the port implied when none is given
// explicitly.
var defaultPorts = map[string]uint16{
	"http":  80,
	"https": 443,
}

// URL is the Go rendering of the original's `http::url`: a decomposed
// HTTP URL, distinguishing a full absolute URL (Connect side) from a
// bare request-target (Accept side, what a server actually reads off
// the wire).
type URL struct {
	Schema   string
	Host     string
	Port     uint16
	Path     string
	Query    string
	Fragment string
}

// ParseFull parses an absolute URL such as "https://example.com/a?b#c".
// The host is normalized to ASCII via punycode ([idna.ToASCII]) so
// internationalized hostnames round-trip through [Request.String] and
// back out through a TCP connect.
func ParseFull(raw string) (*URL, error) {
	u := &URL{Schema: "http", Path: "/"}

	rest := raw
	if idx := strings.Index(rest, "://"); idx >= 0 {
		u.Schema = strings.ToLower(rest[:idx])
		rest = rest[idx+3:]
	}

	authority := rest
	if idx := strings.IndexAny(rest, "/?#"); idx >= 0 {
		authority = rest[:idx]
		rest = rest[idx:]
	} else {
		rest = ""
	}

	host, port, err := splitAuthority(authority, u.Schema)
	if err != nil {
		return nil, fmt.Errorf("httpmsg: invalid URL %q: %w", raw, err)
	}
	asciiHost, err := idna.ToASCII(host)
	if err != nil {
		asciiHost = host
	}
	u.Host = asciiHost
	u.Port = port

	if rest == "" {
		return u, nil
	}
	parseRequestTargetInto(u, rest)
	return u, nil
}

// ParseRequestTarget parses a bare request-target such as
// "/a?b#c" or "*", the form an HTTP/1 request-line or an HTTP/2
// ":path" pseudo-header carries. Host and Port are left empty/zero;
// the caller (typically the Accept-side handler) fills them in from
// the ":authority" pseudo-header or "Host" header separately.
func ParseRequestTarget(raw string) *URL {
	u := &URL{Schema: "http", Path: "/"}
	parseRequestTargetInto(u, raw)
	return u
}

func parseRequestTargetInto(u *URL, raw string) {
	path := raw
	query := ""
	fragment := ""

	if idx := strings.Index(path, "#"); idx >= 0 {
		fragment = path[idx+1:]
		path = path[:idx]
	}
	if idx := strings.Index(path, "?"); idx >= 0 {
		query = path[idx+1:]
		path = path[:idx]
	}
	if path == "" {
		path = "/"
	}

	u.Path = path
	u.Query = query
	u.Fragment = fragment
}

func splitAuthority(authority, schema string) (host string, port uint16, err error) {
	port = defaultPorts[schema]
	if authority == "" {
		return "", port, nil
	}

	host = authority
	if idx := strings.LastIndex(authority, ":"); idx >= 0 && !strings.Contains(authority[idx:], "]") {
		host = authority[:idx]
		portStr := authority[idx+1:]
		n, convErr := strconv.ParseUint(portStr, 10, 16)
		if convErr != nil {
			return "", 0, fmt.Errorf("invalid port %q: %w", portStr, convErr)
		}
		port = uint16(n)
	}
	host = strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")
	return host, port, nil
}

// FullPath renders Path, optionally suffixed with "?query" and
// "#fragment", matching the original's `fullpath()`.
func (u *URL) FullPath() string {
	var b strings.Builder
	b.WriteString(u.Path)
	if u.Query != "" {
		b.WriteString("?")
		b.WriteString(u.Query)
	}
	if u.Fragment != "" {
		b.WriteString("#")
		b.WriteString(u.Fragment)
	}
	return b.String()
}

// String renders the absolute form when Host is set (authority plus
// FullPath, omitting the port when it matches the schema's default),
// or just FullPath for a bare request-target.
func (u *URL) String() string {
	var b strings.Builder
	if u.Host != "" {
		b.WriteString(u.Schema)
		b.WriteString("://")
		b.WriteString(u.Host)
		if u.Port != 0 && u.Port != defaultPorts[u.Schema] {
			b.WriteString(":")
			b.WriteString(strconv.Itoa(int(u.Port)))
		}
	}
	b.WriteString(u.FullPath())
	return b.String()
}
