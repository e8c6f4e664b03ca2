//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: _examples/original_source/cpp-uv/include/uvpp/dns.hpp
//

// Package dnsresolve implements asynchronous name resolution on top of
// [loop.Work], the Go analogue of the original's libuv `uv_getaddrinfo`
// wrapper.
package dnsresolve

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/bassosimone/loopnet/errclass"
	"github.com/bassosimone/loopnet/loop"
	"github.com/bassosimone/loopnet/task"
)

// DnsError reports a resolution failure in a form suitable for
// structured logging: a short classification code plus the underlying
// resolver message.
type DnsError struct {
	// Code classifies the failure (see [errclass]).
	Code string

	// Text is the underlying resolver error message.
	Text string
}

// Error implements error.
func (e *DnsError) Error() string {
	return fmt.Sprintf("dnsresolve: %s: %s", e.Code, e.Text)
}

// GetAddrInfo resolves node (a hostname or literal address) and service
// (a service name or numeric port) into zero or more [netip.AddrPort]
// values, using [net.DefaultResolver] executed on [loop.Work] — Go's
// resolver is blocking, exactly the niche libuv's DNS thread-pool plugin
// fills.
func GetAddrInfo(l *loop.Loop, node, service string) *task.Task[[]netip.AddrPort] {
	return loop.Work(l, func() ([]netip.AddrPort, error) {
		return resolve(node, service)
	})
}

func resolve(node, service string) ([]netip.AddrPort, error) {
	port, err := net.DefaultResolver.LookupPort(context.Background(), "tcp", service)
	if err != nil {
		return nil, &DnsError{Code: errclass.New(err), Text: err.Error()}
	}

	ips, err := net.DefaultResolver.LookupNetIP(context.Background(), "ip", node)
	if err != nil {
		return nil, &DnsError{Code: errclass.New(err), Text: err.Error()}
	}

	out := make([]netip.AddrPort, 0, len(ips))
	for _, ip := range ips {
		out = append(out, netip.AddrPortFrom(ip, uint16(port)))
	}
	return out, nil
}
