// Package ipmatch provides pure, side-effect-free IP address matching used by
// the allow/deny list store on every authentication attempt. All matching
// functions return false on malformed input rather than an error: a value that
// cannot be parsed must never accidentally match a list entry.
package ipmatch

import (
	"encoding/binary"
	"errors"
	"net"
	"strconv"
	"strings"

	netaddr "github.com/dspinhirne/netaddr-go"
)

// ErrInvalidFormat is returned by Normalize and ClassifyRange for input that
// is not a parseable address or range
var ErrInvalidFormat = errors.New("ipmatch: invalid address or range format")

// RangeType classifies how a list entry's value is matched
type RangeType string

const (
	RangeSingle   RangeType = "single"
	RangeCIDR     RangeType = "cidr"
	RangeDash     RangeType = "range"
	RangeWildcard RangeType = "wildcard"
)

// reservedBlocks covers the standard private, loopback, link-local, multicast
// and reserved IPv4 ranges
var reservedBlocks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"224.0.0.0/4",
	"240.0.0.0/4",
	"0.0.0.0/8",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}

// Normalize trims whitespace, strips a port suffix from IPv4-style "host:port"
// input and validates the result as an IP address
func Normalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrInvalidFormat
	}

	// "1.2.3.4:8080" carries a port; bare IPv6 contains multiple colons and
	// must not be split
	if strings.Count(s, ":") == 1 && strings.Contains(s, ".") {
		if host, _, err := net.SplitHostPort(s); err == nil {
			s = host
		}
	}

	ip := net.ParseIP(s)
	if ip == nil {
		return "", ErrInvalidFormat
	}

	return ip.String(), nil
}

// InCIDR reports whether ip falls inside the given CIDR block. IPv4 uses a
// 32-bit mask comparison; IPv6 compares the leading prefix bits of the
// expanded 128-bit form. Malformed input never errors, it simply does not match.
func InCIDR(ip, cidr string) bool {
	parts := strings.SplitN(cidr, "/", 2)
	if len(parts) != 2 {
		return false
	}

	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return false
	}

	if v4 := parsed.To4(); v4 != nil {
		return inCIDR4(v4, parts[0], parts[1])
	}

	return inCIDR6(ip, cidr)
}

func inCIDR4(ip net.IP, subnet, prefix string) bool {
	subnetIP := net.ParseIP(strings.TrimSpace(subnet))
	if subnetIP == nil {
		return false
	}
	subnet4 := subnetIP.To4()
	if subnet4 == nil {
		return false
	}

	prefixLen, err := strconv.Atoi(strings.TrimSpace(prefix))
	if err != nil || prefixLen < 0 || prefixLen > 32 {
		return false
	}

	var mask uint32
	if prefixLen > 0 {
		mask = ^uint32(0) << (32 - prefixLen)
	}

	return binary.BigEndian.Uint32(ip)&mask == binary.BigEndian.Uint32(subnet4)&mask
}

func inCIDR6(ip, cidr string) bool {
	network, err := netaddr.ParseIPv6Net(strings.TrimSpace(cidr))
	if err != nil {
		return false
	}

	addr, err := netaddr.ParseIPv6(strings.TrimSpace(ip))
	if err != nil {
		return false
	}

	return network.Contains(addr)
}

// InDashRange reports whether ip falls inside an IPv4 "start-end" range.
// IPv6 dash ranges are unsupported and never match.
func InDashRange(ip, dashRange string) bool {
	parts := strings.SplitN(dashRange, "-", 2)
	if len(parts) != 2 {
		return false
	}

	target, ok := ipv4ToUint32(ip)
	if !ok {
		return false
	}
	start, ok := ipv4ToUint32(parts[0])
	if !ok {
		return false
	}
	end, ok := ipv4ToUint32(parts[1])
	if !ok {
		return false
	}

	if start > end {
		start, end = end, start
	}

	return target >= start && target <= end
}

// MatchesWildcard reports whether ip matches an IPv4 pattern whose octets may
// contain "*" to match any value, e.g. "192.168.1.*". IPv6 wildcards are
// unsupported and never match.
func MatchesWildcard(ip, pattern string) bool {
	ipOctets := strings.Split(strings.TrimSpace(ip), ".")
	patOctets := strings.Split(strings.TrimSpace(pattern), ".")
	if len(ipOctets) != 4 || len(patOctets) != 4 {
		return false
	}

	if _, ok := ipv4ToUint32(ip); !ok {
		return false
	}

	for i, pat := range patOctets {
		if pat == "*" {
			continue
		}
		want, err := strconv.Atoi(pat)
		if err != nil || want < 0 || want > 255 {
			return false
		}
		got, err := strconv.Atoi(ipOctets[i])
		if err != nil || got != want {
			return false
		}
	}

	return true
}

// IsReserved reports whether ip falls in a private, loopback, link-local,
// multicast or otherwise reserved IPv4 block
func IsReserved(ip string) bool {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return false
	}
	v4 := parsed.To4()
	if v4 == nil {
		return false
	}

	for _, block := range reservedBlocks {
		if block.Contains(v4) {
			return true
		}
	}
	return false
}

// ClassifyRange determines how a list entry's value should be matched and
// validates it. Wildcards and dash ranges are IPv4 only.
func ClassifyRange(value string) (RangeType, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", ErrInvalidFormat
	}

	switch {
	case strings.Contains(v, "/"):
		if !validCIDR(v) {
			return "", ErrInvalidFormat
		}
		return RangeCIDR, nil

	case strings.Contains(v, "-"):
		parts := strings.SplitN(v, "-", 2)
		if _, ok := ipv4ToUint32(parts[0]); !ok {
			return "", ErrInvalidFormat
		}
		if _, ok := ipv4ToUint32(parts[1]); !ok {
			return "", ErrInvalidFormat
		}
		return RangeDash, nil

	case strings.Contains(v, "*"):
		if !validWildcard(v) {
			return "", ErrInvalidFormat
		}
		return RangeWildcard, nil

	default:
		if net.ParseIP(v) == nil {
			return "", ErrInvalidFormat
		}
		return RangeSingle, nil
	}
}

// Matches dispatches ip against value according to its range type. Used by the
// list store's membership check.
func Matches(ip, value string, rangeType RangeType) bool {
	switch rangeType {
	case RangeSingle:
		a := net.ParseIP(strings.TrimSpace(ip))
		b := net.ParseIP(strings.TrimSpace(value))
		return a != nil && b != nil && a.Equal(b)
	case RangeCIDR:
		return InCIDR(ip, value)
	case RangeDash:
		return InDashRange(ip, value)
	case RangeWildcard:
		return MatchesWildcard(ip, value)
	}
	return false
}

func validCIDR(v string) bool {
	parts := strings.SplitN(v, "/", 2)
	if len(parts) != 2 {
		return false
	}
	ip := net.ParseIP(strings.TrimSpace(parts[0]))
	if ip == nil {
		return false
	}
	prefixLen, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return false
	}
	if ip.To4() != nil {
		return prefixLen >= 0 && prefixLen <= 32
	}
	return prefixLen >= 0 && prefixLen <= 128
}

func validWildcard(v string) bool {
	octets := strings.Split(v, ".")
	if len(octets) != 4 {
		return false
	}
	for _, o := range octets {
		if o == "*" {
			continue
		}
		n, err := strconv.Atoi(o)
		if err != nil || n < 0 || n > 255 {
			return false
		}
	}
	return true
}

func ipv4ToUint32(s string) (uint32, bool) {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return 0, false
	}
	v4 := ip.To4()
	if v4 == nil {
		return 0, false
	}
	return binary.BigEndian.Uint32(v4), true
}
