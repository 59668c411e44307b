/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package sockaddr implements the tagged IPv4/IPv6 socket address union used
// throughout the reactor: parsing, formatting, comparison, extraction from a
// live file descriptor, and the small set of address predicates the server
// and connector need (unspecified port/ip, loopback, multicast).
package sockaddr

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/sabouaram/libsvx/socket/errs"
	"golang.org/x/sys/unix"
)

// Family identifies which member of the union is populated.
type Family int

const (
	// FamilyUnspec marks a zero-value Addr.
	FamilyUnspec Family = iota
	FamilyIPv4
	FamilyIPv6
)

// Addr is a tagged union over sockaddr_in / sockaddr_in6. Zero value is the
// unspecified address in the unspecified family.
type Addr struct {
	family Family
	ip     net.IP
	port   uint16
	zone   uint32 // sin6_scope_id, IPv6 only
}

// Family reports which address family this Addr holds.
func (a Addr) Family() Family { return a.family }

// IP returns the address's IP, in its native 4- or 16-byte form.
func (a Addr) IP() net.IP { return a.ip }

// Port returns the address's port in host byte order.
func (a Addr) Port() uint16 { return a.port }

// ScopeID returns the IPv6 zone index (sin6_scope_id), 0 for IPv4 or an
// address with no zone.
func (a Addr) ScopeID() uint32 { return a.zone }

// Parse builds an Addr from a numeric IP string and a port. An IPv6
// link-local zone suffix ("fe80::1%eth0") is resolved to its interface index
// and stored as sin6_scope_id. Hostnames are rejected: name resolution is out
// of scope for this package.
func Parse(ip string, port uint16) (Addr, error) {
	zone := ""
	if idx := strings.IndexByte(ip, '%'); idx >= 0 {
		zone = ip[idx+1:]
		ip = ip[:idx]
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Addr{}, errs.FormatError.Error(nil)
	}

	if v4 := parsed.To4(); v4 != nil {
		if zone != "" {
			return Addr{}, errs.FormatError.Error(nil)
		}
		return Addr{family: FamilyIPv4, ip: v4, port: port}, nil
	}

	v6 := parsed.To16()
	if v6 == nil {
		return Addr{}, errs.FormatError.Error(nil)
	}

	var scope uint32
	if zone != "" {
		if ifi, err := net.InterfaceByName(zone); err == nil {
			scope = uint32(ifi.Index)
		} else if n, err := strconv.Atoi(zone); err == nil && n >= 0 {
			scope = uint32(n)
		} else {
			return Addr{}, errs.FormatError.Error(nil)
		}
	}

	return Addr{family: FamilyIPv6, ip: v6, port: port, zone: scope}, nil
}

// String formats the address back to "[ip]:port" form for IPv6 (with a
// "%zone" suffix when scoped) and "ip:port" for IPv4.
func (a Addr) String() string {
	switch a.family {
	case FamilyIPv4:
		return net.JoinHostPort(a.ip.String(), strconv.Itoa(int(a.port)))
	case FamilyIPv6:
		host := a.ip.String()
		if a.zone != 0 {
			host = fmt.Sprintf("%s%%%d", host, a.zone)
		}
		return net.JoinHostPort(host, strconv.Itoa(int(a.port)))
	default:
		return ""
	}
}

// Compare orders two addresses by (family, ip, port). It returns a negative
// number, zero, or a positive number as a < b, a == b, or a > b.
//
// The original implementation compared a port to itself for inequality
// (`sin_port != sin_port`), which is always false and makes every pair of
// addresses compare port-equal regardless of their actual ports. That is
// fixed here: ports are compared against each other, not themselves. See
// DESIGN.md for the divergence.
func Compare(a, b Addr) int {
	if a.family != b.family {
		return int(a.family) - int(b.family)
	}
	if c := byteCompare(a.ip, b.ip); c != 0 {
		return c
	}
	if a.port != b.port {
		if a.port < b.port {
			return -1
		}
		return 1
	}
	return 0
}

func byteCompare(a, b net.IP) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return int(a[i]) - int(b[i])
		}
	}
	return len(a) - len(b)
}

// Equal reports whether two addresses compare equal under Compare.
func Equal(a, b Addr) bool { return Compare(a, b) == 0 }

// FromFD extracts the local (bound) or peer (connected) address of fd.
func FromFD(fd int, peer bool) (Addr, error) {
	var (
		sa  unix.Sockaddr
		err error
	)
	if peer {
		sa, err = unix.Getpeername(fd)
	} else {
		sa, err = unix.Getsockname(fd)
	}
	if err != nil {
		return Addr{}, err
	}

	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return Addr{family: FamilyIPv4, ip: net.IP(v.Addr[:]), port: uint16(v.Port)}, nil
	case *unix.SockaddrInet6:
		ip := make(net.IP, 16)
		copy(ip, v.Addr[:])
		return Addr{family: FamilyIPv6, ip: ip, port: uint16(v.Port), zone: v.ZoneId}, nil
	default:
		return Addr{}, errs.Unsupported.Error(nil)
	}
}

// IsUnspecifiedPort reports whether the port is 0 (let the kernel choose).
func (a Addr) IsUnspecifiedPort() bool { return a.port == 0 }

// IsUnspecifiedIP reports whether the IP is the all-zero wildcard address
// (0.0.0.0 or ::).
func (a Addr) IsUnspecifiedIP() bool { return a.ip.IsUnspecified() }

// IsLoopback reports whether the IP is a loopback address (127.0.0.0/8 or ::1).
func (a Addr) IsLoopback() bool { return a.ip.IsLoopback() }

// IsMulticast reports whether the IP is a multicast address.
func (a Addr) IsMulticast() bool { return a.ip.IsMulticast() }

// ToUnix converts Addr to the unix.Sockaddr needed to call Bind/Connect.
func (a Addr) ToUnix() (unix.Sockaddr, error) {
	switch a.family {
	case FamilyIPv4:
		var sa unix.SockaddrInet4
		copy(sa.Addr[:], a.ip.To4())
		sa.Port = int(a.port)
		return &sa, nil
	case FamilyIPv6:
		var sa unix.SockaddrInet6
		copy(sa.Addr[:], a.ip.To16())
		sa.Port = int(a.port)
		sa.ZoneId = a.zone
		return &sa, nil
	default:
		return nil, errs.Invalid.Error(nil)
	}
}
