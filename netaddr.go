// SPDX-License-Identifier: GPL-3.0-or-later

package gensio

import (
	"context"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// Protocol is the transport protocol selected by a network descriptor.
type Protocol int

// Supported protocols.
const (
	ProtocolTCP Protocol = iota + 1
	ProtocolUDP
	ProtocolSCTP
)

// String returns the protocol name used in descriptors.
func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "tcp"
	case ProtocolUDP:
		return "udp"
	case ProtocolSCTP:
		return "sctp"
	default:
		return "invalid"
	}
}

// Addr is one resolved network address.
type Addr struct {
	netip.AddrPort

	// V4Mapped is set when an IPv4 address was mapped into IPv6
	// because the descriptor asked for "ipv6n4".
	V4Mapped bool
}

// String returns the address in descriptor form, "<ip>,<port>".
func (a Addr) String() string {
	return a.Addr().String() + "," + strconv.Itoa(int(a.Port()))
}

// AddrsToString joins addresses in descriptor form. The result parses
// back into the same list.
func AddrsToString(addrs []Addr) string {
	parts := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		parts = append(parts, addr.String())
	}
	return strings.Join(parts, ",")
}

// AddrEqual reports whether two addresses have the same family and IP,
// and the same port when comparePorts is set.
func AddrEqual(a1, a2 Addr, comparePorts bool) bool {
	if a1.Addr().Is4() != a2.Addr().Is4() {
		return false
	}
	if comparePorts && a1.Port() != a2.Port() {
		return false
	}
	return a1.Addr() == a2.Addr()
}

// NetSpec is the result of scanning a network descriptor.
type NetSpec struct {
	// Protocol is the selected protocol, [ProtocolTCP] by default.
	Protocol Protocol

	// Addrs contains every resolved address in descriptor order.
	Addrs []Addr

	// PortSet is true when the addresses carry an explicit nonzero port.
	PortSet bool

	// Args contains the arguments of a "tcp(...)" style protocol selector.
	Args []string
}

type addrFamily int

const (
	familyAny addrFamily = iota
	familyIPv4
	familyIPv6
)

// scanFamily strips an "ipv4," or "ipv6," prefix.
func scanFamily(str string) (string, addrFamily) {
	switch {
	case strings.HasPrefix(str, "ipv4,"):
		return str[5:], familyIPv4
	case strings.HasPrefix(str, "ipv6,"):
		return str[5:], familyIPv6
	}
	return str, familyAny
}

// ScanNetworkPort scans "[ipv4,|ipv6,][tcp,|udp,|sctp,]<addresses>".
//
// When allowArgs is set the protocol may also be written "tcp(args)".
// The listen flag selects wildcard rather than loopback addresses for
// a missing host.
func ScanNetworkPort(cfg *Config, str string, listen, allowArgs bool) (*NetSpec, error) {
	str, family := scanFamily(str)

	spec := &NetSpec{Protocol: ProtocolTCP}
	for _, proto := range []Protocol{ProtocolTCP, ProtocolUDP, ProtocolSCTP} {
		name := proto.String()
		if !strings.HasPrefix(str, name) || len(str) == len(name) {
			continue
		}
		next := str[len(name)]
		if next != ',' && (next != '(' || !allowArgs) {
			continue
		}
		spec.Protocol = proto
		rest, args, err := ScanArgs(str[len(name):])
		if err != nil {
			return nil, err
		}
		str, spec.Args = rest, args
		break
	}

	addrs, portSet, err := scanIPs(cfg, str, listen, family, spec.Protocol)
	if err != nil {
		return nil, err
	}
	spec.Addrs, spec.PortSet = addrs, portSet
	return spec, nil
}

// ScanNetAddr scans "[ipv4,|ipv6,]<addresses>" for a known protocol.
func ScanNetAddr(cfg *Config, str string, listen bool, proto Protocol) ([]Addr, error) {
	str, family := scanFamily(str)
	addrs, _, err := scanIPs(cfg, str, listen, family, proto)
	return addrs, err
}

// scanIPs resolves a comma separated list of "[family,][host,]port" items.
//
// Either every item has an explicit nonzero port or none has. A single
// token is a port with a wildcard host. Empty tokens are skipped.
func scanIPs(cfg *Config, str string, listen bool, ifamily addrFamily, proto Protocol) ([]Addr, bool, error) {
	var tokens []string
	for _, token := range strings.Split(str, ",") {
		if token != "" {
			tokens = append(tokens, token)
		}
	}

	var (
		out     []Addr
		portSet bool
	)
	for idx := 0; idx < len(tokens); {
		family, mapped := ifamily, false
		switch tokens[idx] {
		case "ipv4":
			family = familyIPv4
			idx++
		case "ipv6":
			family = familyIPv6
			idx++
		case "ipv6n4":
			family, mapped = familyIPv6, true
			idx++
		}
		if idx >= len(tokens) {
			return nil, false, ErrInvalid
		}

		var host, port string
		if idx+1 < len(tokens) {
			host, port = tokens[idx], tokens[idx+1]
			idx += 2
		} else {
			port = tokens[idx]
			idx++
		}

		addrs, err := resolveHostPort(cfg, host, port, listen, family, mapped, proto)
		if err != nil {
			return nil, false, err
		}
		hasPort := addrs[0].Port() != 0
		if len(out) == 0 {
			portSet = hasPort
		} else if hasPort != portSet {
			return nil, false, ErrInconsistent
		}
		out = append(out, addrs...)
	}

	if len(out) == 0 {
		return nil, false, ErrNotFound
	}
	return out, portSet, nil
}

// resolveHostPort resolves one host and port into at least one address.
func resolveHostPort(cfg *Config, host, port string, listen bool,
	family addrFamily, mapped bool, proto Protocol) ([]Addr, error) {
	portnum, err := resolvePort(cfg, port, proto)
	if err != nil {
		return nil, err
	}

	var ips []netip.Addr
	switch {
	case host == "" && listen && family == familyIPv6:
		ips = []netip.Addr{netip.IPv6Unspecified()}
	case host == "" && listen:
		ips = []netip.Addr{netip.IPv4Unspecified()}
	case host == "" && family == familyIPv6:
		ips = []netip.Addr{netip.IPv6Loopback()}
	case host == "":
		ips = []netip.Addr{netip.AddrFrom4([4]byte{127, 0, 0, 1})}
	default:
		if ip, perr := netip.ParseAddr(host); perr == nil {
			ips = []netip.Addr{ip}
			break
		}
		network := "ip"
		switch {
		case family == familyIPv4:
			network = "ip4"
		case family == familyIPv6 && !mapped:
			network = "ip6"
		}
		ips, err = cfg.Resolver.LookupNetIP(context.Background(), network, host)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}

	var out []Addr
	for _, ip := range filterFamily(ips, family, mapped) {
		addr := Addr{AddrPort: netip.AddrPortFrom(ip, portnum)}
		if mapped && ip.Is4In6() {
			addr.V4Mapped = true
		}
		out = append(out, addr)
	}
	if len(out) == 0 {
		return nil, ErrInvalid
	}
	return out, nil
}

// filterFamily keeps the addresses of the requested family, mapping IPv4
// into IPv6 when mapped is set and no IPv6 address is available.
func filterFamily(ips []netip.Addr, family addrFamily, mapped bool) []netip.Addr {
	var v4, v6 []netip.Addr
	for _, ip := range ips {
		if ip.Is4() || ip.Is4In6() {
			v4 = append(v4, ip.Unmap())
		} else {
			v6 = append(v6, ip)
		}
	}
	switch family {
	case familyIPv4:
		return v4
	case familyIPv6:
		if len(v6) > 0 || !mapped {
			return v6
		}
		out := make([]netip.Addr, 0, len(v4))
		for _, ip := range v4 {
			out = append(out, netip.AddrFrom16(ip.As16()))
		}
		return out
	default:
		return append(v4, v6...)
	}
}

// resolvePort parses a numeric port or looks up a service name.
func resolvePort(cfg *Config, port string, proto Protocol) (uint16, error) {
	if value, err := strconv.ParseUint(port, 10, 16); err == nil {
		return uint16(value), nil
	}
	network := "tcp"
	if proto == ProtocolUDP {
		network = "udp"
	}
	value, err := cfg.Resolver.LookupPort(context.Background(), network, port)
	if err != nil || value < 0 || value > 65535 {
		return 0, ErrInvalid
	}
	return uint16(value), nil
}

// GetDefaultAddr resolves a string default as a network descriptor.
//
// A default without a value yields [ErrNotSupported]. A value whose
// protocol differs from proto, or lacking a port when requirePort is set,
// yields [ErrInconsistent].
func GetDefaultAddr(cfg *Config, class, name string, classonly bool,
	proto Protocol, listen, requirePort bool) ([]Addr, error) {
	str, found, err := cfg.Defaults.GetDefaultString(class, name, classonly)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotSupported
	}
	spec, err := ScanNetworkPort(cfg, str, listen, false)
	if err != nil {
		return nil, err
	}
	if (requirePort && !spec.PortSet) || spec.Protocol != proto {
		return nil, ErrInconsistent
	}
	return spec.Addrs, nil
}
