// SPDX-License-Identifier: GPL-3.0-or-later

package gensio

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

// Resolver resolves the host names and service names of descriptors.
//
// The [*net.Resolver] type satisfies this interface.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
	LookupPort(ctx context.Context, network, service string) (int, error)
}

var _ Resolver = &net.Resolver{}

// NewDNSResolver returns a [*DNSResolver] querying the given server
// ("host:port") over UDP.
func NewDNSResolver(cfg *Config, server string) *DNSResolver {
	return &DNSResolver{
		Client:        &dns.Client{Net: "udp", Timeout: 5 * time.Second},
		ErrClassifier: cfg.ErrClassifier,
		Logger:        cfg.SLogger(),
		Server:        server,
		Services:      net.DefaultResolver,
		TimeNow:       cfg.TimeNow,
	}
}

// DNSResolver is a [Resolver] sending A and AAAA queries to one server.
//
// Use it to pin descriptor resolution to a specific DNS server
// instead of the system configuration.
//
// All fields are safe to modify after construction but before first use.
type DNSResolver struct {
	// Client performs the DNS exchanges.
	Client *dns.Client

	// ErrClassifier classifies errors for structured logging.
	ErrClassifier ErrClassifier

	// Logger receives the lookupStart and lookupDone events.
	Logger SLogger

	// Server is the "host:port" of the DNS server.
	Server string

	// Services resolves service names into ports.
	Services Resolver

	// TimeNow returns the current time.
	TimeNow func() time.Time
}

var _ Resolver = &DNSResolver{}

// LookupNetIP implements [Resolver].
func (r *DNSResolver) LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{addr}, nil
	}

	var qtypes []uint16
	switch network {
	case "ip4":
		qtypes = []uint16{dns.TypeA}
	case "ip6":
		qtypes = []uint16{dns.TypeAAAA}
	default:
		qtypes = []uint16{dns.TypeA, dns.TypeAAAA}
	}

	t0 := r.TimeNow()
	r.Logger.Info(
		"lookupStart",
		slog.String("dnsServer", r.Server),
		slog.String("host", host),
		slog.String("protocol", network),
		slog.Time("t", t0),
	)
	addrs, err := r.lookup(ctx, dns.Fqdn(host), qtypes)
	r.Logger.Info(
		"lookupDone",
		slog.Any("addrs", addrs),
		slog.String("dnsServer", r.Server),
		slog.Any("err", err),
		slog.String("errClass", r.ErrClassifier.Classify(err)),
		slog.String("host", host),
		slog.String("protocol", network),
		slog.Time("t0", t0),
		slog.Time("t", r.TimeNow()),
	)
	return addrs, err
}

func (r *DNSResolver) lookup(ctx context.Context, fqdn string, qtypes []uint16) ([]netip.Addr, error) {
	var addrs []netip.Addr
	for _, qtype := range qtypes {
		query := new(dns.Msg)
		query.SetQuestion(fqdn, qtype)
		resp, _, err := r.Client.ExchangeContext(ctx, query, r.Server)
		if err != nil {
			return nil, err
		}
		if resp.Rcode != dns.RcodeSuccess {
			continue
		}
		for _, rr := range resp.Answer {
			switch v := rr.(type) {
			case *dns.A:
				if addr, ok := netip.AddrFromSlice(v.A); ok {
					addrs = append(addrs, addr.Unmap())
				}
			case *dns.AAAA:
				if addr, ok := netip.AddrFromSlice(v.AAAA); ok {
					addrs = append(addrs, addr)
				}
			}
		}
	}
	if len(addrs) == 0 {
		return nil, &net.DNSError{Err: "no such host", Name: fqdn, Server: r.Server, IsNotFound: true}
	}
	return addrs, nil
}

// LookupPort implements [Resolver].
func (r *DNSResolver) LookupPort(ctx context.Context, network, service string) (int, error) {
	return r.Services.LookupPort(ctx, network, service)
}
