// Package resolver provides the name resolvers a session can use for SOCKS4a requests.
package resolver

import (
	"context"
	"net"
	"time"

	"github.com/djaigoo/holesocks/src/socks4"
	"github.com/djaigoo/logkit"
	"github.com/miekg/dns"
	"github.com/pkg/errors"
)

var ErrNoRecords = errors.New("dns: no A or AAAA records")

// DNS resolves names by querying one DNS server directly.
type DNS struct {
	Server string
	Client *dns.Client
}

var _ socks4.Resolver = (*DNS)(nil)

// NewDNS returns a resolver querying server ("host:port", port 53 when omitted) over UDP.
func NewDNS(server string, timeout time.Duration) *DNS {
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	return &DNS{
		Server: server,
		Client: &dns.Client{Net: "udp", Timeout: timeout},
	}
}

// New returns the system resolver when server is empty, a DNS resolver otherwise.
func New(server string, timeout time.Duration) socks4.Resolver {
	if server == "" {
		return net.DefaultResolver
	}
	return NewDNS(server, timeout)
}

// LookupIP queries A records for "ip4", AAAA for "ip6", both for "ip" with IPv4 answers first.
func (r *DNS) LookupIP(ctx context.Context, network, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}
	var types []uint16
	switch network {
	case "ip4":
		types = []uint16{dns.TypeA}
	case "ip6":
		types = []uint16{dns.TypeAAAA}
	default:
		types = []uint16{dns.TypeA, dns.TypeAAAA}
	}

	var ips []net.IP
	var lastErr error
	for _, t := range types {
		got, err := r.query(ctx, host, t)
		if err != nil {
			lastErr = err
			continue
		}
		ips = append(ips, got...)
	}
	if len(ips) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, errors.Wrapf(ErrNoRecords, "lookup %s", host)
	}
	return ips, nil
}

func (r *DNS) query(ctx context.Context, host string, t uint16) ([]net.IP, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), t)
	m.RecursionDesired = true

	resp, _, err := r.Client.ExchangeContext(ctx, m, r.Server)
	if err != nil {
		return nil, errors.Wrapf(err, "exchange %s with %s", host, r.Server)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, errors.Errorf("lookup %s: %s", host, dns.RcodeToString[resp.Rcode])
	}
	var ips []net.IP
	for _, ans := range resp.Answer {
		switch rr := ans.(type) {
		case *dns.A:
			ips = append(ips, rr.A)
		case *dns.AAAA:
			ips = append(ips, rr.AAAA)
		}
	}
	logkit.Debugf("[DNS] %s type %s resolved %v", host, dns.TypeToString[t], ips)
	return ips, nil
}
