package resolver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startDNS(t *testing.T) string {
	t.Helper()
	mux := dns.NewServeMux()
	mux.HandleFunc("example.test.", func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		if r.Question[0].Qtype == dns.TypeA {
			rr, err := dns.NewRR("example.test. 60 IN A 127.0.0.7")
			if err == nil {
				m.Answer = append(m.Answer, rr)
			}
		}
		_ = w.WriteMsg(m)
	})
	mux.HandleFunc(".", func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetRcode(r, dns.RcodeNameError)
		_ = w.WriteMsg(m)
	})

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: mux, NotifyStartedFunc: func() { close(started) }}
	go func() {
		_ = srv.ActivateAndServe()
	}()
	<-started
	t.Cleanup(func() {
		_ = srv.Shutdown()
	})
	return pc.LocalAddr().String()
}

func TestLookupIP(t *testing.T) {
	r := NewDNS(startDNS(t), time.Second)
	ctx := context.Background()

	ips, err := r.LookupIP(ctx, "ip", "example.test")
	require.NoError(t, err)
	require.Len(t, ips, 1)
	assert.True(t, ips[0].Equal(net.ParseIP("127.0.0.7")))

	ips, err = r.LookupIP(ctx, "ip4", "example.test")
	require.NoError(t, err)
	assert.Len(t, ips, 1)

	_, err = r.LookupIP(ctx, "ip6", "example.test")
	assert.Equal(t, ErrNoRecords, errors.Cause(err))

	_, err = r.LookupIP(ctx, "ip", "missing.test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NXDOMAIN")
}

func TestLookupIPLiteral(t *testing.T) {
	// no server is contacted for literals
	r := NewDNS("127.0.0.1:1", time.Millisecond)
	ips, err := r.LookupIP(context.Background(), "ip", "10.1.2.3")
	require.NoError(t, err)
	require.Len(t, ips, 1)
	assert.True(t, ips[0].Equal(net.ParseIP("10.1.2.3")))
}

func TestLookupIPCancelled(t *testing.T) {
	r := NewDNS(startDNS(t), 5*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.LookupIP(ctx, "ip4", "example.test")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	assert.Equal(t, net.DefaultResolver, New("", time.Second))

	d, ok := New("8.8.8.8", time.Second).(*DNS)
	require.True(t, ok)
	assert.Equal(t, "8.8.8.8:53", d.Server)
	assert.Equal(t, "udp", d.Client.Net)
}
