package upstream

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
)

func dohHandler(name, ip string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		in := new(dns.Msg)
		if err := in.Unpack(body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		out := new(dns.Msg)
		out.SetReply(in)
		if len(in.Question) == 1 && in.Question[0].Name == dns.Fqdn(name) && in.Question[0].Qtype == dns.TypeA {
			out.Answer = []dns.RR{
				&dns.A{
					Hdr: dns.RR_Header{Name: in.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
					A:   net.ParseIP(ip),
				},
			}
		} else {
			out.Rcode = dns.RcodeNameError
		}

		wire, err := out.Pack()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("content-type", dnsMessageContentType)
		w.Write(wire)
	}
}

// startDoHTestServer starts an HTTP/2-over-TLS test server and returns its
// dial address plus a RootCAs pool trusting its certificate, issued by Go's
// standard httptest helper for the authority "example.com".
func startDoHTestServer(t *testing.T, name, ip string) (addr string, pool *x509.CertPool) {
	t.Helper()

	srv := httptest.NewUnstartedServer(dohHandler(name, ip))
	srv.EnableHTTP2 = true
	srv.StartTLS()
	t.Cleanup(srv.Close)

	pool = x509.NewCertPool()
	pool.AddCert(srv.Certificate())

	return srv.Listener.Addr().String(), pool
}

// newHTTPSForTest builds an HTTPS resolver the same way NewHTTPS does, but
// with a caller-supplied tls.Config so tests can trust a self-issued
// certificate instead of the system root store.
func newHTTPSForTest(addr, name string, tlsConf *tls.Config, timeout time.Duration) *HTTPS {
	transport := &http2.Transport{
		DialTLSContext: func(ctx context.Context, network, _ string, cfg *tls.Config) (net.Conn, error) {
			dialer := &net.Dialer{}
			raw, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			conn := tls.Client(raw, cfg)
			if err := conn.HandshakeContext(ctx); err != nil {
				raw.Close()
				return nil, err
			}
			return conn, nil
		},
		TLSClientConfig: tlsConf,
	}
	return &HTTPS{addr: addr, name: name, timeout: timeout, client: &http.Client{Transport: transport}}
}

func TestHTTPSResolveRoundTrip(t *testing.T) {
	addr, pool := startDoHTestServer(t, "example.com.", "192.0.2.5")

	h := newHTTPSForTest(addr, "example.com", &tls.Config{ServerName: "example.com", RootCAs: pool}, 2*time.Second)
	defer h.Close()

	resp, err := h.Resolve(context.Background(), dns.Question{Name: "example.com.", Qtype: dns.TypeA, Qclass: dns.ClassINET}, nil)
	require.NoError(t, err)
	require.Len(t, resp.Answer, 1)
	a, ok := resp.Answer[0].(*dns.A)
	require.True(t, ok)
	assert.Equal(t, "192.0.2.5", a.A.String())
}

func TestHTTPSResolveNXDOMAIN(t *testing.T) {
	addr, pool := startDoHTestServer(t, "example.com.", "192.0.2.5")

	h := newHTTPSForTest(addr, "example.com", &tls.Config{ServerName: "example.com", RootCAs: pool}, 2*time.Second)
	defer h.Close()

	resp, err := h.Resolve(context.Background(), dns.Question{Name: "other.example.", Qtype: dns.TypeA, Qclass: dns.ClassINET}, nil)
	require.NoError(t, err)
	assert.Equal(t, dns.RcodeNameError, resp.Rcode)
}

func TestHTTPSResolveZeroTimeoutFailsImmediately(t *testing.T) {
	h := NewHTTPS("127.0.0.1:1", "example.com", false, 0)
	_, err := h.Resolve(context.Background(), dns.Question{Name: "example.com.", Qtype: dns.TypeA, Qclass: dns.ClassINET}, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewHTTPSNoSNISkipsDefaultVerification(t *testing.T) {
	h := NewHTTPS("127.0.0.1:443", "dns.example", true, time.Second)
	transport, ok := h.client.Transport.(*http2.Transport)
	require.True(t, ok)
	assert.Equal(t, "", transport.TLSClientConfig.ServerName)
	assert.True(t, transport.TLSClientConfig.InsecureSkipVerify)
	assert.NotNil(t, transport.TLSClientConfig.VerifyConnection)
}

func TestNewHTTPSWithSNISetsServerName(t *testing.T) {
	h := NewHTTPS("127.0.0.1:443", "dns.example", false, time.Second)
	transport, ok := h.client.Transport.(*http2.Transport)
	require.True(t, ok)
	assert.Equal(t, "dns.example", transport.TLSClientConfig.ServerName)
}
