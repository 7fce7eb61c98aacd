package upstream

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

// answerHandler replies to every A query for name with a single A record
// pointing at ip, and NXDOMAIN otherwise, adapted from the teacher's
// server_test.go testHandler (itself a zone-backed dns.Handler) into an
// in-memory single-record stand-in good enough for resolver unit tests.
func answerHandler(name, ip string) dns.Handler {
	return dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		if len(r.Question) == 1 && r.Question[0].Name == dns.Fqdn(name) && r.Question[0].Qtype == dns.TypeA {
			m.Answer = []dns.RR{
				&dns.A{
					Hdr: dns.RR_Header{Name: r.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
					A:   net.ParseIP(ip),
				},
			}
		} else {
			m.Rcode = dns.RcodeNameError
		}
		_ = w.WriteMsg(m)
	})
}

// startUDPTestServer starts a UDP DNS server on an ephemeral loopback port
// running handler, shut down automatically when the test ends. Grounded on
// the teacher's NewTestServer (server_test.go), adapted from zone-file
// backed TCP+UDP dual listeners to a single UDP listener since Resolve only
// needs the UDP path exercised here.
func startUDPTestServer(t *testing.T, handler dns.Handler) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &dns.Server{PacketConn: pc, Handler: handler}
	go srv.ActivateAndServe()
	t.Cleanup(func() { srv.Shutdown() })

	return pc.LocalAddr().String()
}

// startTLSTestServer starts a DoT-framed TLS DNS server on an ephemeral
// loopback port with a freshly generated self-signed certificate for
// dnsName, returning the listen address and a CertPool trusting that exact
// certificate (callers must use this pool, not a separately generated
// certificate, since the server's private key never leaves this function).
func startTLSTestServer(t *testing.T, handler dns.Handler, dnsName string) (addr string, pool *x509.CertPool) {
	t.Helper()

	cert := selfSignedCert(t, dnsName)
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	require.NoError(t, err)

	srv := &dns.Server{Listener: ln, Handler: handler}
	go srv.ActivateAndServe()
	t.Cleanup(func() { srv.Shutdown() })

	pool = x509.NewCertPool()
	pool.AddCert(cert.Leaf)

	return ln.Addr().String(), pool
}

func selfSignedCert(t *testing.T, dnsName string) tls.Certificate {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: dnsName},
		DNSNames:              []string{dnsName},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}
}
