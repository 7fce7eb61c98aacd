package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/net/http2"
)

// dnsMessageContentType is the RFC 8484 media type for the wire-format
// DNS message carried in the request/response body.
const dnsMessageContentType = "application/dns-message"

// HTTPS is a DNS-over-HTTPS resolver (RFC 8484): one shared HTTP/2 client
// per upstream, POSTing to https://{name}/dns-query. The client is
// configured with a custom DialTLSContext so the TCP connection is made to
// addr (an IP) while the TLS/HTTP authority stays name, the same split
// used by XTLS-Xray-core's DoHNameServer.
type HTTPS struct {
	addr    string
	name    string
	timeout time.Duration
	client  *http.Client
}

// NewHTTPS builds a DoH resolver. If noSNI is true, the TLS ClientHello
// omits the SNI extension.
func NewHTTPS(addr, name string, noSNI bool, timeout time.Duration) *HTTPS {
	tlsConf := &tls.Config{MinVersion: tls.VersionTLS12}
	if !noSNI {
		tlsConf.ServerName = name
	} else {
		tlsConf.ServerName = ""
		tlsConf.InsecureSkipVerify = true
		tlsConf.VerifyConnection = func(cs tls.ConnectionState) error {
			opts := x509VerifyOptsFor(name, cs)
			_, err := cs.PeerCertificates[0].Verify(opts)
			return err
		}
	}

	transport := &http2.Transport{
		DialTLSContext: func(ctx context.Context, network, _ string, cfg *tls.Config) (net.Conn, error) {
			if noSNI {
				// http2.Transport fills an empty ServerName with the
				// request host before calling us; clear it again.
				cfg = cfg.Clone()
				cfg.ServerName = ""
			}
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

	return &HTTPS{
		addr:    addr,
		name:    name,
		timeout: timeout,
		client:  &http.Client{Transport: transport},
	}
}

func (h *HTTPS) Resolve(ctx context.Context, q dns.Question, opt *dns.OPT) (*dns.Msg, error) {
	if h.timeout <= 0 {
		return nil, context.DeadlineExceeded
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	m := new(dns.Msg)
	m.SetQuestion(q.Name, q.Qtype)
	m.Question[0].Qclass = q.Qclass
	m.RecursionDesired = true
	if opt != nil {
		m.Extra = []dns.RR{opt.Copy()}
	}

	wire, err := m.Pack()
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("https://%s/dns-query", h.name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(wire))
	if err != nil {
		return nil, err
	}
	req.Header.Set("content-type", dnsMessageContentType)
	req.Header.Set("accept", dnsMessageContentType)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("doh: non-2xx response: %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, err
	}

	out := new(dns.Msg)
	if err := out.Unpack(body); err != nil {
		return nil, fmt.Errorf("doh: malformed reply: %w", err)
	}
	if out.Id != m.Id {
		return nil, fmt.Errorf("doh: transaction id mismatch: sent %d, got %d", m.Id, out.Id)
	}
	return out, nil
}

// Close idles out any pooled HTTP/2 connections.
func (h *HTTPS) Close() {
	if t, ok := h.client.Transport.(*http2.Transport); ok {
		t.CloseIdleConnections()
	}
}
