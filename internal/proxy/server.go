package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kadirbelkuyu/bdns/internal/dns"
	"github.com/kadirbelkuyu/bdns/internal/domain/altroot"
	"github.com/kadirbelkuyu/bdns/internal/domain/resolution"
	"github.com/kadirbelkuyu/bdns/internal/pac"
	"go.uber.org/zap"
)

const (
	PACPath     = "/proxy.pac"
	dialTimeout = 5 * time.Second
)

// Resolver is the part of the resolution service the proxy depends on.
type Resolver interface {
	Lookup(ctx context.Context, domain string) (resolution.Result, error)
	CurrentScript() string
}

// HostResolver resolves hosts outside the alternative roots.
type HostResolver interface {
	ResolveHost(ctx context.Context, host string) ([]string, error)
}

// Server is a forward proxy that sends alternative-root hosts to their
// resolved addresses and also serves the PAC script.
type Server struct {
	addr     string
	port     int
	logger   *zap.Logger
	resolver Resolver
	upstream HostResolver
	tlds     altroot.TLDSet
	dial     func(ctx context.Context, network, address string) (net.Conn, error)
}

func NewServer(addr string, port int, resolver Resolver, tlds altroot.TLDSet, logger *zap.Logger) *Server {
	d := &net.Dialer{Timeout: dialTimeout}
	return &Server{
		addr:     addr,
		port:     port,
		logger:   logger,
		resolver: resolver,
		upstream: dns.NewUpstream(logger.Named("upstream")),
		tlds:     tlds,
		dial:     d.DialContext,
	}
}

// PACURL is where clients fetch the routing script from.
func (s *Server) PACURL() string {
	host := s.addr
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(s.port)) + PACPath
}

func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.addr, strconv.Itoa(s.port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer listener.Close()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("Proxy server listening",
		zap.String("addr", addr),
		zap.String("pac", s.PACURL()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error("Accept error", zap.Error(err))
			continue
		}

		go s.handleConnection(ctx, conn)
	}
}

func (s *Server) handleConnection(ctx context.Context, clientConn net.Conn) {
	defer clientConn.Close()

	// Bytes read past the request head (pipelined data, an eager TLS hello)
	// stay in br and are forwarded from there.
	br := bufio.NewReader(clientConn)
	req, err := http.ReadRequest(br)
	if err != nil {
		s.logger.Error("Read request error", zap.Error(err))
		return
	}

	s.logger.Debug("Request received",
		zap.String("host", req.Host),
		zap.String("method", req.Method))

	if req.Method != http.MethodConnect && req.URL.Host == "" {
		s.serveLocal(clientConn, req)
		return
	}

	host, port := splitHostPort(req)
	addrs, status, msg := s.targets(ctx, host, port)
	if status != http.StatusOK {
		writeStatus(clientConn, status, msg)
		return
	}

	serverConn, err := s.dialAny(ctx, addrs)
	if err != nil {
		s.logger.Error("Dial error", zap.String("host", host), zap.Error(err))
		writeStatus(clientConn, http.StatusBadGateway, host+" is down")
		return
	}
	defer serverConn.Close()

	if req.Method == http.MethodConnect {
		_, _ = clientConn.Write([]byte("HTTP/1.1 200 Connection established\r\n\r\n"))
	} else {
		req.RequestURI = ""
		if err := req.Write(serverConn); err != nil {
			s.logger.Error("Forward request error", zap.Error(err))
			return
		}
	}

	go io.Copy(serverConn, br)
	io.Copy(clientConn, serverConn)
}

func (s *Server) serveLocal(conn net.Conn, req *http.Request) {
	if req.URL.Path != PACPath {
		writeStatus(conn, http.StatusNotFound, "not found")
		return
	}
	script := s.resolver.CurrentScript()
	resp := &http.Response{
		StatusCode:    http.StatusOK,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": {pac.ContentType}},
		Body:          io.NopCloser(strings.NewReader(script)),
		ContentLength: int64(len(script)),
		Close:         true,
	}
	_ = resp.Write(conn)
}

// targets picks the addresses to dial. Alternative-root hosts go through the
// resolution service; the response status tells a non-existent domain apart
// from a resolver outage.
func (s *Server) targets(ctx context.Context, host, port string) ([]string, int, string) {
	if s.tlds.Matches(host) {
		domain, err := altroot.Normalize(host)
		if err != nil {
			return nil, http.StatusBadRequest, err.Error()
		}
		res, err := s.resolver.Lookup(ctx, domain)
		if err != nil {
			return nil, http.StatusBadRequest, err.Error()
		}
		switch res.Status {
		case resolution.StatusNonExistent:
			return nil, http.StatusNotFound, fmt.Sprintf("Non-existent .%s domain: %s", altroot.TLD(domain), domain)
		case resolution.StatusUnavailable:
			return nil, http.StatusServiceUnavailable, fmt.Sprintf("Resolution of .%s is temporarily unavailable", altroot.TLD(domain))
		}
		return joinPort(res.IPs, port), http.StatusOK, ""
	}

	ips, err := s.upstream.ResolveHost(ctx, host)
	if err != nil {
		s.logger.Error("DNS resolution failed", zap.String("host", host), zap.Error(err))
		return nil, http.StatusBadGateway, "DNS resolution failed"
	}
	return joinPort(ips, port), http.StatusOK, ""
}

// dialAny tries the addresses in order, the way browsers walk a
// multi-address answer.
func (s *Server) dialAny(ctx context.Context, addrs []string) (net.Conn, error) {
	var errs []error
	for _, addr := range addrs {
		conn, err := s.dial(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}

func splitHostPort(req *http.Request) (string, string) {
	hostport := req.Host
	if req.URL.Host != "" {
		hostport = req.URL.Host
	}
	host, port, err := net.SplitHostPort(hostport)
	if err == nil {
		return host, port
	}
	if req.Method == http.MethodConnect || req.URL.Scheme == "https" {
		return hostport, "443"
	}
	return hostport, "80"
}

func joinPort(ips []string, port string) []string {
	addrs := make([]string, len(ips))
	for i, ip := range ips {
		addrs[i] = net.JoinHostPort(ip, port)
	}
	return addrs
}

func writeStatus(conn net.Conn, status int, msg string) {
	resp := &http.Response{
		StatusCode:    status,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
		Body:          io.NopCloser(strings.NewReader(msg + "\n")),
		ContentLength: int64(len(msg) + 1),
		Close:         true,
	}
	_ = resp.Write(conn)
}
