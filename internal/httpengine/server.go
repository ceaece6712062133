/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
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

// Package httpengine bridges the HTTP/1.1 + HTTP/2 + TLS stack
// (net/http + golang.org/x/net/http2) to a worker's connection slots. Each
// gateway worker owns exactly one Engine bound to its own net.Listener, so
// the HTTP-library context and TLS accept context stay per-connection and
// per-worker, never shared across goroutines (spec.md §9 "Per-connection
// HTTP context creation").
package httpengine

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	liblog "github.com/ncbi-psg/gateway-core/internal/logger"
	liberr "github.com/ncbi-psg/gateway-core/internal/xerror"
	"golang.org/x/net/http2"
)

const timeoutShutdown = 10 * time.Second
const timeoutWaitingPortFreeing = 2 * time.Second

type connContextKey struct{}

// ConnFromContext recovers the net.Conn a request arrived on, stashed by
// Serve's ConnContext hook. The admission handler uses this to look up the
// worker's Slot/Controller for the connection without threading a custom
// request type through net/http.
func ConnFromContext(ctx context.Context) (net.Conn, bool) {
	c, ok := ctx.Value(connContextKey{}).(net.Conn)
	return c, ok
}

// WithConn stashes conn into ctx the same way Serve's ConnContext hook does.
// Exported so callers that build requests outside of a live http.Server
// (tests, and anything else driving a Handler directly) can reproduce the
// context net/http would have supplied.
func WithConn(ctx context.Context, conn net.Conn) context.Context {
	return context.WithValue(ctx, connContextKey{}, conn)
}

// ConnStateFunc mirrors http.Server.ConnState: it is the hook a worker uses
// to allocate/release connection slots (internal/connslot) as the
// underlying net.Conn moves through its lifecycle.
type ConnStateFunc func(net.Conn, http.ConnState)

// Engine is a single worker's HTTP front end.
type Engine struct {
	run atomic.Bool
	cfg *Config
	srv *http.Server
	cnl context.CancelFunc
}

// New builds an Engine; the caller supplies the listener (already bound by
// the acceptor, see internal/acceptor) separately to Serve.
func New(cfg *Config) *Engine {
	return &Engine{cfg: cfg}
}

func (e *Engine) IsRunning() bool { return e.run.Load() }
func (e *Engine) IsTLS() bool     { return e.cfg.IsTLS() }

// Serve configures http.Server + http2.Server from cfg and runs Serve(ln)
// until the listener is closed or the server is shut down. Canceling ctx
// cancels the base context of every request but does not stop Serve. handler is the
// single entry point for every request on this worker (admission +
// dispatch, see internal/admission); onState is wired to http.Server's
// ConnState for slot bookkeeping.
func (e *Engine) Serve(ctx context.Context, ln net.Listener, handler http.Handler, onState ConnStateFunc) liberr.Error {
	ssl := e.cfg.GetTLS()

	srv := &http.Server{
		Handler:  handler,
		ErrorLog: log.New(liblog.ErrorLevel.Writer(), "", 0),
	}

	if onState != nil {
		srv.ConnState = func(c net.Conn, s http.ConnState) { onState(c, s) }
	}

	srv.ConnContext = WithConn

	if ssl != nil && ssl.LenCertificatePair() > 0 {
		srv.TLSConfig = ssl.TlsConfig("")
	}

	if err := e.cfg.applyTo(srv); err != nil {
		return err
	}

	sctx, cnl := context.WithCancel(ctx)
	e.cnl = cnl
	e.srv = srv
	srv.BaseContext = func(net.Listener) context.Context { return sctx }

	e.run.Store(true)
	defer e.run.Store(false)

	var serveErr error
	if ssl != nil && ssl.LenCertificatePair() > 0 {
		liblog.InfoLevel.Logf("tls engine starting on %s", ln.Addr().String())
		serveErr = srv.ServeTLS(ln, "", "")
	} else {
		liblog.InfoLevel.Logf("engine starting on %s", ln.Addr().String())
		serveErr = srv.Serve(ln)
	}

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		liblog.ErrorLevel.LogErrorCtxf(liblog.NilLevel, "engine serve on %s", serveErr, ln.Addr().String())
		return ErrorServerValidate.Error(serveErr)
	}

	return nil
}

// GoAway triggers an HTTP/2 GOAWAY / HTTP/1 connection-close shutdown for
// every still-open stream owned by this engine, honouring the deadline
// passed by the shutdown watchdog (internal/shutdown).
func (e *Engine) GoAway(ctx context.Context) {
	if e.srv == nil {
		return
	}

	sctx, cancel := context.WithTimeout(ctx, timeoutShutdown)
	defer cancel()

	if e.cnl != nil {
		e.cnl()
	}

	if serr := e.srv.Shutdown(sctx); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
		liblog.ErrorLevel.Logf("engine shutdown error: %v", serr)
	}
}

// Close forces the underlying socket closed without waiting for in-flight
// requests; used once the watchdog's extended deadline also expires.
func (e *Engine) Close() {
	if e.srv != nil {
		_ = e.srv.Close()
	}
}

// applyTo copies c's http.Server/http2.Server knobs onto s and turns h2
// support on. It replaces what used to be a standalone optServer value
// built fresh per Serve call: c already carries every one of these fields
// for the worker's lifetime, so there is nothing an intermediate struct
// adds.
func (c *Config) applyTo(s *http.Server) liberr.Error {
	if c.ReadTimeout > 0 {
		s.ReadTimeout = c.ReadTimeout
	}

	if c.ReadHeaderTimeout > 0 {
		s.ReadHeaderTimeout = c.ReadHeaderTimeout
	} else {
		s.ReadHeaderTimeout = 30 * time.Second
	}

	if c.WriteTimeout > 0 {
		s.WriteTimeout = c.WriteTimeout
	}

	if c.MaxHeaderBytes > 0 {
		s.MaxHeaderBytes = c.MaxHeaderBytes
	}

	if c.IdleTimeout > 0 {
		s.IdleTimeout = c.IdleTimeout
	}

	s2 := &http2.Server{}

	if c.MaxConcurrentStreams > 0 {
		s2.MaxConcurrentStreams = c.MaxConcurrentStreams
	}

	if c.IdleTimeout > 0 {
		s2.IdleTimeout = c.IdleTimeout
	}

	if c.MaxUploadBufferPerConnection > 0 {
		s2.MaxUploadBufferPerConnection = c.MaxUploadBufferPerConnection
	}

	if c.MaxUploadBufferPerStream > 0 {
		s2.MaxUploadBufferPerStream = c.MaxUploadBufferPerStream
	}

	if e := http2.ConfigureServer(s, s2); e != nil {
		return ErrorHTTP2Configure.Error(e)
	}

	return nil
}

// PortInUse dials listen and returns ErrorPortUse if something already
// answers there, nil if the port is free — internal/acceptor's preflight
// before it binds the real listener, so a stale process still holding the
// port fails fast with a clear cause instead of net.Listen's generic
// "address already in use".
func PortInUse(ctx context.Context, listen string) liberr.Error {
	dia := net.Dialer{}

	if host, port, ok := splitListenHost(listen); ok {
		if strings.HasPrefix(host, "0") || strings.HasPrefix(host, "::") {
			listen = "127.0.0.1:" + port
		}
	}

	if _, ok := ctx.Deadline(); !ok {
		var cnl context.CancelFunc
		ctx, cnl = context.WithTimeout(ctx, timeoutWaitingPortFreeing)
		defer cnl()
	}

	con, err := dia.DialContext(ctx, "tcp", listen)
	if err != nil {
		return nil
	}
	_ = con.Close()
	return ErrorPortUse.Error(nil)
}

func splitListenHost(listen string) (host, port string, ok bool) {
	if !strings.Contains(listen, ":") {
		return "", "", false
	}
	part := strings.Split(listen, ":")
	if len(part) < 2 {
		return "", "", false
	}
	port = part[len(part)-1]
	host = strings.Join(part[:len(part)-1], ":")
	return host, port, true
}
