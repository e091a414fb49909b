package quic

import (
	"context"
	"net"
	"time"

	q "github.com/quic-go/quic-go"
)

// Options tunes the QUIC connection. Zero values take quic-go defaults.
type Options struct {
	KeepAlivePeriod time.Duration
	MaxIdleTimeout  time.Duration
}

func (o Options) config() *q.Config {
	return &q.Config{
		KeepAlivePeriod: o.KeepAlivePeriod,
		MaxIdleTimeout:  o.MaxIdleTimeout,
	}
}

type Listener struct {
	inner *q.Listener
}

func Listen(addr string, opts Options) (*Listener, error) {
	tlsConf, err := NewServerTLSConfig()
	if err != nil {
		return nil, err
	}
	ln, err := q.ListenAddr(addr, tlsConf, opts.config())
	if err != nil {
		return nil, err
	}
	return &Listener{inner: ln}, nil
}

func (l *Listener) Accept(ctx context.Context) (q.Connection, error) {
	return l.inner.Accept(ctx)
}

func (l *Listener) Addr() net.Addr { return l.inner.Addr() }

func (l *Listener) AddrString() string {
	if l.inner == nil {
		return ""
	}
	return l.inner.Addr().String()
}

func (l *Listener) Close() error { return l.inner.Close() }

func Dial(ctx context.Context, addr string, opts Options) (q.Connection, error) {
	tlsConf, err := NewClientTLSConfig()
	if err != nil {
		return nil, err
	}
	return q.DialAddr(ctx, addr, tlsConf, opts.config())
}
