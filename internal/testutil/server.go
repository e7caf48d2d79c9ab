// Package testutil holds network fixtures shared by package tests.
package testutil

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
)

// StartServer listens on loopback and runs handler for every accepted
// connection until the returned wait func is called. wait closes the
// listener and any open connections, then blocks until all handlers return.
func StartServer(t *testing.T, ctx context.Context, handler func(net.Conn)) (net.Listener, func()) {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		conns = map[net.Conn]struct{}{}
	)
	wg.Go(func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns[c] = struct{}{}
			mu.Unlock()

			wg.Go(func() {
				defer func() {
					mu.Lock()
					delete(conns, c)
					mu.Unlock()
					_ = c.Close()
				}()
				handler(c)
			})
		}
	})

	var once sync.Once
	wait := func() {
		once.Do(func() {
			_ = ln.Close()
			mu.Lock()
			for c := range conns {
				_ = c.Close()
			}
			mu.Unlock()
			wg.Wait()
		})
	}
	t.Cleanup(wait)

	return ln, wait
}

// StartEchoServer echoes every connection back to itself until EOF.
func StartEchoServer(t *testing.T, ctx context.Context) net.Listener {
	t.Helper()

	ln, _ := StartServer(t, ctx, func(c net.Conn) {
		_, _ = io.Copy(c, c)
	})
	return ln
}

// ClosedAddr returns a loopback address with nothing listening on it.
func ClosedAddr(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}
