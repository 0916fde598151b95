package smtp

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"
)

func TestServer_ServeAndShutdown(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	relay := &mockRelay{}
	srv := New(ServerConfig{Relay: relay})
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	reader := bufio.NewReader(conn)

	greeting := readLine(t, reader)
	if !strings.Contains(greeting, "localhost") {
		t.Errorf("greeting should use default hostname, got %q", greeting)
	}
	if srv.Addr() != ln.Addr().String() {
		t.Errorf("Addr: got %q, want %q", srv.Addr(), ln.Addr().String())
	}

	ehlo(t, conn, reader)
	command(t, conn, reader, "MAIL FROM:<a@x.com>")
	command(t, conn, reader, "RCPT TO:<bob@temp.io>")
	expectPrefix(t, "DATA completion", sendData(t, conn, reader, "Subject: via server", "", "hi"), "250 ")
	expectPrefix(t, "QUIT", command(t, conn, reader, "QUIT"), "221 ")
	conn.Close()

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Serve returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	if msgs := relay.relayed(); len(msgs) != 1 || msgs[0].Subject != "via server" {
		t.Errorf("relayed: got %+v", msgs)
	}
}

func TestServer_Defaults(t *testing.T) {
	t.Parallel()

	srv := New(ServerConfig{})
	if srv.config.Hostname != "localhost" {
		t.Errorf("Hostname: got %q, want %q", srv.config.Hostname, "localhost")
	}
	if srv.config.MaxMessageSize != DefaultMaxMessageSize {
		t.Errorf("MaxMessageSize: got %d, want %d", srv.config.MaxMessageSize, DefaultMaxMessageSize)
	}
	if srv.Addr() != "" {
		t.Errorf("Addr before listening: got %q, want empty", srv.Addr())
	}
}
