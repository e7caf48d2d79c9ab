package socks5

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"

	txsocks5 "github.com/txthinking/socks5"
	"golang.org/x/sync/errgroup"
)

// serveGateway plays the gateway side, requiring user/pass when user is set.
func serveGateway(conn net.Conn, user, pass string, rep byte) (string, error) {
	neg, err := txsocks5.NewNegotiationRequestFrom(conn)
	if err != nil {
		return "", err
	}
	if !bytes.Equal(neg.Methods, []byte{0x00, 0x02}) {
		return "", errors.New("unexpected methods offered")
	}

	if user == "" {
		if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodNone).WriteTo(conn); err != nil {
			return "", err
		}
	} else {
		if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodUsernamePassword).WriteTo(conn); err != nil {
			return "", err
		}
		urq, err := txsocks5.NewUserPassNegotiationRequestFrom(conn)
		if err != nil {
			return "", err
		}
		status := txsocks5.UserPassStatusSuccess
		if string(urq.Uname) != user || string(urq.Passwd) != pass {
			status = txsocks5.UserPassStatusFailure
		}
		if _, err := txsocks5.NewUserPassNegotiationReply(status).WriteTo(conn); err != nil {
			return "", err
		}
		if status != txsocks5.UserPassStatusSuccess {
			return "", nil
		}
	}

	req, err := txsocks5.NewRequestFrom(conn)
	if err != nil {
		return "", err
	}
	if req.Cmd != txsocks5.CmdConnect || req.Atyp != txsocks5.ATYPDomain {
		return "", errors.New("unexpected request")
	}
	if _, err := txsocks5.NewReply(rep, txsocks5.ATYPIPv4, []byte{0, 0, 0, 0}, []byte{0, 0}).WriteTo(conn); err != nil {
		return "", err
	}
	return req.Address(), nil
}

func TestClientDialToGateway(t *testing.T) {
	tests := []struct {
		name    string
		auth    Auth
		srvUser string
		srvPass string
		rep     byte
		wantErr bool
	}{
		{name: "no_auth", rep: txsocks5.RepSuccess},
		{name: "user_pass", auth: Auth{Username: "user", Password: "pass"}, srvUser: "user", srvPass: "pass", rep: txsocks5.RepSuccess},
		{name: "bad_pass", auth: Auth{Username: "user", Password: "nope"}, srvUser: "user", srvPass: "pass", wantErr: true},
		{name: "auth_required_without_creds", srvUser: "user", srvPass: "pass", wantErr: true},
		{name: "connect_refused", rep: txsocks5.RepConnectionRefused, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clientConn, serverConn := net.Pipe()
			defer clientConn.Close()
			defer serverConn.Close()

			var got string
			g := errgroup.Group{}
			g.Go(func() error {
				defer serverConn.Close()
				addr, err := serveGateway(serverConn, tt.srvUser, tt.srvPass, tt.rep)
				got = addr
				return err
			})

			err := ClientDial(clientConn, tt.auth, "example.com", 443)
			_ = clientConn.Close()
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tt.wantErr)
			}
			if tt.wantErr {
				if tt.srvUser != "" && tt.auth.Username != "" && !errors.Is(err, ErrRejected) {
					t.Fatalf("expected ErrRejected, got %v", err)
				}
				_ = g.Wait()
				return
			}
			if err := g.Wait(); err != nil {
				t.Fatal(err)
			}
			if got != "example.com:443" {
				t.Fatalf("gateway saw %q", got)
			}
		})
	}
}

func TestClientDialWireFormat(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	g := errgroup.Group{}
	g.Go(func() error {
		want := [][]byte{
			{0x05, 0x02, 0x00, 0x02},
			{0x01, 2, 'u', 'n', 2, 'p', 'w'},
			append(append([]byte{0x05, 0x01, 0x00, 0x03, 11}, "example.com"...), 0x01, 0xbb),
		}
		replies := [][]byte{
			{0x05, 0x02},
			{0x01, 0x00},
			{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0},
		}
		for i := range want {
			buf := make([]byte, len(want[i]))
			if _, err := io.ReadFull(serverConn, buf); err != nil {
				return err
			}
			if !bytes.Equal(buf, want[i]) {
				return errors.New("unexpected bytes: " + string(buf))
			}
			if _, err := serverConn.Write(replies[i]); err != nil {
				return err
			}
		}
		return nil
	})

	if err := ClientDial(clientConn, Auth{Username: "un", Password: "pw"}, "example.com", 443); err != nil {
		t.Fatal(err)
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}
