package testutil

import (
	"context"
	"io"
	"net"

	"github.com/txthinking/socks5"
)

// SOCKS5Gateway is a minimal upstream gateway accepting CONNECT. If Username
// is set, clients must authenticate with Username/Password.
type SOCKS5Gateway struct {
	Username string
	Password string
	// Reply overrides the CONNECT reply code when non-zero.
	Reply byte
}

// Serve handles one client connection: it negotiates, dials the requested
// address and relays until either side closes.
func (g *SOCKS5Gateway) Serve(ctx context.Context, c net.Conn) error {
	if _, err := socks5.NewNegotiationRequestFrom(c); err != nil {
		return err
	}

	if g.Username == "" {
		if _, err := socks5.NewNegotiationReply(socks5.MethodNone).WriteTo(c); err != nil {
			return err
		}
	} else {
		if _, err := socks5.NewNegotiationReply(socks5.MethodUsernamePassword).WriteTo(c); err != nil {
			return err
		}

		urq, err := socks5.NewUserPassNegotiationRequestFrom(c)
		if err != nil {
			return err
		}
		if string(urq.Uname) != g.Username || string(urq.Passwd) != g.Password {
			_, _ = socks5.NewUserPassNegotiationReply(socks5.UserPassStatusFailure).WriteTo(c)
			return nil
		}
		if _, err := socks5.NewUserPassNegotiationReply(socks5.UserPassStatusSuccess).WriteTo(c); err != nil {
			return err
		}
	}

	req, err := socks5.NewRequestFrom(c)
	if err != nil {
		return err
	}
	if req.Cmd != socks5.CmdConnect {
		_, _ = zeroReply(socks5.RepCommandNotSupported).WriteTo(c)
		return nil
	}
	if g.Reply != 0 {
		_, _ = zeroReply(g.Reply).WriteTo(c)
		return nil
	}

	d := net.Dialer{}
	dst, err := d.DialContext(ctx, "tcp", req.Address())
	if err != nil {
		_, _ = zeroReply(socks5.RepHostUnreachable).WriteTo(c)
		return nil
	}
	defer dst.Close()

	if _, err := zeroReply(socks5.RepSuccess).WriteTo(c); err != nil {
		return err
	}

	go func() {
		_, _ = io.Copy(dst, c)
		_ = dst.Close()
	}()
	_, _ = io.Copy(c, dst)

	return nil
}

func zeroReply(rep byte) *socks5.Reply {
	return socks5.NewReply(rep, socks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00})
}
