package socks5

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"

	txsocks5 "github.com/txthinking/socks5"
)

// ErrRejected is returned when the gateway refuses authentication or the
// CONNECT request.
var ErrRejected = errors.New("socks5 gateway rejected request")

// Auth configures optional username/password authentication for SOCKS5
// negotiation.
type Auth struct {
	Username string
	Password string
}

// offeredMethods is sent regardless of configured credentials.
var offeredMethods = []byte{txsocks5.MethodNone, txsocks5.MethodUsernamePassword}

// ClientDial runs negotiation and CONNECT for host:port over rw. The
// returned error leaves rw open; the caller owns it.
func ClientDial(rw io.ReadWriter, auth Auth, host string, port uint16) error {
	if err := ClientNegotiate(rw, auth); err != nil {
		return err
	}
	return ClientConnect(rw, host, port)
}

func ClientNegotiate(rw io.ReadWriter, auth Auth) error {
	if _, err := txsocks5.NewNegotiationRequest(offeredMethods).WriteTo(rw); err != nil {
		return fmt.Errorf("write negotiation: %w", err)
	}

	neg, err := txsocks5.NewNegotiationReplyFrom(rw)
	if err != nil {
		return fmt.Errorf("read negotiation: %w", err)
	}

	switch neg.Method {
	case txsocks5.MethodNone:
		return nil
	case txsocks5.MethodUsernamePassword:
		if auth.Username == "" {
			return fmt.Errorf("%w: gateway requires username/password", ErrRejected)
		}

		if _, err := txsocks5.NewUserPassNegotiationRequest([]byte(auth.Username), []byte(auth.Password)).WriteTo(rw); err != nil {
			return fmt.Errorf("write userpass: %w", err)
		}
		rep, err := txsocks5.NewUserPassNegotiationReplyFrom(rw)
		if err != nil {
			return fmt.Errorf("read userpass: %w", err)
		}
		if rep.Status != txsocks5.UserPassStatusSuccess {
			return fmt.Errorf("%w: auth status %d", ErrRejected, rep.Status)
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported negotiation method: %d", ErrRejected, neg.Method)
	}
}

// ClientConnect sends CONNECT with host encoded as a domain name.
func ClientConnect(rw io.ReadWriter, host string, port uint16) error {
	if len(host) == 0 || len(host) > 255 {
		return fmt.Errorf("socks5 connect: invalid host length %d", len(host))
	}

	dstPort := binary.BigEndian.AppendUint16(nil, port)
	if _, err := txsocks5.NewRequest(txsocks5.CmdConnect, txsocks5.ATYPDomain, []byte(host), dstPort).WriteTo(rw); err != nil {
		return fmt.Errorf("write request: %w", err)
	}

	rep, err := txsocks5.NewReplyFrom(rw)
	if err != nil {
		return fmt.Errorf("read reply: %w", err)
	}
	if rep.Rep != txsocks5.RepSuccess {
		return fmt.Errorf("%w: connect %s reply %d", ErrRejected, hostPort(host, port), rep.Rep)
	}
	return nil
}

func hostPort(host string, port uint16) string {
	return host + ":" + strconv.Itoa(int(port))
}
