//go:build !unix

package relay

import "syscall"

var transientErrnos = []error{
	syscall.ECONNRESET,
	syscall.EPIPE,
	syscall.ECONNABORTED,
}
