//go:build unix

package relay

import "golang.org/x/sys/unix"

var transientErrnos = []error{
	unix.ECONNRESET,
	unix.EPIPE,
	unix.ECONNABORTED,
}
