package httpx

import (
	"errors"
	"net"
	"os"
	"strconv"
	"syscall"
)

const maxPortRollAttempts = 42

type Listener struct {
	net.Listener
}

// NewListener binds the address; with rollPorts it walks up
// from the busy port until a free one is found.
func NewListener(address string, rollPorts bool) (*Listener, error) {
	ls, err := net.Listen("tcp4", address)
	if err != nil {
		if rollPorts && isErrorAddressAlreadyInUse(err) {
			host, p, err2 := net.SplitHostPort(address)
			if err2 != nil {
				return nil, err
			}
			port, err2 := strconv.Atoi(p)
			if err2 != nil {
				return nil, err
			}
			for i := port + 1; i < port+maxPortRollAttempts; i++ {
				ls, err = net.Listen("tcp4", net.JoinHostPort(host, strconv.Itoa(i)))
				if err == nil {
					return &Listener{ls}, nil
				}
			}
		}
		return nil, err
	}
	return &Listener{ls}, nil
}

func isErrorAddressAlreadyInUse(err error) bool {
	var eOsSyscall *os.SyscallError
	if !errors.As(err, &eOsSyscall) {
		return false
	}
	var errErrno syscall.Errno
	if !errors.As(eOsSyscall, &errErrno) {
		return false
	}
	return errErrno == syscall.EADDRINUSE
}
