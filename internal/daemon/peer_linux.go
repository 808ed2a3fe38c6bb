//go:build linux

package daemon

import (
	"net"

	"golang.org/x/sys/unix"
)

// peerAttrs returns log attributes identifying the process on the other end
// of a Unix socket.
func peerAttrs(conn net.Conn) []any {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return nil
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return nil
	}

	var cred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil || credErr != nil {
		return nil
	}
	return []any{"pid", cred.Pid, "uid", cred.Uid}
}
