//go:build linux

package tunnel

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// OpenTUN attaches to (or creates) the named TUN interface without packet information
// headers, so every read returns one raw IP packet.
func OpenTUN(name string) (*os.File, error) {
	fd, err := unix.Open("/dev/net/tun", unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("tunnel: open /dev/net/tun: %w", err)
	}
	ifr, err := unix.NewIfreq(name)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("tunnel: interface name %q: %w", name, err)
	}
	ifr.SetUint16(unix.IFF_TUN | unix.IFF_NO_PI)
	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("tunnel: TUNSETIFF %s: %w", name, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("tunnel: set nonblock: %w", err)
	}
	// A non-blocking fd lets os.File use the runtime poller, so Close unblocks Read.
	return os.NewFile(uintptr(fd), "/dev/net/tun:"+name), nil
}
