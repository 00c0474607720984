//go:build !linux

package tunnel

import (
	"errors"
	"os"
)

// OpenTUN is only implemented on Linux; other platforms provide the VPN interface
// through their own service and run without the in-process loop.
func OpenTUN(name string) (*os.File, error) {
	return nil, errors.New("tunnel: TUN devices are not supported on this platform")
}
