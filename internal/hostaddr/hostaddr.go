// Package hostaddr formats and parses the "host:port" strings peers exchange
// when announcing themselves.
package hostaddr

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/danmuck/edgemsg/internal/logging"
	"github.com/danmuck/edgemsg/internal/memory"
)

var (
	ErrMissingPort = errors.New("hostaddr: missing port separator")
	ErrInvalidPort = errors.New("hostaddr: invalid port")
)

// HostString formats host and port as "host:port".
func HostString(host string, port int) (string, error) {
	return memory.Sprintf("%s:%d", host, port)
}

// ParseHostString splits s at its last ':' into host and port.
func ParseHostString(s string) (string, int, error) {
	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return "", 0, ErrMissingPort
	}
	port, err := strconv.Atoi(s[i+1:])
	if err != nil || port < 0 || port > 65535 {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidPort, s[i+1:])
	}
	host, err := memory.StrnDup(s, i)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

// AvailablePort asks the kernel for a free TCP port on all interfaces. It
// returns 0 when none could be obtained.
func AvailablePort() int {
	log := logging.For("hostaddr")
	ln, err := net.Listen("tcp4", ":0")
	if err != nil {
		log.Error().Err(err).Msg("failed to get available port")
		return 0
	}
	defer ln.Close()
	addr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		log.Warn().Msg("failed to read local socket info")
		return 0
	}
	log.Info().Int("port", addr.Port).Msg("available port number")
	return addr.Port
}
