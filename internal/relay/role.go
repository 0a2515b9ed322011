package relay

import (
	"fmt"
	"net"
	"strconv"
)

// Role tags which side of a session a socket faces.
type Role uint8

const (
	// RoleClient is the socket accepted on the bind address.
	RoleClient Role = iota
	// RoleServer is the socket dialed to the remote target.
	RoleServer
)

func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleServer:
		return "server"
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// Opposite returns the role traffic from r is normally forwarded to.
func (r Role) Opposite() Role {
	if r == RoleClient {
		return RoleServer
	}
	return RoleClient
}

// Arrow renders the direction of traffic originating at r, client on the left.
func (r Role) Arrow() string {
	if r == RoleClient {
		return "C -> S"
	}
	return "C <- S"
}

// Mapping identifies one relay instance. It is immutable once a Session
// has been created from it.
type Mapping struct {
	Name          string `yaml:"name" json:"name"`
	BindAddress   string `yaml:"bind" json:"bind"`
	BindPort      int    `yaml:"bind_port" json:"bind_port"`
	RemoteAddress string `yaml:"remote" json:"remote"`
	RemotePort    int    `yaml:"remote_port" json:"remote_port"`
}

// BindAddr is the host:port the listening socket binds to.
func (m Mapping) BindAddr() string {
	return net.JoinHostPort(m.BindAddress, strconv.Itoa(m.BindPort))
}

// RemoteAddr is the host:port of the remote target.
func (m Mapping) RemoteAddr() string {
	return net.JoinHostPort(m.RemoteAddress, strconv.Itoa(m.RemotePort))
}

func (m Mapping) String() string {
	return m.BindAddr() + " -> " + m.RemoteAddr()
}

// Validate reports the first problem that would keep the mapping from binding
// or connecting.
func (m Mapping) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("mapping %s: missing name", m)
	}
	if m.BindPort < 0 || m.BindPort > 65535 {
		return fmt.Errorf("mapping %s: bind port %d out of range", m.Name, m.BindPort)
	}
	if m.RemoteAddress == "" {
		return fmt.Errorf("mapping %s: missing remote address", m.Name)
	}
	if m.RemotePort <= 0 || m.RemotePort > 65535 {
		return fmt.Errorf("mapping %s: remote port %d out of range", m.Name, m.RemotePort)
	}
	return nil
}
