package models

import (
	"net"
	"strconv"
)

// Source describes one Beast feed. It is read once from configuration and never
// changes for the life of the process.
type Source struct {
	Name    string `mapstructure:"name" yaml:"name"`
	Host    string `mapstructure:"host" yaml:"host"`
	Port    int    `mapstructure:"port" yaml:"port"`
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
}

// Addr returns host:port for dialing
func (s Source) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// DisplayName falls back to the address when no name is configured
func (s Source) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Addr()
}
