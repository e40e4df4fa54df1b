package discovery

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Service is one mDNS-advertised endpoint.
type Service struct {
	// Instance is the advertised instance name (e.g., "Mosquitto on pi")
	Instance string

	// Hostname is the mDNS hostname (e.g., "raspberrypi.local.")
	Hostname string

	// IP is the resolved address, IPv4 preferred
	IP string

	// Port is the advertised port
	Port int

	// Metadata contains the TXT record data
	Metadata map[string]string

	// DiscoveredAt is when the service was first seen
	DiscoveredAt time.Time
}

// String returns a human-readable representation of the service.
func (s *Service) String() string {
	return fmt.Sprintf("%s (%s) at %s", s.Instance, s.Hostname, s.Address())
}

// Address returns host:port, bracketing IPv6 addresses.
func (s *Service) Address() string {
	return net.JoinHostPort(s.IP, strconv.Itoa(s.Port))
}

// BrokerURL returns the service as an MQTT server URL.
func (s *Service) BrokerURL() string {
	return "mqtt://" + s.Address()
}

// GetMetadata retrieves a metadata value by key, or returns empty string if not found
func (s *Service) GetMetadata(key string) string {
	if s.Metadata == nil {
		return ""
	}
	return s.Metadata[key]
}
