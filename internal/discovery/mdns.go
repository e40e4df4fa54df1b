package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/muurk/bulkota/internal/logging"
)

const (
	// BrokerServiceType is the mDNS service type for MQTT brokers
	BrokerServiceType = "_mqtt._tcp"

	// DeviceServiceType is the mDNS service type ArduinoOTA devices advertise
	DeviceServiceType = "_arduino._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultScanTimeout is the default timeout for discovery
	DefaultScanTimeout = 5 * time.Second

	// DefaultBrokerPort is the MQTT port used when an entry carries none
	DefaultBrokerPort = 1883

	// DefaultDevicePort is the ArduinoOTA port used when an entry carries none
	DefaultDevicePort = 3232
)

// ErrNotFound is returned when no matching service answered in time.
var ErrNotFound = errors.New("no service found")

// Scanner handles mDNS discovery for one service type
type Scanner struct {
	// ServiceType is the service to browse for (e.g., "_mqtt._tcp")
	ServiceType string

	// Timeout is the maximum time to wait for answers
	Timeout time.Duration

	// DefaultPort replaces a zero port in answers
	DefaultPort int
}

// NewScanner creates a scanner for serviceType with default settings
func NewScanner(serviceType string) *Scanner {
	port := 0
	switch serviceType {
	case BrokerServiceType:
		port = DefaultBrokerPort
	case DeviceServiceType:
		port = DefaultDevicePort
	}
	return &Scanner{
		ServiceType: serviceType,
		Timeout:     DefaultScanTimeout,
		DefaultPort: port,
	}
}

// Scan collects every answer received before the timeout, sorted by
// instance name.
func (s *Scanner) Scan(ctx context.Context) ([]*Service, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	var (
		mu    sync.Mutex
		found = make(map[string]*Service)
	)

	err := s.browse(ctx, func(svc *Service) bool {
		mu.Lock()
		defer mu.Unlock()
		if _, ok := found[svc.Instance]; !ok {
			found[svc.Instance] = svc
			logging.Debug("Discovered service",
				zap.String("type", s.ServiceType),
				zap.String("instance", svc.Instance),
				zap.String("address", svc.Address()),
			)
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	<-ctx.Done()

	mu.Lock()
	defer mu.Unlock()
	services := make([]*Service, 0, len(found))
	for _, svc := range found {
		services = append(services, svc)
	}
	sort.Slice(services, func(i, j int) bool {
		return services[i].Instance < services[j].Instance
	})
	return services, nil
}

// First returns the first answer, or ErrNotFound after the timeout.
func (s *Scanner) First(ctx context.Context) (*Service, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	result := make(chan *Service, 1)
	err := s.browse(ctx, func(svc *Service) bool {
		select {
		case result <- svc:
		default:
		}
		cancel()
		return false
	})
	if err != nil {
		return nil, err
	}

	select {
	case svc := <-result:
		return svc, nil
	case <-ctx.Done():
		// Answer and cancel may race; prefer the answer.
		select {
		case svc := <-result:
			return svc, nil
		default:
		}
		return nil, fmt.Errorf("%w: %s within %s", ErrNotFound, s.ServiceType, s.Timeout)
	}
}

// browse starts the resolver and feeds parsed entries to visit until it
// returns false or ctx is done.
func (s *Scanner) browse(ctx context.Context, visit func(*Service) bool) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				svc := s.parseServiceEntry(entry)
				if svc != nil && !visit(svc) {
					return
				}
			}
		}
	}()

	if err := resolver.Browse(ctx, s.ServiceType, ServiceDomain, entries); err != nil {
		return fmt.Errorf("failed to browse for mDNS services: %w", err)
	}
	return nil
}

// parseServiceEntry converts a zeroconf service entry to a Service.
// Returns nil if the entry has no usable address.
func (s *Scanner) parseServiceEntry(entry *zeroconf.ServiceEntry) *Service {
	if entry == nil {
		return nil
	}

	// Get IP address (prefer IPv4)
	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	}

	// Fallback to IPv6 if no IPv4
	if ip == "" && len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}

	if ip == "" {
		return nil
	}

	port := entry.Port
	if port == 0 {
		port = s.DefaultPort
	}
	if port == 0 {
		return nil
	}

	instance := entry.Instance
	if instance == "" {
		instance = strings.TrimSuffix(entry.HostName, ".")
	}

	// Parse TXT records into metadata
	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		// TXT records are in "key=value" format
		parts := strings.SplitN(txt, "=", 2)
		if len(parts) == 2 {
			metadata[parts[0]] = parts[1]
		} else {
			// Key without value
			metadata[parts[0]] = ""
		}
	}

	return &Service{
		Instance:     instance,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         port,
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}

// FindBroker returns the first MQTT broker that answers within timeout.
func FindBroker(ctx context.Context, timeout time.Duration) (*Service, error) {
	scanner := NewScanner(BrokerServiceType)
	if timeout > 0 {
		scanner.Timeout = timeout
	}
	return scanner.First(ctx)
}

// ScanBrokers lists all MQTT brokers that answer within timeout.
func ScanBrokers(ctx context.Context, timeout time.Duration) ([]*Service, error) {
	scanner := NewScanner(BrokerServiceType)
	if timeout > 0 {
		scanner.Timeout = timeout
	}
	return scanner.Scan(ctx)
}

// ScanDevices lists all ArduinoOTA devices that answer within timeout.
func ScanDevices(ctx context.Context, timeout time.Duration) ([]*Service, error) {
	scanner := NewScanner(DeviceServiceType)
	if timeout > 0 {
		scanner.Timeout = timeout
	}
	return scanner.Scan(ctx)
}
