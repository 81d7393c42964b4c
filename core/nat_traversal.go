package core

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/huin/goupnp/dcps/internetgateway1"
	"github.com/jackpal/gateway"
	natpmp "github.com/jackpal/go-nat-pmp"
	"github.com/sirupsen/logrus"
)

// natLeaseSecs is the lifetime requested for gateway port mappings.
// Leases are renewed at half-life so a mesh node stays reachable for
// announcements and assignment notifications across lease expiry.
const natLeaseSecs = 3600

// PortMapper is the slice of gateway behavior NAT traversal needs.
// NAT-PMP and UPnP gateways satisfy it through small adapters so the
// renewal loop does not care which protocol answered the probe.
type PortMapper interface {
	MapPort(port, leaseSecs int) error
	UnmapPort(port int) error
	ExternalIP() (net.IP, error)
}

type pmpMapper struct{ client *natpmp.Client }

func (m pmpMapper) MapPort(port, leaseSecs int) error {
	_, err := m.client.AddPortMapping("tcp", port, port, leaseSecs)
	return err
}

func (m pmpMapper) UnmapPort(port int) error {
	_, err := m.client.AddPortMapping("tcp", port, port, 0)
	return err
}

func (m pmpMapper) ExternalIP() (net.IP, error) {
	res, err := m.client.GetExternalAddress()
	if err != nil {
		return nil, err
	}
	a := res.ExternalIPAddress
	return net.IPv4(a[0], a[1], a[2], a[3]), nil
}

type upnpMapper struct {
	client  *internetgateway1.WANIPConnection1
	localIP string
}

func (m upnpMapper) MapPort(port, leaseSecs int) error {
	return m.client.AddPortMapping("", uint16(port), "TCP", uint16(port), m.localIP, true, "icn-mesh", uint32(leaseSecs))
}

func (m upnpMapper) UnmapPort(port int) error {
	return m.client.DeletePortMapping("", uint16(port), "TCP")
}

func (m upnpMapper) ExternalIP() (net.IP, error) {
	s, err := m.client.GetExternalIPAddress()
	if err != nil {
		return nil, err
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("nat: gateway returned unparseable ip %q", s)
	}
	return ip, nil
}

// localOutboundIP reports the interface address the OS would route
// external traffic through; UPnP mappings must name it as the internal
// client.
func localOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

// NATManager keeps the mesh listen port mapped on the local gateway
// and renews the lease until Unmap. It prefers NAT-PMP and falls back
// to UPnP.
type NATManager struct {
	mapper PortMapper
	ip     net.IP

	mu     sync.Mutex
	port   int
	stop   chan struct{}
	closed bool
}

// NewNATManager probes the default gateway, NAT-PMP first.
func NewNATManager() (*NATManager, error) {
	if gw, err := gateway.DiscoverGateway(); err == nil {
		m := pmpMapper{client: natpmp.NewClient(gw)}
		if ip, err := m.ExternalIP(); err == nil {
			return &NATManager{mapper: m, ip: ip, stop: make(chan struct{})}, nil
		}
	}
	clients, _, err := internetgateway1.NewWANIPConnection1Clients()
	if err != nil || len(clients) == 0 {
		return nil, fmt.Errorf("nat: no NAT-PMP or UPnP gateway found")
	}
	local, err := localOutboundIP()
	if err != nil {
		return nil, fmt.Errorf("nat: resolve local address: %w", err)
	}
	m := upnpMapper{client: clients[0], localIP: local}
	ip, err := m.ExternalIP()
	if err != nil {
		return nil, fmt.Errorf("nat: query external ip: %w", err)
	}
	return &NATManager{mapper: m, ip: ip, stop: make(chan struct{})}, nil
}

// Map opens port on the gateway and starts the half-life renewal loop.
func (m *NATManager) Map(port int) error {
	if err := m.mapper.MapPort(port, natLeaseSecs); err != nil {
		return fmt.Errorf("nat: map port %d: %w", port, err)
	}
	m.mu.Lock()
	m.port = port
	m.mu.Unlock()
	go m.renew(port)
	return nil
}

func (m *NATManager) renew(port int) {
	ticker := time.NewTicker(natLeaseSecs / 2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if err := m.mapper.MapPort(port, natLeaseSecs); err != nil {
				logrus.WithError(err).Warn("nat: lease renewal failed")
			}
		}
	}
}

// ExternalAddr renders the publicly reachable multiaddr for the
// mapped port, the form peers can dial back for direct sends.
func (m *NATManager) ExternalAddr() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.port == 0 || m.ip == nil {
		return "", false
	}
	return fmt.Sprintf("/ip4/%s/tcp/%d", m.ip, m.port), true
}

// Unmap stops renewal and releases the gateway mapping.
func (m *NATManager) Unmap() error {
	m.mu.Lock()
	port := m.port
	m.port = 0
	if !m.closed {
		m.closed = true
		close(m.stop)
	}
	m.mu.Unlock()
	if port == 0 {
		return nil
	}
	return m.mapper.UnmapPort(port)
}

// parsePort extracts the TCP port from a libp2p multiaddress string.
func parsePort(addr string) (int, error) {
	parts := strings.Split(addr, "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == "tcp" {
			return strconv.Atoi(parts[i+1])
		}
	}
	return 0, fmt.Errorf("no tcp port in %s", addr)
}
