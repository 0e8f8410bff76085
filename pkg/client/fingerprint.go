package client

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strings"
)

// DeviceFingerprinter identifies the machine a client runs on.
type DeviceFingerprinter interface {
	Fingerprint() (deviceID, hostname string, err error)
}

// HostFingerprinter derives a device ID from the hostname and the hardware
// addresses of the non-loopback interfaces.
type HostFingerprinter struct{}

func (HostFingerprinter) Fingerprint() (string, string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", "", fmt.Errorf("failed to read hostname: %w", err)
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return "", "", fmt.Errorf("failed to list interfaces: %w", err)
	}

	var macs []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		macs = append(macs, iface.HardwareAddr.String())
	}

	return DeviceID(hostname, macs), hostname, nil
}

// DeviceID hashes the MAC addresses joined with ":" followed by "|" and the
// hostname. Duplicate addresses are dropped and the first occurrence keeps its
// position, so IDs issued by existing installations stay stable.
func DeviceID(hostname string, macs []string) string {
	seen := make(map[string]bool, len(macs))
	unique := make([]string, 0, len(macs))
	for _, mac := range macs {
		if mac == "" || seen[mac] {
			continue
		}
		seen[mac] = true
		unique = append(unique, mac)
	}

	sum := sha256.Sum256([]byte(strings.Join(unique, ":") + "|" + hostname))
	return hex.EncodeToString(sum[:])
}

// StaticFingerprinter reports a fixed identity.
type StaticFingerprinter struct {
	DeviceID string
	Hostname string
}

func (s StaticFingerprinter) Fingerprint() (string, string, error) {
	return s.DeviceID, s.Hostname, nil
}
