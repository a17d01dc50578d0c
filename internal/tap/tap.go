// Package tap wraps the TAP network interface the PacketSwitch reads
// Ethernet frames from and writes decoded ones back to.
package tap

import (
	"fmt"
	"os/exec"

	"github.com/songgao/water"
)

// Device is a TAP interface configured for the tunnel's MTU.
type Device struct {
	iface *water.Interface
	name  string
	mtu   int
}

// Open creates (or attaches to, on platforms that ignore the name) a TAP
// interface and brings it up at the given MTU.
func Open(name string, mtu int) (*Device, error) {
	cfg := water.Config{DeviceType: water.TAP}
	if name != "" {
		cfg.Name = name
	}

	iface, err := water.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("tap: create interface: %w", err)
	}

	d := &Device{iface: iface, name: iface.Name(), mtu: mtu}
	if err := d.setMTU(mtu); err != nil {
		iface.Close()
		return nil, err
	}
	if err := d.setUp(); err != nil {
		iface.Close()
		return nil, err
	}
	return d, nil
}

// Name returns the OS-assigned interface name.
func (d *Device) Name() string { return d.name }

// MTU returns the interface's configured MTU.
func (d *Device) MTU() int { return d.mtu }

// Read reads one Ethernet frame into buf, returning the number of bytes
// read.
func (d *Device) Read(buf []byte) (int, error) { return d.iface.Read(buf) }

// Write writes one Ethernet frame out to the interface.
func (d *Device) Write(buf []byte) (int, error) { return d.iface.Write(buf) }

// Close releases the underlying interface.
func (d *Device) Close() error { return d.iface.Close() }

func (d *Device) setMTU(mtu int) error {
	cmd := exec.Command("ip", "link", "set", "dev", d.name, "mtu", fmt.Sprint(mtu))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("tap: set mtu on %s: %w (%s)", d.name, err, out)
	}
	return nil
}

func (d *Device) setUp() error {
	cmd := exec.Command("ip", "link", "set", "dev", d.name, "up")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("tap: bring up %s: %w (%s)", d.name, err, out)
	}
	return nil
}

// ConfigureAddress assigns an IPv4 or IPv6 address with the given prefix
// length to the interface, used when the tunnel is also expected to carry
// IP traffic directly rather than purely bridged Ethernet.
func (d *Device) ConfigureAddress(cidr string) error {
	cmd := exec.Command("ip", "addr", "add", cidr, "dev", d.name)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("tap: set address %s on %s: %w (%s)", cidr, d.name, err, out)
	}
	return nil
}
