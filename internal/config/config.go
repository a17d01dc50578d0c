// Package config loads and validates superethd's configuration: defaults,
// overridden by an INI file, overridden by CLI flags, per the precedence
// the daemon's command line documents.
package config

import (
	"fmt"
	"net"
	"net/netip"
	"os"

	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	"github.com/superethd/seth/internal/logging"
	"github.com/superethd/seth/internal/seth"
)

const (
	DefaultMTU        = 1500
	DefaultTXSize     = 1500
	DefaultPort       = 58023
	DefaultIfName     = "seth0"
	MinMTU            = 1200
	MaxMTU            = 9198
	MinTXSize         = 1200
	MaxTXSize         = 9218
	maxIfNameLen      = 15 // IFNAMSIZ - 1
)

// Compression names a channel's wire compression format.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionLZ4  Compression = "lz4"
	CompressionZSTD Compression = "zstd"
)

// Peer is one tunnel destination, either supplied directly via -d/--dst or
// loaded from a peer-list file for multi-peer setups.
type Peer struct {
	Addr        string      `yaml:"addr"`
	Compression Compression `yaml:"compression,omitempty"`
}

// Config is superethd's fully resolved configuration: defaults, then an INI
// file's values, then CLI flags, applied in that order.
type Config struct {
	LogLevel string `ini:"log_level"`
	MTU      int    `ini:"mtu"`
	TXSize   int    `ini:"txsize"`
	Src      string `ini:"src"`
	Dst      string `ini:"dst"`
	Port     int    `ini:"port"`
	IfName   string `ini:"ifname"`

	Compression Compression `ini:"compression"`

	// PeerListFile, if set, is a YAML file of additional peers beyond Dst,
	// letting a deployment configure more destinations than the CLI's
	// single mandatory -d/--dst flag allows.
	PeerListFile string `ini:"peer_list_file"`

	Peers []Peer `ini:"-" yaml:"-"`
}

// Default returns a Config populated with the CLI's documented defaults.
func Default() *Config {
	return &Config{
		LogLevel:    "notice",
		MTU:         DefaultMTU,
		TXSize:      DefaultTXSize,
		Port:        DefaultPort,
		IfName:      DefaultIfName,
		Compression: CompressionNone,
	}
}

// LoadINI overlays the values found in an INI file at path onto cfg,
// leaving fields the file doesn't mention untouched.
func LoadINI(cfg *Config, path string) error {
	f, err := ini.Load(path)
	if err != nil {
		return seth.ConfigErrorf("read config file %s: %w", path, err)
	}
	if err := f.Section("").MapTo(cfg); err != nil {
		return seth.ConfigErrorf("parse config file %s: %w", path, err)
	}
	return nil
}

// LoadPeerList reads an optional YAML file of additional peer destinations,
// appended to cfg.Peers. It is a no-op if path is empty.
func LoadPeerList(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return seth.ConfigErrorf("read peer list %s: %w", path, err)
	}
	var list struct {
		Peers []Peer `yaml:"peers"`
	}
	if err := yaml.Unmarshal(data, &list); err != nil {
		return seth.ConfigErrorf("parse peer list %s: %w", path, err)
	}
	cfg.Peers = append(cfg.Peers, list.Peers...)
	return nil
}

// Validate checks every field against the bounds and mandatory-field rules
// the CLI documents, returning a ConfigError describing the first problem
// found.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return seth.ConfigErrorf("%w", err)
	}
	if c.MTU < MinMTU || c.MTU > MaxMTU {
		return seth.ConfigErrorf("mtu %d out of range [%d, %d]", c.MTU, MinMTU, MaxMTU)
	}
	if c.TXSize < MinTXSize || c.TXSize > MaxTXSize {
		return seth.ConfigErrorf("txsize %d out of range [%d, %d]", c.TXSize, MinTXSize, MaxTXSize)
	}
	if c.TXSize > c.MTU {
		return seth.ConfigErrorf("txsize %d cannot be greater than mtu %d", c.TXSize, c.MTU)
	}
	if c.Src == "" {
		return seth.ConfigErrorf("-s/--src is mandatory")
	}
	if _, err := netip.ParseAddr(c.Src); err != nil {
		return seth.ConfigErrorf("invalid src address %q: %w", c.Src, err)
	}
	if c.Dst == "" {
		return seth.ConfigErrorf("-d/--dst is mandatory")
	}
	if c.Dst != "" {
		if _, err := netip.ParseAddr(c.Dst); err != nil {
			return seth.ConfigErrorf("invalid dst address %q: %w", c.Dst, err)
		}
	}
	if c.Port < 1 || c.Port > 65535 {
		return seth.ConfigErrorf("port %d out of range [1, 65535]", c.Port)
	}
	if len(c.IfName) == 0 || len(c.IfName) > maxIfNameLen {
		return seth.ConfigErrorf("ifname %q must be 1-%d characters", c.IfName, maxIfNameLen)
	}
	if err := c.Compression.validate(); err != nil {
		return err
	}
	for _, p := range c.Peers {
		if _, err := netip.ParseAddr(p.Addr); err != nil {
			return seth.ConfigErrorf("invalid peer address %q: %w", p.Addr, err)
		}
		if err := p.Compression.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c Compression) validate() error {
	switch c {
	case "", CompressionNone, CompressionLZ4, CompressionZSTD:
		return nil
	default:
		return seth.ConfigErrorf("invalid compression %q (want none|lz4|zstd)", c)
	}
}

// AllPeers returns every configured destination: the mandatory -d/--dst
// address (if set) followed by anything loaded from a peer-list file, each
// joined with the configured port.
func (c *Config) AllPeers() []Peer {
	peers := make([]Peer, 0, len(c.Peers)+1)
	port := fmt.Sprint(c.Port)
	if c.Dst != "" {
		comp := c.Compression
		peers = append(peers, Peer{Addr: net.JoinHostPort(c.Dst, port), Compression: comp})
	}
	for _, p := range c.Peers {
		if p.Compression == "" {
			p.Compression = c.Compression
		}
		p.Addr = net.JoinHostPort(p.Addr, port)
		peers = append(peers, p)
	}
	return peers
}
