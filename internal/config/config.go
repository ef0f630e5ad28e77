// Package config loads the YAML configuration for telling's broker and
// client-facing entry points.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/telling-msg/telling/addr"
)

// AddressConfig names one base Address in YAML, selecting a transport and
// supplying only the fields that transport needs.
type AddressConfig struct {
	Transport string `yaml:"transport"` // "inproc", "ipc", or "tcp"
	Name      string `yaml:"name"`      // inproc/ipc name
	Host      string `yaml:"host"`      // tcp host
	Port      int    `yaml:"port"`      // tcp base port
}

// Address builds the addr.Address this config describes.
func (a AddressConfig) Address() (addr.Address, error) {
	switch a.Transport {
	case "", "inproc":
		if a.Name == "" {
			return addr.Address{}, fmt.Errorf("config: inproc address requires name")
		}
		return addr.InprocAddr(a.Name), nil
	case "ipc":
		if a.Name == "" {
			return addr.Address{}, fmt.Errorf("config: ipc address requires name")
		}
		return addr.IPCAddr(a.Name), nil
	case "tcp":
		if a.Host == "" || a.Port == 0 {
			return addr.Address{}, fmt.Errorf("config: tcp address requires host and port")
		}
		return addr.TCPAddr(a.Host, a.Port), nil
	default:
		return addr.Address{}, fmt.Errorf("config: unknown transport %q", a.Transport)
	}
}

// BrokerConfig configures a standalone broker process.
type BrokerConfig struct {
	Base  AddressConfig `yaml:"base"`
	Debug bool          `yaml:"debug"`
}

// ClientConfig configures a process that dials an already-running broker,
// either as an exterior client or as an enlisting service.
type ClientConfig struct {
	Broker AddressConfig `yaml:"broker"`
	Debug  bool          `yaml:"debug"`
}

// LoadBrokerConfig reads and parses a broker YAML file. The default base
// address applies only when the file names no address at all; other
// omitted fields stay at their zero values.
func LoadBrokerConfig(filename string) (*BrokerConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", filename, err)
	}

	cfg := &BrokerConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", filename, err)
	}

	if cfg.Base.Transport == "" && cfg.Base.Name == "" && cfg.Base.Host == "" {
		cfg.Base = AddressConfig{Transport: "tcp", Host: "0.0.0.0", Port: 9001}
	}

	return cfg, nil
}

// LoadClientConfig reads and parses a client YAML file. The default broker
// address applies only when the file names no address at all; other
// omitted fields stay at their zero values.
func LoadClientConfig(filename string) (*ClientConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", filename, err)
	}

	cfg := &ClientConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", filename, err)
	}

	if cfg.Broker.Transport == "" && cfg.Broker.Name == "" && cfg.Broker.Host == "" {
		cfg.Broker = AddressConfig{Transport: "tcp", Host: "127.0.0.1", Port: 9001}
	}

	return cfg, nil
}

// DefaultBrokerConfig returns the configuration used when no file is given.
func DefaultBrokerConfig() *BrokerConfig {
	return &BrokerConfig{
		Base:  AddressConfig{Transport: "tcp", Host: "0.0.0.0", Port: 9001},
		Debug: false,
	}
}

// DefaultClientConfig returns the configuration used when no file is given.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Broker: AddressConfig{Transport: "tcp", Host: "127.0.0.1", Port: 9001},
		Debug:  false,
	}
}
