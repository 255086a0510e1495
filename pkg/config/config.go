// Package config loads node settings from a JSON file and the environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

type Transport string

const (
	TransportHTTP Transport = "http"
	TransportEtcd Transport = "etcd"
)

// Duration is a time.Duration that reads and writes as "5s" in JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"5s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	NodeID        string   `json:"node_id"`
	AdvertiseAddr string   `json:"advertise_addr"`
	ListenAddr    string   `json:"listen_addr"`
	EtcdEndpoints []string `json:"etcd_endpoints"`
	LeaseTTL      int64    `json:"lease_ttl"`

	AccAddrLength int    `json:"acc_addr_length"`
	GroupIDRange  int    `json:"group_id_range"`
	TablePath     string `json:"table_path"`

	Gossip GossipConfig `json:"gossip"`
}

type GossipConfig struct {
	Transport      Transport `json:"transport"`
	Fanout         int       `json:"fanout"`
	Interval       Duration  `json:"interval"`
	RecordTTL      Duration  `json:"record_ttl"`
	FetchTimeout   Duration  `json:"fetch_timeout"`
	Push           bool      `json:"push"`
	RecordCapacity int       `json:"record_capacity_bytes"`
}

func Default() *Config {
	return &Config{
		ListenAddr:    ":8080",
		EtcdEndpoints: []string{"http://etcd:2379"},
		LeaseTTL:      10,
		AccAddrLength: 4,
		GroupIDRange:  10,
		TablePath:     "./data/groups.json",
		Gossip: GossipConfig{
			Transport:      TransportHTTP,
			Fanout:         3,
			Interval:       Duration(5 * time.Second),
			RecordTTL:      Duration(30 * time.Second),
			FetchTimeout:   Duration(2 * time.Second),
			RecordCapacity: 16 << 20,
		},
	}
}

// LoadConfig reads path over the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables.
func (c *Config) ApplyEnv() error {
	c.NodeID = getEnv("SELF_ID", c.NodeID)
	c.AdvertiseAddr = getEnv("SELF_ADDR", c.AdvertiseAddr)
	c.ListenAddr = getEnv("LISTEN_ADDR", c.ListenAddr)
	c.TablePath = getEnv("TABLE_PATH", c.TablePath)
	if v := os.Getenv("ETCD_ENDPOINTS"); v != "" {
		c.EtcdEndpoints = strings.Split(v, ",")
	}
	if v := os.Getenv("DHT_TRANSPORT"); v != "" {
		c.Gossip.Transport = Transport(v)
	}

	var err error
	if c.AccAddrLength, err = getEnvInt("ACC_ADDR_LENGTH", c.AccAddrLength); err != nil {
		return err
	}
	if c.GroupIDRange, err = getEnvInt("GROUP_ID_RANGE", c.GroupIDRange); err != nil {
		return err
	}
	return nil
}

// Finalize fills derived values: a random node ID and an advertise address
// taken from the listen address. A listen address without a host (":8080")
// is advertised under the machine's hostname.
func (c *Config) Finalize() {
	if c.NodeID == "" {
		c.NodeID = uuid.NewString()
	}
	if c.AdvertiseAddr == "" {
		c.AdvertiseAddr = c.ListenAddr
		if advertiseHost(c.AdvertiseAddr) == "" {
			if host, err := os.Hostname(); err == nil && host != "" {
				_, port, _ := net.SplitHostPort(c.ListenAddr)
				c.AdvertiseAddr = net.JoinHostPort(host, port)
			}
		}
	}
}

// advertiseHost returns the host part of addr, which may carry an http(s)
// scheme and may omit the port.
func advertiseHost(addr string) string {
	addr = strings.TrimPrefix(strings.TrimPrefix(addr, "http://"), "https://")
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func (c *Config) Validate() error {
	var errs []error
	if c.NodeID == "" {
		errs = append(errs, errors.New("node_id is required"))
	}
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr is required"))
	}
	if advertiseHost(c.AdvertiseAddr) == "" {
		errs = append(errs, fmt.Errorf("advertise_addr %q has no host peers can dial", c.AdvertiseAddr))
	}
	if c.AccAddrLength <= 0 {
		errs = append(errs, fmt.Errorf("acc_addr_length must be positive, got %d", c.AccAddrLength))
	}
	if c.GroupIDRange <= 0 {
		errs = append(errs, fmt.Errorf("group_id_range must be positive, got %d", c.GroupIDRange))
	}
	switch c.Gossip.Transport {
	case TransportHTTP:
	case TransportEtcd:
		if len(c.EtcdEndpoints) == 0 {
			errs = append(errs, errors.New("etcd transport needs etcd_endpoints"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown gossip transport %q", c.Gossip.Transport))
	}
	if c.Gossip.Fanout <= 0 {
		errs = append(errs, fmt.Errorf("gossip.fanout must be positive, got %d", c.Gossip.Fanout))
	}
	if c.Gossip.Interval <= 0 {
		errs = append(errs, errors.New("gossip.interval must be positive"))
	}
	if c.Gossip.RecordCapacity <= 0 {
		errs = append(errs, errors.New("gossip.record_capacity_bytes must be positive"))
	}
	return multierr.Combine(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
