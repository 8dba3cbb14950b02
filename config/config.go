// Package config loads the bridge configuration from YAML and HMBRIDGE_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "HMBRIDGE"

type Config struct {
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Callback  CallbackConfig  `mapstructure:"callback"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Etcd      EtcdConfig      `mapstructure:"etcd"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type GatewayConfig struct {
	Host     string        `mapstructure:"host"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Encoding string        `mapstructure:"encoding"`
	Ports    PortsConfig   `mapstructure:"ports"`
	// Interfaces the bridge registers its callback with, e.g. "BidCos-RF".
	Interfaces []string `mapstructure:"interfaces"`
}

// PortsConfig holds the gateway's RPC port per interface.
type PortsConfig struct {
	RF     int `mapstructure:"rf"`
	Wired  int `mapstructure:"wired"`
	HmIP   int `mapstructure:"hmip"`
	CUxD   int `mapstructure:"cuxd"`
	Groups int `mapstructure:"groups"`
}

// ByInterface maps interface names to ports. Unset ports are omitted.
func (p PortsConfig) ByInterface() map[string]int {
	all := map[string]int{
		"BidCos-RF":      p.RF,
		"BidCos-Wired":   p.Wired,
		"HmIP-RF":        p.HmIP,
		"CUxD":           p.CUxD,
		"VirtualDevices": p.Groups,
	}
	for name, port := range all {
		if port <= 0 {
			delete(all, name)
		}
	}
	return all
}

type CallbackConfig struct {
	// Host is advertised to the gateway in the callback URL.
	Host        string        `mapstructure:"host"`
	BasePort    int           `mapstructure:"base_port"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

type BridgeConfig struct {
	// ID prefixes the client id sent with init. Empty generates one.
	ID string `mapstructure:"id"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"` // 0 disables
	Burst int     `mapstructure:"burst"`
}

type MQTTConfig struct {
	Broker      string `mapstructure:"broker"` // empty disables forwarding
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         int    `mapstructure:"qos"`
}

type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"` // empty disables the registry
	TTL         int64         `mapstructure:"ttl"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.host", "")
	v.SetDefault("gateway.timeout", "15s")
	v.SetDefault("gateway.encoding", "ISO-8859-1")
	v.SetDefault("gateway.ports.rf", 2001)
	v.SetDefault("gateway.ports.wired", 2000)
	v.SetDefault("gateway.ports.hmip", 2010)
	v.SetDefault("gateway.ports.cuxd", 8701)
	v.SetDefault("gateway.ports.groups", 9292)
	v.SetDefault("gateway.interfaces", []string{"BidCos-RF"})

	v.SetDefault("callback.host", "127.0.0.1")
	v.SetDefault("callback.base_port", 9125)
	v.SetDefault("callback.read_timeout", "30s")

	v.SetDefault("bridge.id", "")

	v.SetDefault("rate_limit.rps", 0)
	v.SetDefault("rate_limit.burst", 5)

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "hmbridge")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", "hmbridge")
	v.SetDefault("mqtt.qos", 1)

	v.SetDefault("etcd.endpoints", []string{})
	v.SetDefault("etcd.ttl", 10)
	v.SetDefault("etcd.dial_timeout", "5s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
}

// Load reads path (YAML) over the defaults. An empty path uses defaults and
// environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// HMBRIDGE_GATEWAY_HOST overrides gateway.host
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	if c.Gateway.Host == "" {
		errs = append(errs, errors.New("gateway.host is required"))
	}
	if c.Gateway.Timeout <= 0 {
		errs = append(errs, errors.New("gateway.timeout must be positive"))
	}
	if c.Gateway.Encoding == "" {
		errs = append(errs, errors.New("gateway.encoding is required"))
	}
	if len(c.Gateway.Interfaces) == 0 {
		errs = append(errs, errors.New("gateway.interfaces must not be empty"))
	}
	ports := c.Gateway.Ports.ByInterface()
	for _, iface := range c.Gateway.Interfaces {
		if _, ok := ports[iface]; !ok {
			errs = append(errs, fmt.Errorf("gateway.interfaces: no port configured for %q", iface))
		}
	}
	if c.Callback.BasePort <= 0 || c.Callback.BasePort > 65535 {
		errs = append(errs, fmt.Errorf("callback.base_port %d out of range", c.Callback.BasePort))
	}
	if c.Callback.Host == "" {
		errs = append(errs, errors.New("callback.host is required"))
	}
	if c.RateLimit.RPS < 0 {
		errs = append(errs, errors.New("rate_limit.rps must not be negative"))
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("rate_limit.burst must be positive"))
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos %d must be 0, 1 or 2", c.MQTT.QoS))
	}
	if len(c.Etcd.Endpoints) > 0 && c.Etcd.TTL <= 0 {
		errs = append(errs, errors.New("etcd.ttl must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
