package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "ZEPHYRRING"

type Config struct {
	Host           string
	BasePort       int
	ProbeTimeout   time.Duration
	RequestTimeout time.Duration
	MinID          int
	MaxID          int
	Workers        int
	AdminAddr      string
	EtcdEndpoints  []string
	EtcdPrefix     string
	LeaseTTL       int64
	PrettyLog      bool
}

func Default() Config {
	return Config{
		Host:         "127.0.0.1",
		BasePort:     40000,
		ProbeTimeout: 2 * time.Second,
		MinID:        2,
		MaxID:        999,
		Workers:      16,
		EtcdPrefix:   "/zephyrring/nodes",
		LeaseTTL:     10,
	}
}

// RegisterFlags declares every setting on cmd and binds it into v, together
// with its ZEPHYRRING_* environment variable.
func RegisterFlags(cmd *cobra.Command, v *viper.Viper) {
	d := Default()
	f := cmd.Flags()
	f.String("host", d.Host, "Address every node of the ring listens on")
	f.Int("base-port", d.BasePort, "Node <id> listens on base-port + id")
	f.Duration("probe-timeout", d.ProbeTimeout, "Wait this long for the root before becoming root")
	f.Duration("request-timeout", d.RequestTimeout, "Retry a join request with a new identifier after this long (0 waits forever)")
	f.Int("min-id", d.MinID, "Smallest identifier a joining node may propose")
	f.Int("max-id", d.MaxID, "Largest identifier a joining node may propose")
	f.Int("workers", d.Workers, "Message handlers running in parallel")
	f.String("admin-addr", d.AdminAddr, "Serve /healthz, /info, /members and /metrics on this address")
	f.StringSlice("etcd-endpoints", d.EtcdEndpoints, "Register node addresses in etcd")
	f.String("etcd-prefix", d.EtcdPrefix, "etcd key prefix for node addresses")
	f.Int64("lease-ttl", d.LeaseTTL, "etcd lease TTL in seconds")
	f.Bool("pretty-log", d.PrettyLog, "Human readable logs")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	f.VisitAll(func(fl *pflag.Flag) {
		v.BindPFlag(fl.Name, fl)
	})
}

// Load reads the settings bound by RegisterFlags.
func Load(v *viper.Viper) (Config, error) {
	c := Config{
		Host:           v.GetString("host"),
		BasePort:       v.GetInt("base-port"),
		ProbeTimeout:   v.GetDuration("probe-timeout"),
		RequestTimeout: v.GetDuration("request-timeout"),
		MinID:          v.GetInt("min-id"),
		MaxID:          v.GetInt("max-id"),
		Workers:        v.GetInt("workers"),
		AdminAddr:      v.GetString("admin-addr"),
		EtcdEndpoints:  v.GetStringSlice("etcd-endpoints"),
		EtcdPrefix:     v.GetString("etcd-prefix"),
		LeaseTTL:       v.GetInt64("lease-ttl"),
		PrettyLog:      v.GetBool("pretty-log"),
	}
	if len(c.EtcdEndpoints) == 0 {
		c.EtcdEndpoints = nil
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	if c.Host == "" {
		return errors.New("host must not be empty")
	}
	if c.MinID < 2 {
		return errors.Errorf("min-id %d: identifier 1 is reserved for the root", c.MinID)
	}
	if c.MaxID < c.MinID {
		return errors.Errorf("max-id %d is below min-id %d", c.MaxID, c.MinID)
	}
	if c.BasePort < 0 || c.BasePort+c.MaxID > 65535 {
		return errors.Errorf("base-port %d + max-id %d exceeds 65535", c.BasePort, c.MaxID)
	}
	if c.ProbeTimeout <= 0 {
		return errors.New("probe-timeout must be positive")
	}
	if c.RequestTimeout < 0 {
		return errors.New("request-timeout must not be negative")
	}
	if c.Workers <= 0 {
		return errors.Errorf("workers must be positive, got %d", c.Workers)
	}
	if len(c.EtcdEndpoints) > 0 && c.LeaseTTL <= 0 {
		return errors.Errorf("lease-ttl must be positive, got %d", c.LeaseTTL)
	}
	return nil
}
