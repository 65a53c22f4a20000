package common

import (
	"fmt"
	"net"
	"strings"
	"time"
)

type ServerConfig struct {
	Addr     string `help:"Address of the RESP server (e.g., 127.0.0.1:6379)" name:"addr" default:"127.0.0.1:6379"`
	Username string `help:"ACL username sent with AUTH" name:"username"`
	Password string `help:"Password sent with AUTH" name:"password"`
}

func (s *ServerConfig) AuthInfo() *AuthInfo {
	return NewAuthInfo(s.Username, s.Password)
}

type ConnRingConfig struct {
	Size         int           `help:"Number of pipelined connections kept open to the server" name:"size" default:"4"`
	QueueSize    int           `help:"Max in-flight commands per connection" name:"queue-size" default:"1024"`
	DialTimeout  time.Duration `help:"Timeout for a single dial attempt" name:"dial-timeout" default:"3s"`
	ReplyTimeout time.Duration `help:"Timeout waiting for one reply, 0 means only the caller context applies" name:"reply-timeout" default:"5s"`
	DialRetry    time.Duration `help:"Max elapsed time for dial retries" name:"dial-retry" default:"30s"`
}

type WebServerConfig struct {
	EnablePprof bool `help:"Enable pprof for the admin web server" name:"pprof" default:"true"`
}

type MetricsConfig struct {
	EnableMetrics   bool   `help:"Enable metrics collection" name:"enable" default:"false"`
	MetricsPath     string `help:"Metrics path" name:"path" default:"/metrics"`
	MetricsSinkType string `help:"Metrics sink type. support prometheus, in-memory and all." name:"sink" default:"prometheus"`
}

const (
	TransportRing    = "ring"
	TransportGoRedis = "go-redis"
)

type ClientConfig struct {
	ServicePort int             `help:"Port of the admin service (http)" name:"service-port" default:"7080"`
	Transport   string          `help:"Transport used to reach the server: ring or go-redis" name:"transport" default:"ring"`
	Server      ServerConfig    `embed:"" prefix:"server."`
	Ring        ConnRingConfig  `embed:"" prefix:"ring."`
	WebServer   WebServerConfig `embed:"" prefix:"web."`
	Metrics     MetricsConfig   `embed:"" prefix:"metrics."`
}

func DefaultClientConfig(addr string) *ClientConfig {
	return &ClientConfig{
		ServicePort: 7080,
		Transport:   TransportRing,
		Server: ServerConfig{
			Addr: addr,
		},
		Ring: ConnRingConfig{
			Size:         4,
			QueueSize:    1024,
			DialTimeout:  3 * time.Second,
			ReplyTimeout: 5 * time.Second,
			DialRetry:    30 * time.Second,
		},
		Metrics: MetricsConfig{
			MetricsPath:     "/metrics",
			MetricsSinkType: "in-memory",
		},
	}
}

func (c *ClientConfig) ServiceListener() (net.Listener, error) {
	return net.Listen("tcp", fmt.Sprintf(":%d", c.ServicePort))
}

func (c *ClientConfig) Validate() error {
	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		return fmt.Errorf("invalid server address %q: %w", c.Server.Addr, err)
	}
	if c.Server.Username != "" && c.Server.Password == "" {
		return fmt.Errorf("username %s given without password", c.Server.Username)
	}
	if c.Ring.Size <= 0 {
		return fmt.Errorf("invalid ring size: %d", c.Ring.Size)
	}
	if c.Ring.QueueSize <= 0 {
		return fmt.Errorf("invalid queue size: %d", c.Ring.QueueSize)
	}
	switch c.Transport {
	case TransportRing, TransportGoRedis:
	default:
		return fmt.Errorf("invalid transport: %s (must be '%s' or '%s')", c.Transport, TransportRing, TransportGoRedis)
	}
	if c.ServicePort < 0 {
		return fmt.Errorf("invalid service port: %d", c.ServicePort)
	}
	switch strings.ToLower(c.Metrics.MetricsSinkType) {
	case "prometheus", "in-memory", "all":
	default:
		return fmt.Errorf("invalid metrics sink: %s (must be 'prometheus', 'in-memory' or 'all')",
			c.Metrics.MetricsSinkType)
	}
	return nil
}
