package main

import (
	"errors"
	"strings"
	"time"
)

type Settings struct {
	Port        int    `env:"PORT,default=8000"`
	BasePath    string `env:"BASE_PATH,default=/livefeed"`
	LogEncoding string `env:"LOG_ENCODING,default=console"`
	JWTSecret   string `env:"JWT_SECRET"`
	APIKeys     string `env:"API_KEYS"`

	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL,default=20s"`
	ClientBuffer      int           `env:"CLIENT_BUFFER,default=16"`

	MaxConnections      int     `env:"MAX_CONNECTIONS,default=10000"`
	MaxConnectionsPerIP int     `env:"MAX_CONNECTIONS_PER_IP,default=50"`
	ConnectRate         float64 `env:"CONNECT_RATE,default=5"`
	ConnectBurst        int     `env:"CONNECT_BURST,default=10"`
	TrustedProxies      string  `env:"TRUSTED_PROXIES"`

	MongoDBURI      string `env:"MONGODB_URI"`
	MongoDBDatabase string `env:"MONGODB_DATABASE,default=livefeed"`
}

func (s Settings) APIKeyList() []string {
	var keys []string

	for _, key := range strings.Split(s.APIKeys, ",") {
		if key = strings.TrimSpace(key); key != "" {
			keys = append(keys, key)
		}
	}

	return keys
}

// Validate rejects a server nobody could announce to.
func (s Settings) Validate() error {
	if s.JWTSecret == "" && len(s.APIKeyList()) == 0 {
		return errors.New("either JWT_SECRET or API_KEYS must be set")
	}

	return nil
}

// ClientSettings configure the watch and announce commands. Flags override them.
type ClientSettings struct {
	URL         string `env:"LIVEFEED_URL,default=http://localhost:8000/livefeed"`
	Token       string `env:"LIVEFEED_TOKEN"`
	LogEncoding string `env:"LOG_ENCODING,default=console"`
}
