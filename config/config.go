package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DefaultRelays is used when RouterConfig.NostrRelays is left empty.
var DefaultRelays = []string{
	"wss://relay.damus.io",
	"wss://nos.lol",
}

// RouterConfig configures a router.Router: which relays to connect to and
// the local signing key. RelayConnectSeconds is parsed from the
// environment but nothing reads it; RelayPoolChannel.AddRelay waits a
// fixed 15 seconds for a relay connection.
type RouterConfig struct {
	NostrRelays         []string `env:"NOSTR_RELAYS" envSeparator:";"`
	NostrPrivateKey     string   `env:"NOSTR_PRIVATE_KEY"`
	RelayConnectSeconds int      `env:"RELAY_CONNECT_SECONDS" envDefault:"15"`
}

// load the and marshal Configuration from .env file from the UserHomeDir
// if this file was not found, fallback to the os environment variables
func LoadConfig[T any]() (*T, error) {
	// load current users home directory as a string
	homeDir, err := os.UserHomeDir()
	if err != nil {
		slog.Error("error loading home directory", err)
	}
	// check if .env file exist in the home directory
	// if it does, load the configuration from it
	// else fallback to the os environment variables
	if _, err := os.Stat(homeDir + "/.env"); err == nil {
		// load configuration from .env file
		return loadFromEnv[T](homeDir + "/.env")
	} else if _, err := os.Stat(".env"); err == nil {
		// load configuration from .env file in current directory
		return loadFromEnv[T]("")
	} else {
		// load configuration from os environment variables
		return loadFromEnv[T]("")
	}
}

// loadFromEnv loads the configuration from the specified .env file path.
// If the path is empty, it loads .env from the current directory when
// there is one. It returns an error if there was a problem parsing the
// configuration.
func loadFromEnv[T any](path string) (*T, error) {
	// load configuration from .env file
	var err error
	if path != "" {
		err = godotenv.Load(path)
	} else {
		err = godotenv.Load()
	}
	if err != nil {
		cfg, err := env.ParseAs[T]()
		if err != nil {
			return nil, fmt.Errorf("parse configuration: %w", err)
		}
		return &cfg, nil
	}

	// or you can use generics
	cfg, err := env.ParseAs[T]()
	if err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}
	return &cfg, nil
}
