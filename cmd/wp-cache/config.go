package main

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Origin URL to proxy to.
	Origin string `yaml:"origin"`
	// Hostname of the origin, if the origin URL is an address.
	Host          string          `yaml:"host"`
	Port          int             `yaml:"port"`
	AdminPort     int             `yaml:"adminPort"`
	DB            string          `yaml:"db"`
	SweepInterval time.Duration   `yaml:"sweepInterval"`
	AdminToken    string          `yaml:"adminToken"`
	WordPress     WordPressConfig `yaml:"wordpress"`
}

type WordPressConfig struct {
	AdminPath            string        `yaml:"adminPath"`
	LoggedInCookiePrefix string        `yaml:"loggedInCookiePrefix"`
	SharedMaxAge         time.Duration `yaml:"sharedMaxAge"`
}

func getConfig(filename string) (Config, error) {
	var config Config
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = yaml.Unmarshal(configBytes, &config)
	return config, err
}
