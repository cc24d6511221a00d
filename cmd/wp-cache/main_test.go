package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestGetOriginURL(t *testing.T) {
	for _, origin := range []string{"", "example.com", "https://example.com/blog", "://bad"} {
		if _, err := getOriginURL(Config{Origin: origin}); err == nil {
			t.Fatalf("Origin %q should be rejected", origin)
		}
	}
	u, err := getOriginURL(Config{Origin: "https://example.com/"})
	if err != nil || u.Host != "example.com" {
		t.Fatalf("Origin is %v (%v)", u, err)
	}
}

func TestApplyDefaults(t *testing.T) {
	config := Config{Port: 9090}
	applyDefaults(&config)
	if config.Port != 9090 || config.AdminPort != 8081 || config.DB != "cache.db" || config.SweepInterval != time.Minute {
		t.Fatalf("Config is %+v", config)
	}
}

func TestWarnOpenAdmin(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	warnOpenAdmin(Config{AdminPort: 8081}, logger)
	if !strings.Contains(buf.String(), `"level":"warn"`) {
		t.Fatalf("Expected a warning, got %q", buf.String())
	}

	buf.Reset()
	warnOpenAdmin(Config{AdminPort: 8081, AdminToken: "secret"}, logger)
	warnOpenAdmin(Config{}, logger)
	if buf.Len() != 0 {
		t.Fatalf("Unexpected log output %q", buf.String())
	}
}
