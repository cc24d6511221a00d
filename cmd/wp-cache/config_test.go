package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestGetConfig(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "wp-cache.yml")
	os.WriteFile(filename, []byte(`
origin: https://203.0.113.10
host: blog.example.com
port: 9090
adminPort: 9091
db: memory
sweepInterval: 30s
adminToken: secret
wordpress:
  adminPath: /wp-admin
  loggedInCookiePrefix: wordpress_logged_in
  sharedMaxAge: 10m
`), 0644)

	config, err := getConfig(filename)
	if err != nil {
		t.Fatal(err)
	}
	want := Config{
		Origin:        "https://203.0.113.10",
		Host:          "blog.example.com",
		Port:          9090,
		AdminPort:     9091,
		DB:            "memory",
		SweepInterval: 30 * time.Second,
		AdminToken:    "secret",
		WordPress: WordPressConfig{
			AdminPath:            "/wp-admin",
			LoggedInCookiePrefix: "wordpress_logged_in",
			SharedMaxAge:         10 * time.Minute,
		},
	}
	if diff := cmp.Diff(want, config); diff != "" {
		t.Fatalf("Config mismatch (-want +got):\n%s", diff)
	}
}

func TestGetConfigMissing(t *testing.T) {
	if _, err := getConfig(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatal("Expected error for missing file")
	}
}
