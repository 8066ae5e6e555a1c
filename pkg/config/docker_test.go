package config

import (
	"testing"
)

func TestResolveHost(t *testing.T) {
	tests := []struct {
		host     string
		inDocker bool
		alias    string
		expected string
	}{
		{"db.example.com", true, "", "db.example.com"},
		{"192.168.1.100", true, "", "192.168.1.100"},
		{"localhost", false, "", "localhost"},
		{"localhost", true, "", DockerHostAlias},
		{"127.0.0.1", true, "", DockerHostAlias},
		{"[::1]", true, "", DockerHostAlias},
		{"LOCALHOST", true, "gateway", "gateway"},
	}
	for _, tt := range tests {
		if got := resolveHost(tt.host, tt.inDocker, tt.alias); got != tt.expected {
			t.Errorf("resolveHost(%q, %v, %q) = %q, want %q", tt.host, tt.inDocker, tt.alias, got, tt.expected)
		}
	}
}

func TestResolveHostForDocker_RemoteHostsUnchanged(t *testing.T) {
	for _, host := range []string{"mydb.example.com", DockerHostAlias} {
		if got := ResolveHostForDocker(host); got != host {
			t.Errorf("ResolveHostForDocker(%q) = %q", host, got)
		}
	}
}
