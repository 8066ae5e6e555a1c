package config

import (
	"os"
	"strings"
	"sync"
)

// DockerHostAlias names the host machine from inside a container.
const DockerHostAlias = "host.docker.internal"

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// IsRunningInDocker reports whether /.dockerenv exists. The result is
// cached after the first call.
func IsRunningInDocker() bool {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	return isDockerResult
}

// ResolveHostForDocker maps a loopback database or peer host to the host
// machine when the process runs in a container. HIBERNATE_HOST_ALIAS
// replaces the default alias.
func ResolveHostForDocker(host string) string {
	return resolveHost(host, IsRunningInDocker(), os.Getenv("HIBERNATE_HOST_ALIAS"))
}

func resolveHost(host string, inDocker bool, alias string) string {
	if !inDocker || !isLoopback(host) {
		return host
	}
	if alias == "" {
		alias = DockerHostAlias
	}
	return alias
}

func isLoopback(host string) bool {
	switch strings.ToLower(strings.Trim(host, "[]")) {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
