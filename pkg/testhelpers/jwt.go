// Package testhelpers provides utilities for testing ekaya-orm components.
package testhelpers

import (
	"testing"
	"time"

	"github.com/ekaya-inc/ekaya-orm/pkg/auth"
)

// GeneratePeerToken signs a short-lived token accepted by a peer server
// configured with secret.
func GeneratePeerToken(t *testing.T, secret, session string) string {
	t.Helper()
	token, err := auth.Sign(secret, "test-client", session, time.Minute)
	if err != nil {
		t.Fatalf("failed to sign peer token: %v", err)
	}
	return token
}

// GeneratePeerTokenWithBearer returns the token with the "Bearer " prefix
// for an Authorization header.
func GeneratePeerTokenWithBearer(t *testing.T, secret, session string) string {
	return "Bearer " + GeneratePeerToken(t, secret, session)
}
