package config

import (
	"crypto/rand"
	"fmt"
)

func randomSecret() ([]byte, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate vrf secret: %w", err)
	}
	return secret, nil
}
