package utils

import "github.com/google/uuid"

// GetToken returns a random identifier. Every upload attempt gets a fresh
// one; file ids are never reused.
func GetToken() string {
	return uuid.NewString()
}
