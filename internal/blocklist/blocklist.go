package blocklist

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Blocklist answers whether an inbound event must be refused because its
// endpoint or the endpoint's owner has been blocked for abuse. A nil
// blocklist blocks nothing.
type Blocklist interface {
	// IsEndpointBlocked checks if an endpoint ID is blocked
	IsEndpointBlocked(endpointID string) bool

	// IsUserBlocked checks if an owner's user ID is blocked
	IsUserBlocked(userID string) bool
}

// Data represents the structure of the blocklist.json file
type Data struct {
	Endpoints []string `json:"endpoints"`
	Users     []string `json:"users"`
}

// blocklist is the internal implementation of the Blocklist interface
type blocklist struct {
	data *Data
	// Fast lookup maps
	endpoints map[string]bool
	users     map[string]bool
}

// Load loads the blocklist from a JSON file
func Load(filePath string) (Blocklist, error) {
	raw, err := os.ReadFile(filePath) //nolint:gosec,G304 // This should be a trusted file
	if err != nil {
		return nil, fmt.Errorf("failed to read blocklist file: %w", err)
	}

	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse blocklist JSON: %w", err)
	}

	bl := &blocklist{
		data:      &data,
		endpoints: make(map[string]bool),
		users:     make(map[string]bool),
	}
	for _, id := range data.Endpoints {
		bl.endpoints[strings.ToLower(id)] = true
	}
	for _, id := range data.Users {
		bl.users[strings.ToLower(id)] = true
	}

	return bl, nil
}

// IsEndpointBlocked checks if an endpoint ID is blocked
func (b *blocklist) IsEndpointBlocked(endpointID string) bool {
	if b == nil {
		return false
	}
	return b.endpoints[strings.ToLower(endpointID)]
}

// IsUserBlocked checks if an owner's user ID is blocked
func (b *blocklist) IsUserBlocked(userID string) bool {
	if b == nil {
		return false
	}
	return b.users[strings.ToLower(userID)]
}
