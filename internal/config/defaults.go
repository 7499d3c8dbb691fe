// Package config loads quotafill configuration from defaults, a config file,
// QUOTAFILL_* environment variables, and command-line flags.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	ProfileBasic = "basic"
	ProfileQuota = "quota"
)

// Profile holds the fill settings a profile presets. Explicit fill.*
// values still win over them.
type Profile struct {
	Generator      string
	Throttle       time.Duration
	ReportEstimate bool
}

// Profiles maps profile names to their presets.
var Profiles = map[string]Profile{
	ProfileBasic: {Generator: "fixed"},
	ProfileQuota: {Generator: "random", Throttle: 50 * time.Millisecond, ReportEstimate: true},
}

// LookupProfile finds a profile by case-insensitive name.
func LookupProfile(name string) (Profile, bool) {
	p, ok := Profiles[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// Defaults contains the values applied before any file, env, or flag.
var Defaults = struct {
	Profile        string
	StoreName      string
	ObjectStore    string
	Backend        string
	Quota          string
	DashboardAddr  string
	DashboardTitle string
	LogLevel       string
	LogFormat      string
	OTLPProtocol   string
	ServiceName    string
}{
	Profile:        ProfileQuota,
	StoreName:      "storageTestDB",
	ObjectStore:    "testStore",
	Backend:        "badger",
	Quota:          "0",
	DashboardAddr:  "localhost:8080",
	DashboardTitle: "Storage Quota Test",
	LogLevel:       "info",
	LogFormat:      "text",
	OTLPProtocol:   "http",
	ServiceName:    "quotafill",
}

// DefaultDataDir returns the default data directory (~/.quotafill).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".quotafill"
	}
	return filepath.Join(home, ".quotafill")
}
