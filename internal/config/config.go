// Package config provides runtime configuration backed by viper.
// Environment variables use the TM prefix (TM_LOCK_TIMEOUT, TM_ENFORCEMENT,
// etc.) and take precedence over the workspace config file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton. Should be called
// once at startup; safe to call again (the singleton is rebuilt).
func Initialize(workspaceConfigPath string) error {
	v = viper.New()
	v.SetConfigType("json")

	// Environment variables take precedence over the config file.
	// TM_LOCK_TIMEOUT maps to "lock-timeout", TM_HOOKS_DIR to "hooks-dir".
	v.SetEnvPrefix("TM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("lock-timeout", "10s")
	v.SetDefault("hook-timeout", "5s")
	v.SetDefault("busy-timeout", "30s")
	v.SetDefault("enforcement", "standard")
	v.SetDefault("hooks-dir", "")
	v.SetDefault("agent-id", "")
	v.SetDefault("workspace", "")

	if workspaceConfigPath != "" {
		if info, err := os.Stat(workspaceConfigPath); err == nil && info.Size() > 0 {
			v.SetConfigFile(workspaceConfigPath)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("error reading config file: %w", err)
			}
		}
	}
	return nil
}

func ensure() *viper.Viper {
	if v == nil {
		_ = Initialize("")
	}
	return v
}

// GetString returns a string config value.
func GetString(key string) string {
	return ensure().GetString(key)
}

// GetBool returns a boolean config value.
func GetBool(key string) bool {
	return ensure().GetBool(key)
}

// Set overrides a config value for the current process.
func Set(key string, value any) {
	ensure().Set(key, value)
}

// GetDuration returns a duration config value. Bare numbers are read as
// seconds, matching the TM_LOCK_TIMEOUT / TM_HOOK_TIMEOUT contract.
func GetDuration(key string) time.Duration {
	raw := ensure().GetString(key)
	if raw == "" {
		return 0
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	var secs float64
	if _, err := fmt.Sscanf(raw, "%f", &secs); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return 0
}

// LockTimeout returns the workspace lock acquisition timeout.
func LockTimeout() time.Duration {
	if d := GetDuration("lock-timeout"); d > 0 {
		return d
	}
	return 10 * time.Second
}

// HookTimeout returns the per-hook execution timeout.
func HookTimeout() time.Duration {
	if d := GetDuration("hook-timeout"); d > 0 {
		return d
	}
	return 5 * time.Second
}

// BusyTimeout returns the store busy retry budget.
func BusyTimeout() time.Duration {
	if d := GetDuration("busy-timeout"); d > 0 {
		return d
	}
	return 30 * time.Second
}
