// Package creds provides interfaces.HostCredsProvider implementations.
//
// Providers never cache: every HostCreds call re-reads the environment or
// the profile file, so rotated tokens are picked up by the next request.
package creds

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-ini/ini"
	"github.com/ruteri/artifact-repository/interfaces"
)

// Environment variables understood by EnvProvider and emitted by Environ.
const (
	EnvTrackingHost     = "TRACKING_HOST"
	EnvTrackingToken    = "TRACKING_TOKEN"
	EnvTrackingUsername = "TRACKING_USERNAME"
	EnvTrackingPassword = "TRACKING_PASSWORD"
	EnvTrackingInsecure = "TRACKING_INSECURE_TLS"
)

// StaticProvider always returns the same credentials.
type StaticProvider struct {
	Creds interfaces.HostCreds
}

// HostCreds returns the configured credentials.
func (p StaticProvider) HostCreds(ctx context.Context) (interfaces.HostCreds, error) {
	return p.Creds, nil
}

// EnvProvider reads credentials from TRACKING_* environment variables.
type EnvProvider struct {
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// HostCreds reads the environment. TRACKING_HOST is required.
func (p EnvProvider) HostCreds(ctx context.Context) (interfaces.HostCreds, error) {
	getenv := p.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	host := strings.TrimSpace(getenv(EnvTrackingHost))
	if host == "" {
		return interfaces.HostCreds{}, fmt.Errorf("%s is not set", EnvTrackingHost)
	}

	insecure := false
	if raw := strings.TrimSpace(getenv(EnvTrackingInsecure)); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return interfaces.HostCreds{}, fmt.Errorf("invalid %s: %w", EnvTrackingInsecure, err)
		}
		insecure = v
	}

	return interfaces.HostCreds{
		Host:     strings.TrimRight(host, "/"),
		Token:    getenv(EnvTrackingToken),
		Username: getenv(EnvTrackingUsername),
		Password: getenv(EnvTrackingPassword),
		Insecure: insecure,
	}, nil
}

// ProfileProvider reads credentials from a section of an INI config file:
//
//	[DEFAULT]
//	host = https://tracking.example.com
//	token = dapi123
//
//	[staging]
//	host = https://staging.example.com
//	username = user
//	password = secret
//	insecure = true
type ProfileProvider struct {
	// Path defaults to ~/.artifactscfg.
	Path string
	// Profile defaults to "DEFAULT".
	Profile string
}

// DefaultProfilePath returns ~/.artifactscfg.
func DefaultProfilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".artifactscfg"
	}
	return filepath.Join(home, ".artifactscfg")
}

// HostCreds loads the profile file and returns the selected section.
func (p ProfileProvider) HostCreds(ctx context.Context) (interfaces.HostCreds, error) {
	path := p.Path
	if path == "" {
		path = DefaultProfilePath()
	}
	profile := p.Profile
	if profile == "" {
		profile = ini.DefaultSection
	}

	cfg, err := ini.Load(path)
	if err != nil {
		return interfaces.HostCreds{}, fmt.Errorf("failed to load credentials profile file %s: %w", path, err)
	}

	section, err := cfg.GetSection(profile)
	if err != nil {
		return interfaces.HostCreds{}, fmt.Errorf("profile %q not found in %s: %w", profile, path, err)
	}

	host := strings.TrimSpace(section.Key("host").String())
	if host == "" {
		return interfaces.HostCreds{}, fmt.Errorf("profile %q in %s has no host", profile, path)
	}

	return interfaces.HostCreds{
		Host:     strings.TrimRight(host, "/"),
		Token:    section.Key("token").String(),
		Username: section.Key("username").String(),
		Password: section.Key("password").String(),
		Insecure: section.Key("insecure").MustBool(false),
	}, nil
}

// Environ renders creds as TRACKING_* variables for a child process.
func Environ(c interfaces.HostCreds) []string {
	env := []string{EnvTrackingHost + "=" + c.Host}
	if c.Token != "" {
		env = append(env, EnvTrackingToken+"="+c.Token)
	}
	if c.Username != "" {
		env = append(env, EnvTrackingUsername+"="+c.Username)
	}
	if c.Password != "" {
		env = append(env, EnvTrackingPassword+"="+c.Password)
	}
	if c.Insecure {
		env = append(env, EnvTrackingInsecure+"=true")
	}
	return env
}
