// Copyright 2026 The Solvstate Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package solvstate

import (
	"fmt"
	"io"
	"io/ioutil"

	toml "github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	"github.com/conda/solvstate/specs"
)

// Config is the validated ambient configuration for a Solver.
type Config struct {
	// Pinned constrains the named packages in every solve of the
	// environment.
	Pinned map[string]specs.MatchSpec
	// AggressiveUpdates always float to their newest candidate, history or
	// not, unless the solve runs offline.
	AggressiveUpdates map[string]specs.MatchSpec

	// UpdateModifier and DepsModifier are the defaults applied when a
	// request leaves them unset.
	UpdateModifier UpdateModifier
	DepsModifier   DepsModifier

	Offline        bool
	AutoUpdateSelf bool
	// PipInterop treats foreign-tool installs (pip) as part of the
	// environment instead of invisible bystanders.
	PipInterop bool
}

// rawConfig mirrors the file syntax 1:1; validation happens when it is
// converted to a Config.
type rawConfig struct {
	PinnedPackages           []string `toml:"pinned_packages"`
	AggressiveUpdatePackages []string `toml:"aggressive_update_packages"`
	UpdateModifier           string   `toml:"update_modifier"`
	DepsModifier             string   `toml:"deps_modifier"`
	Offline                  bool     `toml:"offline"`
	AutoUpdateSelf           *bool    `toml:"auto_update_conda"`
	PipInterop               *bool    `toml:"pip_interop_enabled"`
}

// defaultAggressiveUpdates matches what most installations want floating:
// the certificate bundle must never go stale.
var defaultAggressiveUpdates = []string{"ca-certificates", "certifi", "openssl"}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	cfg := &Config{
		Pinned:            map[string]specs.MatchSpec{},
		AggressiveUpdates: map[string]specs.MatchSpec{},
		AutoUpdateSelf:    true,
		PipInterop:        true,
	}
	for _, name := range defaultAggressiveUpdates {
		cfg.AggressiveUpdates[name] = specs.Bare(name)
	}
	return cfg
}

// ReadConfig reads and validates a configuration file. Settings absent from
// the file keep their defaults; aggressive_update_packages replaces the
// default list entirely when present.
func ReadConfig(r io.Reader) (*Config, error) {
	buf, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read configuration")
	}

	raw := rawConfig{}
	if err := toml.Unmarshal(buf, &raw); err != nil {
		return nil, errors.Wrap(err, "unable to parse configuration")
	}
	return fromRawConfig(raw)
}

func fromRawConfig(raw rawConfig) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Offline = raw.Offline
	if raw.AutoUpdateSelf != nil {
		cfg.AutoUpdateSelf = *raw.AutoUpdateSelf
	}
	if raw.PipInterop != nil {
		cfg.PipInterop = *raw.PipInterop
	}

	for _, s := range raw.PinnedPackages {
		ms, err := specs.Parse(s)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid pinned_packages entry %q", s)
		}
		if prior, dup := cfg.Pinned[ms.Name()]; dup {
			return nil, errors.Errorf("pinned_packages pins %q twice: %s and %s", ms.Name(), prior, ms)
		}
		cfg.Pinned[ms.Name()] = ms
	}

	if len(raw.AggressiveUpdatePackages) > 0 {
		cfg.AggressiveUpdates = map[string]specs.MatchSpec{}
		for _, s := range raw.AggressiveUpdatePackages {
			ms, err := specs.Parse(s)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid aggressive_update_packages entry %q", s)
			}
			cfg.AggressiveUpdates[ms.Name()] = ms.WithoutTarget()
		}
	}

	if raw.UpdateModifier != "" {
		um, err := parseUpdateModifier(raw.UpdateModifier)
		if err != nil {
			return nil, err
		}
		cfg.UpdateModifier = um
	}
	if raw.DepsModifier != "" {
		dm, err := parseDepsModifier(raw.DepsModifier)
		if err != nil {
			return nil, err
		}
		cfg.DepsModifier = dm
	}
	return cfg, nil
}

func parseUpdateModifier(s string) (UpdateModifier, error) {
	for _, um := range []UpdateModifier{UpdateSpecs, UpdateAll, UpdateDeps, FreezeInstalled, SpecsSatisfiedSkipSolve} {
		if um.String() == s {
			return um, nil
		}
	}
	return UpdateSpecs, fmt.Errorf("unknown update_modifier %q", s)
}

func parseDepsModifier(s string) (DepsModifier, error) {
	for _, dm := range []DepsModifier{DepsNotSet, NoDeps, OnlyDeps} {
		if dm.String() == s {
			return dm, nil
		}
	}
	return DepsNotSet, fmt.Errorf("unknown deps_modifier %q", s)
}
