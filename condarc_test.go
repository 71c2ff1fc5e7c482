// Copyright 2026 The Solvstate Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package solvstate

import (
	"strings"
	"testing"
)

func TestReadConfig(t *testing.T) {
	const doc = `
pinned_packages = ["numpy 1.21.*", "python 3.9.*"]
aggressive_update_packages = ["certifi"]
update_modifier = "freeze_installed"
deps_modifier = "no_deps"
offline = true
auto_update_conda = false
pip_interop_enabled = false
`
	cfg, err := ReadConfig(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("ReadConfig: %s", err)
	}

	if len(cfg.Pinned) != 2 {
		t.Fatalf("got %d pins, want 2", len(cfg.Pinned))
	}
	if pin := cfg.Pinned["numpy"]; pin.Version() != "1.21.*" {
		t.Errorf("numpy pin = %q", pin)
	}
	if len(cfg.AggressiveUpdates) != 1 {
		t.Errorf("aggressive_update_packages should replace the default list, got %v", cfg.AggressiveUpdates)
	}
	if cfg.UpdateModifier != FreezeInstalled {
		t.Errorf("UpdateModifier = %v, want FreezeInstalled", cfg.UpdateModifier)
	}
	if cfg.DepsModifier != NoDeps {
		t.Errorf("DepsModifier = %v, want NoDeps", cfg.DepsModifier)
	}
	if !cfg.Offline {
		t.Error("Offline not read")
	}
	if cfg.AutoUpdateSelf {
		t.Error("auto_update_conda = false not honored")
	}
	if cfg.PipInterop {
		t.Error("pip_interop_enabled = false not honored")
	}
}

func TestReadConfigDefaults(t *testing.T) {
	cfg, err := ReadConfig(strings.NewReader(""))
	if err != nil {
		t.Fatalf("ReadConfig: %s", err)
	}
	if !cfg.AutoUpdateSelf {
		t.Error("AutoUpdateSelf should default on when the file is silent")
	}
	for _, name := range []string{"ca-certificates", "certifi", "openssl"} {
		if _, ok := cfg.AggressiveUpdates[name]; !ok {
			t.Errorf("default aggressive updates missing %s", name)
		}
	}
	if cfg.UpdateModifier != UpdateSpecs {
		t.Errorf("UpdateModifier = %v, want the UpdateSpecs default", cfg.UpdateModifier)
	}
	if !cfg.PipInterop {
		t.Error("PipInterop should default on when the file is silent")
	}
}

func TestReadConfigRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"duplicate pin", `pinned_packages = ["numpy 1.21.*", "numpy 1.22.*"]`},
		{"invalid pin spec", `pinned_packages = [">=1.2"]`},
		{"unknown update modifier", `update_modifier = "yolo"`},
		{"unknown deps modifier", `deps_modifier = "sometimes"`},
		{"not toml", `pinned_packages = [`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := ReadConfig(strings.NewReader(c.doc)); err == nil {
				t.Error("ReadConfig accepted invalid input")
			}
		})
	}
}
