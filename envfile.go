// Copyright 2026 The Solvstate Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package solvstate

import (
	"io"
	"io/ioutil"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v3"

	"github.com/conda/solvstate/specs"
)

// EnvironmentFile is a declarative environment description: a name and the
// specs the environment must satisfy.
type EnvironmentFile struct {
	Name      string
	Requested map[string]specs.MatchSpec
}

type rawEnvironmentFile struct {
	Name         string   `yaml:"name"`
	Dependencies []string `yaml:"dependencies"`
}

// ReadEnvironmentFile parses an environment YAML file into the requested
// spec set for a create or install operation.
func ReadEnvironmentFile(r io.Reader) (*EnvironmentFile, error) {
	buf, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read environment file")
	}

	raw := rawEnvironmentFile{}
	if err := yaml.Unmarshal(buf, &raw); err != nil {
		return nil, errors.Wrap(err, "unable to parse environment file")
	}

	ef := &EnvironmentFile{
		Name:      raw.Name,
		Requested: make(map[string]specs.MatchSpec, len(raw.Dependencies)),
	}
	for _, dep := range raw.Dependencies {
		ms, err := specs.Parse(dep)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid dependency %q in environment file", dep)
		}
		if prior, dup := ef.Requested[ms.Name()]; dup {
			return nil, errors.Errorf("environment file lists %q twice: %s and %s", ms.Name(), prior, ms)
		}
		ef.Requested[ms.Name()] = ms
	}
	return ef, nil
}
