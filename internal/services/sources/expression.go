// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package sources

import (
	"fmt"
	"strings"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/pkg/errors"
)

const programCacheTTL = 5 * time.Minute

type programCache struct {
	cache *ttlcache.Cache[string, *vm.Program]
}

func newProgramCache() *programCache {
	return &programCache{
		cache: ttlcache.New(ttlcache.Options[string, *vm.Program]{}.SetDefaultTTL(programCacheTTL)),
	}
}

// Compile returns the compiled program for source, or nil for an empty source.
func (c *programCache) Compile(source string) (*vm.Program, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, nil
	}
	if program, ok := c.cache.Get(source); ok {
		return program, nil
	}

	program, err := CompileFilter(source)
	if err != nil {
		return nil, err
	}
	c.cache.Set(source, program, ttlcache.DefaultTTL)
	return program, nil
}

// CompileFilter checks a filter expression against the Candidate fields.
func CompileFilter(source string) (*vm.Program, error) {
	program, err := expr.Compile(source, expr.Env(Candidate{}), expr.AsBool())
	if err != nil {
		return nil, errors.Wrap(err, "compile source filter")
	}
	return program, nil
}

func evaluate(program *vm.Program, c Candidate) (bool, error) {
	out, err := expr.Run(program, c)
	if err != nil {
		return false, errors.Wrapf(err, "evaluate source filter for %q", c.Name)
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("source filter returned %T", out)
	}
	return ok, nil
}
