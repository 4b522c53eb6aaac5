// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil

import (
	"fmt"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestingT is satisfied by *testing.T and ginkgo's GinkgoT().
type TestingT interface {
	require.TestingT
	Helper()
}

// AssertErrorCode asserts that the deepest oops code in err's chain is code.
func AssertErrorCode(t TestingT, err error, code string) {
	t.Helper()
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T", err)
	assert.Equal(t, code, oopsErr.Code())
}

// AssertErrorContext asserts that the merged oops context of err has key set
// to value.
func AssertErrorContext(t TestingT, err error, key string, value any) {
	t.Helper()
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T", err)
	ctx := oopsErr.Context()
	require.Contains(t, ctx, key)
	assert.Equal(t, value, ctx[key])
}

// AssertNoSecret asserts that none of secrets appears in err's message or in
// any oops context value, which is everything LogError would emit.
func AssertNoSecret(t TestingT, err error, secrets ...string) {
	t.Helper()
	require.Error(t, err)
	rendered := err.Error()
	if oopsErr, ok := oops.AsOops(err); ok {
		for k, v := range oopsErr.Context() {
			rendered += fmt.Sprintf(" %s=%v", k, v)
		}
	}
	for _, s := range secrets {
		assert.NotContains(t, rendered, s, "error leaks a secret")
	}
}
