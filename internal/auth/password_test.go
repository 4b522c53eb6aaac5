// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"bytes"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/credkeep/internal/auth"
	"github.com/holomush/credkeep/pkg/errutil"
)

func TestPassword_NeverPrinted(t *testing.T) {
	pw := auth.Password("hunter2-Secret")

	assert.Equal(t, "[REDACTED]", pw.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", pw))
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%#v", pw))

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logger.Info("login", "password", pw)
	assert.NotContains(t, buf.String(), "hunter2")
	assert.Contains(t, buf.String(), "[REDACTED]")
}

func TestPassword_Len(t *testing.T) {
	assert.Equal(t, 0, auth.Password("").Len())
	assert.True(t, auth.Password("").IsEmpty())
	assert.Equal(t, 4, auth.Password("äöüß").Len())
}

func TestPasswordPolicy_Validate(t *testing.T) {
	policy := auth.DefaultPasswordPolicy()

	tests := []struct {
		name    string
		pw      auth.Password
		wantErr bool
	}{
		{"strong password", "Tr0ub4dor&3x", false},
		{"symbol instead of digit", "Correct-Horse!", false},
		{"too short", "Ab1!", true},
		{"too long", "Abcdefghijklmnopqrst1", true},
		{"no uppercase", "lowercase123!", true},
		{"no lowercase", "UPPERCASE123!", true},
		{"letters only", "OnlyLettersHere", true},
		{"low entropy", "Aaa1111111", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := policy.Validate(tt.pw)
			if tt.wantErr {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, "AUTH_WEAK_PASSWORD")
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestPasswordPolicy_EntropyDisabled(t *testing.T) {
	policy := auth.PasswordPolicy{MinLength: 8, MaxLength: 20}
	assert.NoError(t, policy.Validate("Aaa1111111"))
}
