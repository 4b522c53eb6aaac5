// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"testing"

	"github.com/holomush/credkeep/internal/auth/memory"
)

func newMemoryUsers(t *testing.T) *memory.UserRepository {
	t.Helper()
	return memory.NewUserRepository()
}
