// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package account holds the user administration operations around the
// credential core: registration, profile reads, preference and profile
// updates, listing, and deletion.
//
// Every user leaves this package as an auth.PublicUser.
package account
