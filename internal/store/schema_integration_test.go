//go:build integration

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store_test

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/oklog/ulid/v2"

	"github.com/holomush/credkeep/internal/store"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func insertUser(email string) error {
	_, err := pool.Exec(suiteCtx, `
		INSERT INTO users (id, email, name, surname, password_hash)
		VALUES ($1, $2, 'Ada', 'Lovelace', 'hash')`,
		ulid.Make().String(), email)
	return err
}

var _ = Describe("users schema", func() {
	AfterEach(func() {
		_, err := pool.Exec(suiteCtx, `DELETE FROM users`)
		Expect(err).NotTo(HaveOccurred())
	})

	It("reports ready once connected", func() {
		Expect(store.ReadinessCheck(pool)()).To(BeTrue())
	})

	It("applies column defaults", func() {
		Expect(insertUser("ada@example.com")).To(Succeed())

		var role string
		var active bool
		var gen int64
		err := pool.QueryRow(suiteCtx,
			`SELECT role, is_active, token_generation FROM users WHERE email = $1`,
			"ada@example.com").Scan(&role, &active, &gen)
		Expect(err).NotTo(HaveOccurred())
		Expect(role).To(Equal("user"))
		Expect(active).To(BeTrue())
		Expect(gen).To(BeZero())
	})

	It("rejects duplicate emails regardless of case", func() {
		Expect(insertUser("ada@example.com")).To(Succeed())
		err := insertUser("ADA@example.com")
		Expect(err).To(HaveOccurred())
		Expect(pgCode(err)).To(Equal(pgerrcode.UniqueViolation))
	})

	It("requires reset token hash and expiry to be set together", func() {
		Expect(insertUser("ada@example.com")).To(Succeed())
		_, err := pool.Exec(suiteCtx,
			`UPDATE users SET reset_token_hash = 'abc' WHERE email = $1`, "ada@example.com")
		Expect(err).To(HaveOccurred())
		Expect(pgCode(err)).To(Equal(pgerrcode.CheckViolation))
	})

	It("rejects two users holding the same reset token hash", func() {
		Expect(insertUser("ada@example.com")).To(Succeed())
		Expect(insertUser("grace@example.com")).To(Succeed())

		set := `UPDATE users SET reset_token_hash = 'abc', reset_token_expires_at = now() + interval '1 hour' WHERE email = $1`
		_, err := pool.Exec(suiteCtx, set, "ada@example.com")
		Expect(err).NotTo(HaveOccurred())
		_, err = pool.Exec(suiteCtx, set, "grace@example.com")
		Expect(pgCode(err)).To(Equal(pgerrcode.UniqueViolation))
	})
})
