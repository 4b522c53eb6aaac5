// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi_test

import (
	"net/http"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/credkeep/internal/auth"
)

var _ = Describe("Credential lifecycle", func() {
	var h *harness

	BeforeEach(func() {
		h = newHarness(GinkgoT())
	})

	login := func(email, password string) (int, loginResponse) {
		rec := h.do(http.MethodPost, "/user/login", map[string]any{"email": email, "password": password}, "")
		if rec.Code != http.StatusOK {
			return rec.Code, loginResponse{}
		}
		return rec.Code, decodeJSON[loginResponse](GinkgoT(), rec)
	}

	It("registers, logs in, refreshes, changes password and logs out", func() {
		By("registering a@x.com")
		rec := h.do(http.MethodPost, "/user", registerBody("a@x.com"), "")
		Expect(rec.Code).To(Equal(http.StatusCreated))
		Expect(rec.Body.String()).NotTo(ContainSubstring("password"))

		By("logging in with the registered password")
		code, first := login("a@x.com", "pw123456")
		Expect(code).To(Equal(http.StatusOK))
		Expect(first.AccessToken).NotTo(BeEmpty())

		By("reading the profile with the access token")
		rec = h.do(http.MethodGet, "/user/profile", nil, first.AccessToken)
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(decodeJSON[auth.PublicUser](GinkgoT(), rec).Email).To(Equal("a@x.com"))

		By("exchanging the refresh token")
		rec = h.do(http.MethodPost, "/user/refresh-token", map[string]any{"refreshToken": first.RefreshToken}, "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		refreshed := decodeJSON[auth.TokenPair](GinkgoT(), rec)

		By("changing the password with the refreshed access token")
		rec = h.do(http.MethodPatch, "/user/change-password", map[string]any{
			"currentPassword":    "pw123456",
			"newPassword":        "N3w-Passw0rd!",
			"confirmNewPassword": "N3w-Passw0rd!",
		}, refreshed.AccessToken)
		Expect(rec.Code).To(Equal(http.StatusOK))

		code, _ = login("a@x.com", "pw123456")
		Expect(code).To(Equal(http.StatusUnauthorized))
		code, second := login("a@x.com", "N3w-Passw0rd!")
		Expect(code).To(Equal(http.StatusOK))

		By("logging out")
		rec = h.do(http.MethodPost, "/user/logout", nil, second.AccessToken)
		Expect(rec.Code).To(Equal(http.StatusOK))

		for _, token := range []string{first.AccessToken, refreshed.AccessToken, second.AccessToken} {
			rec = h.do(http.MethodGet, "/user/profile", nil, token)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		}
		rec = h.do(http.MethodPost, "/user/refresh-token", map[string]any{"refreshToken": second.RefreshToken}, "")
		Expect(rec.Code).To(Equal(http.StatusForbidden))
	})

	It("resets a forgotten password exactly once", func() {
		h.registerAndLogin(GinkgoT(), "a@x.com")

		rec := h.do(http.MethodPost, "/user/reset-password", map[string]any{"email": "a@x.com"}, "")
		Expect(rec.Code).To(Equal(http.StatusAccepted))
		token := h.notifier.Token()
		Expect(token).To(HaveLen(64))

		body := map[string]any{"token": token, "newPassword": "R3set-Passw0rd!", "confirmNewPassword": "R3set-Passw0rd!"}
		rec = h.do(http.MethodPost, "/user/reset-password/confirm", body, "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		rec = h.do(http.MethodPost, "/user/reset-password/confirm", body, "")
		Expect(rec.Code).To(Equal(http.StatusBadRequest))

		code, _ := login("a@x.com", "R3set-Passw0rd!")
		Expect(code).To(Equal(http.StatusOK))
	})

	It("keeps users from editing each other", func() {
		ada := h.registerAndLogin(GinkgoT(), "a@x.com")
		bob := h.registerAndLogin(GinkgoT(), "b@x.com")

		rec := h.do(http.MethodPatch, "/user/"+ada.User.ID, map[string]any{"name": "Mallory"}, bob.AccessToken)
		Expect(rec.Code).To(Equal(http.StatusForbidden))

		rec = h.do(http.MethodGet, "/user/"+ada.User.ID, nil, bob.AccessToken)
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(decodeJSON[auth.PublicUser](GinkgoT(), rec).Name).To(Equal("Ada"))
	})
})
