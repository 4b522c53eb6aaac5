// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
)

func TestHTTPAPIFlows(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "HTTP API Flow Suite")
}
