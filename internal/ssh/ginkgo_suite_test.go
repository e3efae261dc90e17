package ssh

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestSshSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "ssh package suite")
}
