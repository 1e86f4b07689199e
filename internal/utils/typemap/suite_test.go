package typemap

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestTypeMap(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "TypeMap Suite")
}
