package typemap

import (
	"context"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/vacthermo/vacthermo/internal/logging"
	"github.com/vacthermo/vacthermo/pkg/core"
)

const cantorData = `LAMMPS data file via write_data

4000 atoms
5 atom types

0 36 xlo xhi
0 36 ylo yhi
0 36 zlo zhi

Masses

1 58.933195 # Co
2 58.6934 # Ni
3 51.9961 # Cr
4 55.845 # Fe
5 54.938045 # Mn

Atoms # atomic

1 1 0 0 0
2 4 1.8 1.8 0
`

var _ = Describe("Discover", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = logging.IntoContext(context.Background(), logging.NewTestLogger(GinkgoWriter))
	})

	Context("with a data file Masses section", func() {
		It("should count entries and pick up comment labels", func() {
			d, err := Discover(ctx, strings.NewReader(cantorData))
			Expect(err).NotTo(HaveOccurred())
			Expect(d.NumTypes).To(Equal(5))
			Expect(d.Labels).To(Equal(TypeMap{1: "Co", 2: "Ni", 3: "Cr", 4: "Fe", 5: "Mn"}))
		})

		It("should leave labels unset when a comment is missing", func() {
			data := strings.Replace(cantorData, "2 58.6934 # Ni", "2 58.6934", 1)
			d, err := Discover(ctx, strings.NewReader(data))
			Expect(err).NotTo(HaveOccurred())
			Expect(d.NumTypes).To(Equal(5))
			Expect(d.Labels).To(BeNil())
		})

		It("should stop at the next section without a blank line", func() {
			data := "Masses\n\n1 55.845\n2 26.98\nAtoms\n\n1 1 0 0 0\n"
			d, err := Discover(ctx, strings.NewReader(data))
			Expect(err).NotTo(HaveOccurred())
			Expect(d.NumTypes).To(Equal(2))
		})
	})

	Context("with an input script", func() {
		It("should count mass commands", func() {
			script := "units metal\nmass 1 55.845\nmass 2 26.98\npair_style eam/alloy\n"
			d, err := Discover(ctx, strings.NewReader(script))
			Expect(err).NotTo(HaveOccurred())
			Expect(d.NumTypes).To(Equal(2))
		})
	})

	It("should fail when nothing declares a mass", func() {
		_, err := Discover(ctx, strings.NewReader("units metal\n"))
		Expect(err).To(MatchError(ErrNoTypes))
	})
})

var _ = Describe("Resolve", func() {
	It("should prefer an explicit map", func() {
		m, err := Resolve("cantor", TypeMap{1: "A", 2: "B"}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Species()).To(Equal([]core.Species{"A", "B"}))
	})

	It("should use discovered labels over the built-in map", func() {
		m, err := Resolve("feal", nil, &Discovery{NumTypes: 2, Labels: TypeMap{1: "Al", 2: "Fe"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(m[1]).To(Equal(core.Species("Al")))
	})

	It("should fall back to the built-in map case-insensitively", func() {
		m, err := Resolve("FeAl", nil, &Discovery{NumTypes: 2})
		Expect(err).NotTo(HaveOccurred())
		Expect(m.String()).To(Equal("1=Fe,2=Al"))
	})

	It("should label unknown systems numerically", func() {
		m, err := Resolve("nial", nil, &Discovery{NumTypes: 3})
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Species()).To(Equal([]core.Species{"1", "2", "3"}))
	})

	It("should reject a count mismatch", func() {
		_, err := Resolve("cantor", nil, &Discovery{NumTypes: 2})
		Expect(err).To(HaveOccurred())
	})

	It("should fail without any source", func() {
		_, err := Resolve("nial", nil, nil)
		Expect(err).To(MatchError(ContainSubstring("no type map")))
	})
})

var _ = Describe("TypeMap", func() {
	It("should parse and validate", func() {
		m, err := Parse("1=Co, 2=Ni")
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Len()).To(Equal(2))
		s, err := m.Resolve(2)
		Expect(err).NotTo(HaveOccurred())
		Expect(s).To(Equal(core.Species("Ni")))
		_, err = m.Resolve(3)
		Expect(err).To(MatchError(ErrUnknownType))
	})

	DescribeTable("rejects malformed maps",
		func(in string) {
			_, err := Parse(in)
			Expect(err).To(HaveOccurred())
		},
		Entry("missing separator", "1Co"),
		Entry("zero type", "0=Co"),
		Entry("gap", "1=Co,3=Ni"),
		Entry("duplicate label", "1=Co,2=Co"),
		Entry("duplicate type", "1=Co,1=Ni"),
		Entry("empty", ""),
	)

	It("should hand out copies of built-in maps", func() {
		m, ok := Lookup("cantor")
		Expect(ok).To(BeTrue())
		m[1] = "X"
		again, _ := Lookup("cantor")
		Expect(again[1]).To(Equal(core.Species("Co")))
		Expect(Systems()).To(Equal([]string{"cantor", "feal"}))
	})
})
