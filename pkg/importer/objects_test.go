package importer_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/omaskery/tracemodel/pkg/importer"
	"github.com/omaskery/tracemodel/pkg/model"
)

var _ = Describe("object lifecycle", func() {
	var input []interface{}
	var m *model.Model
	var warnings []importer.Warning
	var err error

	JustBeforeEach(func() {
		m, warnings, err = importForTest(input)
	})

	When("an object is created, snapshotted and deleted", func() {
		BeforeEach(func() {
			input = []interface{}{
				map[string]interface{}{"ph": "N", "pid": 1, "ts": 0, "id": "x", "name": "Foo"},
				map[string]interface{}{"ph": "O", "pid": 1, "ts": 1, "id": "x", "name": "Foo",
					"args": map[string]interface{}{"snapshot": map[string]interface{}{"field": 42}}},
				map[string]interface{}{"ph": "D", "pid": 1, "ts": 2, "id": "x", "name": "Foo"},
			}
		})

		It("tracks the full live range", func() {
			Expect(err).To(Succeed())
			Expect(warnings).To(BeEmpty())

			objects := m.Processes()[0].Objects
			Expect(objects.Instances()).To(HaveLen(1))

			instance := objects.Instances()[0]
			Expect(instance.TypeName).To(Equal("Foo"))
			Expect(instance.CreationTs).To(Equal(0.0))
			Expect(instance.DeletionTs).To(Equal(0.002))
			Expect(instance.Snapshots).To(HaveLen(1))
			Expect(instance.Snapshots[0].Ts).To(Equal(0.001))
			Expect(instance.Snapshots[0].Args["field"]).To(Equal(float64(42)))
		})
	})

	When("a snapshot nests an object reference", func() {
		BeforeEach(func() {
			input = []interface{}{
				map[string]interface{}{"ph": "N", "pid": 1, "ts": 0, "id": "x", "name": "Foo"},
				map[string]interface{}{"ph": "O", "pid": 1, "ts": 1, "id": "x", "name": "Foo",
					"args": map[string]interface{}{"snapshot": map[string]interface{}{
						"child": map[string]interface{}{"id": "Bar/y", "field": 42},
					}}},
				map[string]interface{}{"ph": "D", "pid": 1, "ts": 2, "id": "x", "name": "Foo"},
			}
		})

		It("lifts the reference into an implicit instance", func() {
			Expect(err).To(Succeed())
			Expect(warnings).To(BeEmpty())

			objects := m.Processes()[0].Objects
			Expect(objects.Instances()).To(HaveLen(2))

			foo := objects.LatestInstance("x")
			bar := objects.LatestInstance("Bar/y")
			Expect(foo.TypeName).To(Equal("Foo"))
			Expect(bar.TypeName).To(Equal("Bar"))
			Expect(bar.CreationTs).To(Equal(0.001))
			mBounds := m.Bounds()
			Expect(bar.DeletionTs).To(Equal(mBounds.Max()))
			Expect(bar.Snapshots).To(HaveLen(1))
			Expect(bar.Snapshots[0].Args["field"]).To(Equal(float64(42)))

			// the containing field now holds the lifted snapshot itself
			Expect(foo.Snapshots[0].Args["child"]).To(BeIdenticalTo(bar.Snapshots[0]))
		})
	})

	When("a snapshot carries a top-level id", func() {
		BeforeEach(func() {
			input = []interface{}{
				map[string]interface{}{"ph": "O", "pid": 1, "ts": 1, "id": "x", "name": "Foo",
					"args": map[string]interface{}{"snapshot": map[string]interface{}{"id": "Bar/y"}}},
			}
		})

		It("aborts the import", func() {
			Expect(err).To(MatchError(importer.ErrFatalImport))
			Expect(m).To(BeNil())
		})
	})

	When("a nested id does not follow the name/localId form", func() {
		BeforeEach(func() {
			input = []interface{}{
				map[string]interface{}{"ph": "O", "pid": 1, "ts": 1, "id": "x", "name": "Foo",
					"args": map[string]interface{}{"snapshot": map[string]interface{}{
						"child": map[string]interface{}{"id": "nameless"},
					}}},
			}
		})

		It("aborts the import", func() {
			Expect(err).To(MatchError(importer.ErrFatalImport))
		})
	})

	When("a snapshot event has no args.snapshot", func() {
		BeforeEach(func() {
			input = []interface{}{
				map[string]interface{}{"ph": "O", "pid": 1, "ts": 1, "id": "x", "name": "Foo",
					"args": map[string]interface{}{}},
			}
		})

		It("warns and skips the record", func() {
			Expect(err).To(Succeed())
			Expect(warningsOfType(warnings, importer.WarningObjectSnapshotParse)).To(HaveLen(1))
			Expect(m.Processes()).To(BeEmpty())
		})
	})

	When("a snapshot carries cat and base_type control keys", func() {
		BeforeEach(func() {
			input = []interface{}{
				map[string]interface{}{"ph": "O", "pid": 1, "ts": 1, "id": "x", "name": "Foo", "cat": "outer",
					"args": map[string]interface{}{"snapshot": map[string]interface{}{
						"cat": "special", "base_type": "Base", "field": 1,
					}}},
			}
		})

		It("extracts them before the deep copy", func() {
			Expect(err).To(Succeed())

			instance := m.Processes()[0].Objects.LatestInstance("x")
			Expect(instance.Category).To(Equal("special"))
			Expect(instance.Snapshots[0].BaseTypeName).To(Equal("Base"))
			Expect(instance.Snapshots[0].Args).NotTo(HaveKey("cat"))
			Expect(instance.Snapshots[0].Args).NotTo(HaveKey("base_type"))
			Expect(instance.Snapshots[0].Args["field"]).To(Equal(float64(1)))
		})
	})

	When("an N arrives for a live id", func() {
		BeforeEach(func() {
			input = []interface{}{
				map[string]interface{}{"ph": "N", "pid": 1, "ts": 0, "id": "x", "name": "Foo"},
				map[string]interface{}{"ph": "N", "pid": 1, "ts": 5, "id": "x", "name": "Foo"},
			}
		})

		It("warns and keeps the original instance", func() {
			Expect(err).To(Succeed())
			Expect(warningsOfType(warnings, importer.WarningObjectParse)).To(HaveLen(1))
			Expect(m.Processes()[0].Objects.Instances()).To(HaveLen(1))
		})
	})

	When("a D arrives for an id that was never created", func() {
		BeforeEach(func() {
			input = []interface{}{
				map[string]interface{}{"ph": "D", "pid": 1, "ts": 5, "id": "x", "name": "Foo"},
			}
		})

		It("synthesises an implicit instance and stamps the deletion", func() {
			Expect(err).To(Succeed())
			Expect(warnings).To(BeEmpty())

			instance := m.Processes()[0].Objects.LatestInstance("x")
			Expect(instance).NotTo(BeNil())
			Expect(instance.DeletionTs).To(Equal(0.005))
			Expect(instance.DeletionTsExplicit).To(BeTrue())
		})
	})
})
