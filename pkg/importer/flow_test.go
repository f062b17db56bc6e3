package importer_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/omaskery/tracemodel/pkg/importer"
	"github.com/omaskery/tracemodel/pkg/model"
)

var _ = Describe("flow stitching", func() {
	var input []interface{}
	var m *model.Model
	var warnings []importer.Warning
	var err error

	JustBeforeEach(func() {
		m, warnings, err = importForTest(input)
	})

	Describe("v2 bind ids", func() {
		When("a producer and a consumer share a bind id", func() {
			BeforeEach(func() {
				input = []interface{}{
					map[string]interface{}{"ph": "X", "pid": 1, "tid": 1, "ts": 0, "dur": 100,
						"name": "produce", "bind_id": "7", "flow_out": true},
					map[string]interface{}{"ph": "X", "pid": 1, "tid": 2, "ts": 200, "dur": 50,
						"name": "consume", "bind_id": "7", "flow_in": true},
				}
			})

			It("links the two slices with one flow event", func() {
				Expect(err).To(Succeed())
				Expect(warnings).To(BeEmpty())
				Expect(m.FlowEvents()).To(HaveLen(1))

				flow := m.FlowEvents()[0]
				Expect(flow.ID).To(Equal("7"))
				Expect(flow.Start).To(Equal(0.0))
				Expect(flow.Duration).To(Equal(0.2))

				producer := flow.StartSlice
				consumer := flow.EndSlice
				Expect(producer.Title).To(Equal("produce"))
				Expect(consumer.Title).To(Equal("consume"))
				Expect(producer.OutFlowEvents).To(ConsistOf(flow))
				Expect(consumer.InFlowEvents).To(ConsistOf(flow))
				Expect(producer.FlowPhase).To(Equal(model.FlowPhaseProducer))
				Expect(consumer.FlowPhase).To(Equal(model.FlowPhaseConsumer))
			})
		})

		When("one producer has several consumers", func() {
			BeforeEach(func() {
				input = []interface{}{
					map[string]interface{}{"ph": "X", "pid": 1, "tid": 1, "ts": 0, "dur": 10,
						"name": "produce", "bind_id": "7", "flow_out": true},
					map[string]interface{}{"ph": "X", "pid": 1, "tid": 2, "ts": 20, "dur": 10,
						"name": "first", "bind_id": "7", "flow_in": true},
					map[string]interface{}{"ph": "X", "pid": 1, "tid": 3, "ts": 40, "dur": 10,
						"name": "second", "bind_id": "7", "flow_in": true},
				}
			})

			It("fans a fresh flow event out of the producer slice for each extra consumer", func() {
				Expect(err).To(Succeed())
				Expect(m.FlowEvents()).To(HaveLen(2))

				first := m.FlowEvents()[0]
				second := m.FlowEvents()[1]
				Expect(first.StartSlice).To(Equal(second.StartSlice))
				Expect(first.EndSlice.Title).To(Equal("first"))
				Expect(second.EndSlice.Title).To(Equal("second"))
				Expect(first.StartSlice.OutFlowEvents).To(HaveLen(2))
			})
		})

		When("a consumer arrives with no producer", func() {
			BeforeEach(func() {
				input = []interface{}{
					map[string]interface{}{"ph": "X", "pid": 1, "tid": 1, "ts": 0, "dur": 10,
						"name": "consume", "bind_id": "7", "flow_in": true},
				}
			})

			It("warns and drops the link", func() {
				Expect(err).To(Succeed())
				Expect(warningsOfType(warnings, importer.WarningFlowSliceOrdering)).To(HaveLen(1))
				Expect(m.FlowEvents()).To(BeEmpty())
			})
		})

		When("a bind id reopens while still open", func() {
			BeforeEach(func() {
				input = []interface{}{
					map[string]interface{}{"ph": "X", "pid": 1, "tid": 1, "ts": 0, "dur": 10,
						"name": "produce", "bind_id": "7", "flow_out": true},
					map[string]interface{}{"ph": "X", "pid": 1, "tid": 1, "ts": 20, "dur": 10,
						"name": "again", "bind_id": "7", "flow_out": true},
				}
			})

			It("warns", func() {
				Expect(err).To(Succeed())
				Expect(warningsOfType(warnings, importer.WarningFlowSliceOrdering)).To(HaveLen(1))
			})
		})

		When("a step sits between producer and consumer", func() {
			BeforeEach(func() {
				input = []interface{}{
					map[string]interface{}{"ph": "X", "pid": 1, "tid": 1, "ts": 0, "dur": 10,
						"name": "produce", "bind_id": "7", "flow_out": true},
					map[string]interface{}{"ph": "X", "pid": 1, "tid": 2, "ts": 20, "dur": 10,
						"name": "relay", "bind_id": "7", "flow_in": true, "flow_out": true},
					map[string]interface{}{"ph": "X", "pid": 1, "tid": 3, "ts": 40, "dur": 10,
						"name": "consume", "bind_id": "7", "flow_in": true},
				}
			})

			It("chains two flow events through the step slice", func() {
				Expect(err).To(Succeed())
				Expect(m.FlowEvents()).To(HaveLen(2))

				Expect(m.FlowEvents()[0].StartSlice.Title).To(Equal("produce"))
				Expect(m.FlowEvents()[0].EndSlice.Title).To(Equal("relay"))
				Expect(m.FlowEvents()[1].StartSlice.Title).To(Equal("relay"))
				Expect(m.FlowEvents()[1].EndSlice.Title).To(Equal("consume"))
			})
		})
	})

	Describe("v1 s/t/f events", func() {
		When("a flow starts inside one slice and finishes before another", func() {
			BeforeEach(func() {
				input = []interface{}{
					map[string]interface{}{"ph": "X", "pid": 1, "tid": 1, "ts": 0, "dur": 10, "name": "src"},
					map[string]interface{}{"ph": "X", "pid": 1, "tid": 2, "ts": 20, "dur": 10, "name": "dst"},
					map[string]interface{}{"ph": "s", "pid": 1, "tid": 1, "ts": 5, "id": "5", "name": "link"},
					map[string]interface{}{"ph": "f", "pid": 1, "tid": 2, "ts": 15, "id": "5", "name": "link"},
				}
			})

			It("binds the finish to the next slice after its timestamp", func() {
				Expect(err).To(Succeed())
				Expect(warnings).To(BeEmpty())
				Expect(m.FlowEvents()).To(HaveLen(1))

				flow := m.FlowEvents()[0]
				Expect(flow.StartSlice.Title).To(Equal("src"))
				Expect(flow.EndSlice.Title).To(Equal("dst"))
			})
		})

		When("the finish asks to bind to its enclosing slice", func() {
			BeforeEach(func() {
				input = []interface{}{
					map[string]interface{}{"ph": "X", "pid": 1, "tid": 1, "ts": 0, "dur": 10, "name": "src"},
					map[string]interface{}{"ph": "X", "pid": 1, "tid": 2, "ts": 10, "dur": 10, "name": "dst"},
					map[string]interface{}{"ph": "s", "pid": 1, "tid": 1, "ts": 5, "id": "5", "name": "link"},
					map[string]interface{}{"ph": "f", "pid": 1, "tid": 2, "ts": 15, "id": "5", "name": "link", "bp": "e"},
				}
			})

			It("binds to the slice containing the finish", func() {
				Expect(err).To(Succeed())
				Expect(m.FlowEvents()).To(HaveLen(1))
				Expect(m.FlowEvents()[0].EndSlice.Title).To(Equal("dst"))
			})
		})

		When("a step relays the flow", func() {
			BeforeEach(func() {
				input = []interface{}{
					map[string]interface{}{"ph": "X", "pid": 1, "tid": 1, "ts": 0, "dur": 10, "name": "src"},
					map[string]interface{}{"ph": "X", "pid": 1, "tid": 2, "ts": 20, "dur": 10, "name": "mid"},
					map[string]interface{}{"ph": "X", "pid": 1, "tid": 3, "ts": 40, "dur": 10, "name": "dst"},
					map[string]interface{}{"ph": "s", "pid": 1, "tid": 1, "ts": 5, "id": "5", "name": "link"},
					map[string]interface{}{"ph": "t", "pid": 1, "tid": 2, "ts": 25, "id": "5", "name": "link"},
					map[string]interface{}{"ph": "f", "pid": 1, "tid": 3, "ts": 45, "id": "5", "name": "link", "bp": "e"},
				}
			})

			It("closes one flow at the step and opens the next from it", func() {
				Expect(err).To(Succeed())
				Expect(m.FlowEvents()).To(HaveLen(2))
				Expect(m.FlowEvents()[0].StartSlice.Title).To(Equal("src"))
				Expect(m.FlowEvents()[0].EndSlice.Title).To(Equal("mid"))
				Expect(m.FlowEvents()[1].StartSlice.Title).To(Equal("mid"))
				Expect(m.FlowEvents()[1].EndSlice.Title).To(Equal("dst"))
			})
		})

		When("a start lands outside every slice", func() {
			BeforeEach(func() {
				input = []interface{}{
					map[string]interface{}{"ph": "s", "pid": 1, "tid": 1, "ts": 5, "id": "5", "name": "link"},
				}
			})

			It("warns and drops the flow", func() {
				Expect(err).To(Succeed())
				Expect(warningsOfType(warnings, importer.WarningFlowSliceStart)).To(HaveLen(1))
				Expect(m.FlowEvents()).To(BeEmpty())
			})
		})

		When("the finish carries an invalid binding point", func() {
			BeforeEach(func() {
				input = []interface{}{
					map[string]interface{}{"ph": "X", "pid": 1, "tid": 1, "ts": 0, "dur": 10, "name": "src"},
					map[string]interface{}{"ph": "s", "pid": 1, "tid": 1, "ts": 5, "id": "5", "name": "link"},
					map[string]interface{}{"ph": "f", "pid": 1, "tid": 1, "ts": 6, "id": "5", "name": "link", "bp": "w"},
				}
			})

			It("warns and drops the finish", func() {
				Expect(err).To(Succeed())
				Expect(warningsOfType(warnings, importer.WarningFlowSliceBindPoint)).To(HaveLen(1))
				Expect(m.FlowEvents()).To(BeEmpty())
			})
		})

		When("a finish arrives for an id that was never started", func() {
			BeforeEach(func() {
				input = []interface{}{
					map[string]interface{}{"ph": "X", "pid": 1, "tid": 1, "ts": 0, "dur": 10, "name": "src"},
					map[string]interface{}{"ph": "f", "pid": 1, "tid": 1, "ts": 5, "id": "5", "name": "link"},
				}
			})

			It("warns and drops the finish", func() {
				Expect(err).To(Succeed())
				Expect(warningsOfType(warnings, importer.WarningFlowSliceOrdering)).To(HaveLen(1))
			})
		})
	})

	Describe("the flow interval tree", func() {
		BeforeEach(func() {
			input = []interface{}{
				map[string]interface{}{"ph": "X", "pid": 1, "tid": 1, "ts": 0, "dur": 100,
					"name": "produce", "bind_id": "7", "flow_out": true},
				map[string]interface{}{"ph": "X", "pid": 1, "tid": 2, "ts": 200, "dur": 50,
					"name": "consume", "bind_id": "7", "flow_in": true},
			}
		})

		It("indexes every flow event by its span", func() {
			Expect(err).To(Succeed())
			tree := m.FlowIntervalTree()
			Expect(tree).NotTo(BeNil())
			Expect(tree.Size()).To(Equal(1))
			Expect(tree.FindIntersection(0.1, 0.1)).To(HaveLen(1))
			Expect(tree.FindIntersection(0.3, 0.4)).To(BeEmpty())
		})
	})
})
