package importer_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/omaskery/tracemodel/pkg/importer"
	"github.com/omaskery/tracemodel/pkg/model"
)

var _ = Describe("memory dump assembly", func() {
	var input []interface{}
	var m *model.Model
	var warnings []importer.Warning
	var err error

	JustBeforeEach(func() {
		m, warnings, err = importForTest(input)
	})

	dumpsArgs := func(dumps map[string]interface{}) map[string]interface{} {
		return map[string]interface{}{"dumps": dumps}
	}

	When("two processes contribute to one global dump", func() {
		BeforeEach(func() {
			input = []interface{}{
				map[string]interface{}{"ph": "V", "pid": 1, "ts": 5, "id": "abc", "name": "global_dump"},
				map[string]interface{}{"ph": "v", "pid": 1, "ts": 10, "id": "abc", "name": "process_dump",
					"args": dumpsArgs(map[string]interface{}{
						"process_totals": map[string]interface{}{"resident_set_bytes": "0x1000"},
						"allocators": map[string]interface{}{
							"global/shared": map[string]interface{}{"guid": "g1",
								"attrs": map[string]interface{}{
									"size": map[string]interface{}{"type": "scalar", "units": "bytes", "value": "40"},
								}},
							"malloc": map[string]interface{}{"guid": "g2",
								"attrs": map[string]interface{}{
									"size": map[string]interface{}{"type": "scalar", "units": "bytes", "value": "80"},
								}},
						},
						"allocators_graph": []interface{}{
							map[string]interface{}{"source": "g2", "target": "g1", "type": "ownership", "importance": 1},
						},
					})},
				map[string]interface{}{"ph": "v", "pid": 2, "ts": 20, "id": "abc", "name": "process_dump",
					"args": dumpsArgs(map[string]interface{}{
						"process_totals": map[string]interface{}{"resident_set_bytes": "0x2000"},
						"allocators": map[string]interface{}{
							"global/shared": map[string]interface{}{"guid": "g1",
								"attrs": map[string]interface{}{
									"count": map[string]interface{}{"type": "scalar", "units": "objects", "value": "3"},
								}},
						},
					})},
			}
		})

		It("assembles one global dump with both process dumps", func() {
			Expect(err).To(Succeed())
			Expect(warnings).To(BeEmpty())
			Expect(m.GlobalMemoryDumps()).To(HaveLen(1))

			global := m.GlobalMemoryDumps()[0]
			Expect(global.Start).To(Equal(0.005))
			Expect(global.Duration).To(BeNumerically("~", 0.015, 1e-12))
			Expect(global.ProcessDumps()).To(HaveLen(2))

			Expect(global.ProcessDumps()[0].Totals.ResidentBytes).To(Equal(uint64(0x1000)))
			Expect(global.ProcessDumps()[1].Totals.ResidentBytes).To(Equal(uint64(0x2000)))
		})

		It("merges the shared allocator dump onto the global dump", func() {
			Expect(err).To(Succeed())

			global := m.GlobalMemoryDumps()[0]
			shared := global.AllocatorDumpByFullName("shared")
			Expect(shared).NotTo(BeNil())
			Expect(shared.GUID()).To(Equal("g1"))
			Expect(shared.Attributes()).To(HaveKey("size"))
			Expect(shared.Attributes()).To(HaveKey("count"))

			// each contributing process dump keeps its own local tree
			pd := global.ProcessDumps()[0]
			Expect(pd.AllocatorDumpByFullName("malloc")).NotTo(BeNil())
			Expect(pd.AllocatorDumpByFullName("shared")).To(BeNil())
		})

		It("applies the ownership edge across containers", func() {
			Expect(err).To(Succeed())

			global := m.GlobalMemoryDumps()[0]
			shared := global.AllocatorDumpByFullName("shared")
			malloc := global.ProcessDumps()[0].AllocatorDumpByFullName("malloc")

			Expect(malloc.OwnsEdge).NotTo(BeNil())
			Expect(malloc.OwnsEdge.Target).To(BeIdenticalTo(shared))
			Expect(malloc.OwnsEdge.Importance).To(Equal(1))
			Expect(shared.OwnedByEdges).To(HaveLen(1))
		})
	})

	When("an allocator name has several path segments", func() {
		BeforeEach(func() {
			input = []interface{}{
				map[string]interface{}{"ph": "v", "pid": 1, "ts": 10, "id": "abc", "name": "process_dump",
					"args": dumpsArgs(map[string]interface{}{
						"process_totals": map[string]interface{}{"resident_set_bytes": "0x1000"},
						"allocators": map[string]interface{}{
							"v8/heap/code": map[string]interface{}{"guid": "g1",
								"attrs": map[string]interface{}{}},
						},
					})},
			}
		})

		It("creates the implicit intermediate dumps and links the tree", func() {
			Expect(err).To(Succeed())

			pd := m.GlobalMemoryDumps()[0].ProcessDumps()[0]
			leaf := pd.AllocatorDumpByFullName("v8/heap/code")
			mid := pd.AllocatorDumpByFullName("v8/heap")
			root := pd.AllocatorDumpByFullName("v8")

			Expect(leaf).NotTo(BeNil())
			Expect(mid).NotTo(BeNil())
			Expect(root).NotTo(BeNil())
			Expect(leaf.Parent).To(BeIdenticalTo(mid))
			Expect(mid.Parent).To(BeIdenticalTo(root))
			Expect(root.Parent).To(BeNil())
			Expect(pd.RootAllocatorDumps()).To(ConsistOf(root))

			// parent names are strict '/'-prefixes of their children
			Expect(leaf.FullName()).To(HavePrefix(mid.FullName() + "/"))
			Expect(mid.FullName()).To(HavePrefix(root.FullName() + "/"))
		})
	})

	When("the peak resident size arrives without its resettable flag", func() {
		BeforeEach(func() {
			input = []interface{}{
				map[string]interface{}{"ph": "v", "pid": 1, "ts": 10, "id": "abc", "name": "process_dump",
					"args": dumpsArgs(map[string]interface{}{
						"process_totals": map[string]interface{}{
							"resident_set_bytes":      "0x1000",
							"peak_resident_set_bytes": "0x2000",
						},
					})},
			}
		})

		It("warns and drops the peak", func() {
			Expect(err).To(Succeed())
			Expect(warningsOfType(warnings, importer.WarningMemoryDumpParse)).To(HaveLen(1))

			totals := m.GlobalMemoryDumps()[0].ProcessDumps()[0].Totals
			Expect(totals.ResidentBytes).To(Equal(uint64(0x1000)))
			Expect(totals.PeakResidentBytes).To(BeNil())
		})
	})

	When("the resident size is missing", func() {
		BeforeEach(func() {
			input = []interface{}{
				map[string]interface{}{"ph": "v", "pid": 1, "ts": 10, "id": "abc", "name": "process_dump",
					"args": dumpsArgs(map[string]interface{}{
						"process_totals": map[string]interface{}{},
					})},
			}
		})

		It("warns and leaves the totals unset", func() {
			Expect(err).To(Succeed())
			Expect(warningsOfType(warnings, importer.WarningMemoryDumpParse)).To(HaveLen(1))
			Expect(m.GlobalMemoryDumps()[0].ProcessDumps()[0].Totals).To(BeNil())
		})
	})

	When("process dumps disagree on the level of detail", func() {
		BeforeEach(func() {
			input = []interface{}{
				map[string]interface{}{"ph": "v", "pid": 1, "ts": 10, "id": "abc", "name": "process_dump",
					"args": dumpsArgs(map[string]interface{}{
						"process_totals":  map[string]interface{}{"resident_set_bytes": "0x1000"},
						"level_of_detail": "light",
					})},
				map[string]interface{}{"ph": "v", "pid": 2, "ts": 20, "id": "abc", "name": "process_dump",
					"args": dumpsArgs(map[string]interface{}{
						"process_totals":  map[string]interface{}{"resident_set_bytes": "0x1000"},
						"level_of_detail": "detailed",
					})},
			}
		})

		It("warns and takes the maximum", func() {
			Expect(err).To(Succeed())
			Expect(warningsOfType(warnings, importer.WarningMemoryDumpParse)).To(HaveLen(1))
			Expect(m.GlobalMemoryDumps()[0].LevelOfDetail).To(Equal(model.LevelOfDetailDetailed))
		})
	})

	When("a level of detail is unrecognised", func() {
		BeforeEach(func() {
			input = []interface{}{
				map[string]interface{}{"ph": "v", "pid": 1, "ts": 10, "id": "abc", "name": "process_dump",
					"args": dumpsArgs(map[string]interface{}{
						"process_totals":  map[string]interface{}{"resident_set_bytes": "0x1000"},
						"level_of_detail": "everything",
					})},
			}
		})

		It("warns", func() {
			Expect(err).To(Succeed())
			Expect(warningsOfType(warnings, importer.WarningMemoryDumpParse)).To(HaveLen(1))
		})
	})

	When("one pid contributes twice to a dump id", func() {
		BeforeEach(func() {
			totals := dumpsArgs(map[string]interface{}{
				"process_totals": map[string]interface{}{"resident_set_bytes": "0x1000"},
			})
			input = []interface{}{
				map[string]interface{}{"ph": "v", "pid": 1, "ts": 10, "id": "abc", "name": "process_dump", "args": totals},
				map[string]interface{}{"ph": "v", "pid": 1, "ts": 20, "id": "abc", "name": "process_dump", "args": totals},
			}
		})

		It("warns and keeps the first contribution", func() {
			Expect(err).To(Succeed())
			Expect(warningsOfType(warnings, importer.WarningMemoryDumpParse)).To(HaveLen(1))
			Expect(m.GlobalMemoryDumps()[0].ProcessDumps()).To(HaveLen(1))
		})
	})

	When("a dump id sees a second global event", func() {
		BeforeEach(func() {
			input = []interface{}{
				map[string]interface{}{"ph": "V", "pid": 1, "ts": 5, "id": "abc", "name": "global_dump"},
				map[string]interface{}{"ph": "V", "pid": 1, "ts": 6, "id": "abc", "name": "global_dump"},
			}
		})

		It("warns", func() {
			Expect(err).To(Succeed())
			Expect(warningsOfType(warnings, importer.WarningMemoryDumpParse)).To(HaveLen(1))
		})
	})

	When("a second ownership edge leaves the same source", func() {
		BeforeEach(func() {
			input = []interface{}{
				map[string]interface{}{"ph": "v", "pid": 1, "ts": 10, "id": "abc", "name": "process_dump",
					"args": dumpsArgs(map[string]interface{}{
						"process_totals": map[string]interface{}{"resident_set_bytes": "0x1000"},
						"allocators": map[string]interface{}{
							"a": map[string]interface{}{"guid": "g1", "attrs": map[string]interface{}{}},
							"b": map[string]interface{}{"guid": "g2", "attrs": map[string]interface{}{}},
							"c": map[string]interface{}{"guid": "g3", "attrs": map[string]interface{}{}},
						},
						"allocators_graph": []interface{}{
							map[string]interface{}{"source": "g1", "target": "g2", "type": "ownership", "importance": 0},
							map[string]interface{}{"source": "g1", "target": "g3", "type": "ownership", "importance": 0},
						},
					})},
			}
		})

		It("warns and keeps the first edge", func() {
			Expect(err).To(Succeed())
			Expect(warningsOfType(warnings, importer.WarningMemoryDumpParse)).To(HaveLen(1))

			pd := m.GlobalMemoryDumps()[0].ProcessDumps()[0]
			a := pd.AllocatorDumpByFullName("a")
			Expect(a.OwnsEdge.Target).To(BeIdenticalTo(pd.AllocatorDumpByFullName("b")))
		})
	})

	When("a heap dump references process-scoped stack frames", func() {
		BeforeEach(func() {
			input = []interface{}{
				map[string]interface{}{"ph": "M", "pid": 1, "ts": 0, "name": "stackFrames",
					"args": map[string]interface{}{"stackFrames": map[string]interface{}{
						"f1": map[string]interface{}{"name": "malloc_site"},
					}}},
				map[string]interface{}{"ph": "v", "pid": 1, "ts": 10, "id": "abc", "name": "process_dump",
					"args": dumpsArgs(map[string]interface{}{
						"process_totals": map[string]interface{}{"resident_set_bytes": "0x1000"},
						"heaps": map[string]interface{}{
							"malloc": map[string]interface{}{"entries": []interface{}{
								map[string]interface{}{"size": "20", "sf": "f1"},
								map[string]interface{}{"size": "10", "sf": "missing"},
							}},
						},
					})},
			}
		})

		It("resolves frames and drops entries whose frame is missing", func() {
			Expect(err).To(Succeed())
			Expect(warningsOfType(warnings, importer.WarningMemoryDumpParse)).To(HaveLen(1))

			pd := m.GlobalMemoryDumps()[0].ProcessDumps()[0]
			heap := pd.HeapDumps["malloc"]
			Expect(heap).NotTo(BeNil())
			Expect(heap.Entries).To(HaveLen(1))
			Expect(heap.Entries[0].SizeInBytes).To(Equal(uint64(0x20)))
			Expect(heap.Entries[0].LeafStackFrame.Title).To(Equal("malloc_site"))
		})
	})

	When("memory maps are present", func() {
		BeforeEach(func() {
			input = []interface{}{
				map[string]interface{}{"ph": "v", "pid": 1, "ts": 10, "id": "abc", "name": "process_dump",
					"args": dumpsArgs(map[string]interface{}{
						"process_totals": map[string]interface{}{"resident_set_bytes": "0x1000"},
						"process_mmaps": map[string]interface{}{
							"vm_regions": []interface{}{
								map[string]interface{}{
									"sa": "400000", "sz": "1000", "pf": 5, "mf": "/bin/app",
									"bs": map[string]interface{}{"pc": "10", "pd": "20", "pss": "30"},
								},
							},
						},
					})},
			}
		})

		It("parses the regions with their byte stats", func() {
			Expect(err).To(Succeed())
			Expect(warnings).To(BeEmpty())

			regions := m.GlobalMemoryDumps()[0].ProcessDumps()[0].VMRegions
			Expect(regions).To(HaveLen(1))
			Expect(regions[0].StartAddress).To(Equal(uint64(0x400000)))
			Expect(regions[0].SizeInBytes).To(Equal(uint64(0x1000)))
			Expect(regions[0].ProtectionFlags).To(Equal(model.VMRegionProtectionRead | model.VMRegionProtectionExecute))
			Expect(regions[0].MappedFile).To(Equal("/bin/app"))
			Expect(*regions[0].ByteStats.PrivateCleanResident).To(Equal(uint64(0x10)))
			Expect(*regions[0].ByteStats.PrivateDirtyResident).To(Equal(uint64(0x20)))
			Expect(*regions[0].ByteStats.ProportionalResident).To(Equal(uint64(0x30)))
			Expect(regions[0].ByteStats.Swapped).To(BeNil())
		})
	})
})
