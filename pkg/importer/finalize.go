package importer

// finalizeImport runs once all handlers and assemblers have finished. Each
// step reads the results of the previous one; the ordering is a hard
// dependency.
func (imp *Importer) finalizeImport() {
	m := imp.model

	// open slices are closed at the world max before bounds are final
	m.AutoCloseOpenSlices()

	m.SortSamples()
	m.UpdateBounds()
	if imp.shiftWorldToZero {
		m.ShiftWorldToZero()
	}
	m.CreateSubSlices()
	m.PruneEmptyContainers()
	m.BuildFlowEventIntervalTree()
	m.CleanupUndeletedObjects()
	m.SortMemoryDumps()
	m.SortInteractionRecords()
	m.SortAlerts()
	m.BuildEventIndices()

	if imp.logger != nil {
		imp.logger.V(1).Info("import finished",
			"processes", len(m.Processes()),
			"warnings", len(imp.warnings),
		)
	}
}
