package cellrope

import (
	"slices"
	"time"
)

// ChainStats summarizes the segment layout of a chain.
type ChainStats struct {
	Segments        int   // live segments
	RunSegments     int   // segments holding values
	PaddingSegments int   // segments of empty cells
	PopulatedCells  int64 // cells covered by run segments
	Length          int64 // total linear extent
	References      int   // local references pinned into the chain
}

// MaintenanceStats contains statistics from a maintenance run.
type MaintenanceStats struct {
	MatricesVisited int // matrices compacted
	SegmentsMerged  int // adjacent segments appended into a neighbour
}

// Stats computes the chain's layout statistics.
func (c *Chain) Stats() ChainStats {
	stats := ChainStats{Segments: len(c.order), Length: c.length}
	for _, id := range c.order {
		seg := c.segments[id]
		switch seg.Kind() {
		case RunKind:
			stats.RunSegments++
			stats.PopulatedCells += seg.Length()
		case PaddingKind:
			stats.PaddingSegments++
		}
		stats.References += len(seg.base().refs)
	}
	return stats
}

// Compact appends each segment into its left neighbour when the neighbour
// accepts it and both carry the same properties. Positions and references are
// unchanged. Returns the number of merges.
func (c *Chain) Compact() int {
	merged := 0
	for i := 0; i+1 < len(c.order); {
		left := c.segments[c.order[i]]
		right := c.segments[c.order[i+1]]
		if !left.CanAppend(right) || !left.Properties().Equal(right.Properties()) {
			i++
			continue
		}
		if err := left.Append(right); err != nil {
			i++
			continue
		}

		delete(c.segments, right.ID())
		right.base().id = 0
		c.order = slices.Delete(c.order, i+1, i+2)
		segmentMerges.WithLabelValues(left.Kind().String()).Inc()
		merged++
	}
	return merged
}

// Stats returns the matrix's segment layout statistics.
func (m *Matrix) Stats() ChainStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chain.Stats()
}

// Compact merges adjacent compatible segments and returns the merge count.
// Compaction is local and submits nothing.
func (m *Matrix) Compact() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	merged := m.chain.Compact()
	if merged > 0 {
		m.logger.Debug("matrix compacted", "merged", merged, "segments", m.chain.SegmentCount())
	}
	return merged
}

// Maintain compacts every active matrix.
func (lib *Library) Maintain() MaintenanceStats {
	var stats MaintenanceStats
	for _, m := range lib.Matrices() {
		stats.MatricesVisited++
		stats.SegmentsMerged += m.Compact()
	}
	return stats
}

// startMaintenanceWorker starts the background maintenance goroutine.
func (lib *Library) startMaintenanceWorker() {
	lib.maintenanceStop = make(chan struct{})
	lib.maintenanceWg.Add(1)

	go func() {
		defer lib.maintenanceWg.Done()

		ticker := time.NewTicker(lib.maintenanceInterval)
		defer ticker.Stop()

		for {
			select {
			case <-lib.maintenanceStop:
				return
			case <-ticker.C:
				stats := lib.Maintain()
				if stats.SegmentsMerged > 0 {
					lib.logger.Debug("maintenance tick", "matrices", stats.MatricesVisited, "merged", stats.SegmentsMerged)
				}
			}
		}
	}()
}

// StopMaintenance stops the background maintenance worker.
func (lib *Library) StopMaintenance() {
	if lib.maintenanceStop != nil {
		close(lib.maintenanceStop)
		lib.maintenanceWg.Wait()
		lib.maintenanceStop = nil
	}
}

// Close stops maintenance, detaches every active matrix and closes the store.
// Unsaved changes are discarded; call SaveAll first to keep them.
func (lib *Library) Close() error {
	lib.StopMaintenance()

	for _, m := range lib.Matrices() {
		m.Detach()
	}
	lib.mu.Lock()
	lib.active = make(map[string]*Matrix)
	lib.mu.Unlock()

	if lib.store != nil {
		return lib.store.Close()
	}
	return nil
}
