package worker

// EgressTable holds, for every target, the nearby transit stops and their
// walking distances in millimeters. The layout is a column store: three
// parallel arrays in CSR form, so a job with millions of (target, stop)
// pairs costs eight bytes per pair plus four bytes per target for the
// offsets, with no per-row objects. Access goes
// through a lightweight cursor instead of materialized rows.
type EgressTable struct {
	offsets     []int32
	stops       []int32
	distancesMM []int32
}

// EgressTableBuilder accumulates (target, stop, distance) entries and
// flattens them into the parallel-array form.
type EgressTableBuilder struct {
	perTarget [][2][]int32
}

// NewEgressTableBuilder creates a builder for nTargets targets
func NewEgressTableBuilder(nTargets int) *EgressTableBuilder {
	return &EgressTableBuilder{perTarget: make([][2][]int32, nTargets)}
}

// Add records a stop within egress walking range of a target
func (b *EgressTableBuilder) Add(target int, stop, distanceMM int32) {
	b.perTarget[target][0] = append(b.perTarget[target][0], stop)
	b.perTarget[target][1] = append(b.perTarget[target][1], distanceMM)
}

// Build flattens the accumulated entries
func (b *EgressTableBuilder) Build() *EgressTable {
	t := &EgressTable{offsets: make([]int32, len(b.perTarget)+1)}
	for i, entry := range b.perTarget {
		t.offsets[i+1] = t.offsets[i] + int32(len(entry[0]))
		t.stops = append(t.stops, entry[0]...)
		t.distancesMM = append(t.distancesMM, entry[1]...)
	}
	return t
}

// NTargets returns the number of targets the table covers
func (t *EgressTable) NTargets() int {
	return len(t.offsets) - 1
}

// EgressCursor walks the stops near one target
type EgressCursor struct {
	table    *EgressTable
	pos, end int32
}

// Cursor positions a cursor before the first stop near the target
func (t *EgressTable) Cursor(target int) EgressCursor {
	return EgressCursor{table: t, pos: t.offsets[target] - 1, end: t.offsets[target+1]}
}

// Next advances the cursor; returns false when the target's stops are exhausted
func (c *EgressCursor) Next() bool {
	c.pos++
	return c.pos < c.end
}

// Stop returns the stop index at the cursor
func (c *EgressCursor) Stop() int32 {
	return c.table.stops[c.pos]
}

// DistanceMM returns the walking distance in millimeters at the cursor
func (c *EgressCursor) DistanceMM() int32 {
	return c.table.distancesMM[c.pos]
}
