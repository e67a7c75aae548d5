package mesh

// InvalidID marks an unassigned DOF index or processor id
const InvalidID = -1

// Slot holds the DOF layout of one variable group on one DOF object. The
// indices of the group's variables are consecutive from Base, NComp per
// variable.
type Slot struct {
	NVars int
	NComp int
	Base  int
}

// DofObject is a mesh entity that can own DOF indices
type DofObject struct {
	id          int
	processorID int
	slots       []Slot
	oldSlots    []Slot
}

func newDofObject(id int) DofObject {
	return DofObject{id: id, processorID: InvalidID}
}

// ID is the stable identifier shared by every processor's copy of the entity
func (o *DofObject) ID() int { return o.id }

// ProcessorID is the owning processor, or InvalidID
func (o *DofObject) ProcessorID() int { return o.processorID }

// SetProcessorID assigns the owning processor
func (o *DofObject) SetProcessorID(pid int) { o.processorID = pid }

// NVariableGroups is the number of slots
func (o *DofObject) NVariableGroups() int { return len(o.slots) }

// SetNVariableGroups resets the slots, one per entry of nvars, with no
// components and invalid bases
func (o *DofObject) SetNVariableGroups(nvars []int) {
	o.slots = make([]Slot, len(nvars))
	for vg, nv := range nvars {
		o.slots[vg] = Slot{NVars: nv, Base: InvalidID}
	}
}

// Slot returns the layout of variable group vg
func (o *DofObject) Slot(vg int) Slot {
	if vg >= len(o.slots) {
		return Slot{Base: InvalidID}
	}
	return o.slots[vg]
}

// NComp is the number of components per variable of group vg on this object
func (o *DofObject) NComp(vg int) int { return o.Slot(vg).NComp }

// SetNComp sets the number of components per variable of group vg
func (o *DofObject) SetNComp(vg, ncomp int) { o.slots[vg].NComp = ncomp }

// Base is the first DOF index of group vg on this object
func (o *DofObject) Base(vg int) int { return o.Slot(vg).Base }

// SetBase sets the first DOF index of group vg
func (o *DofObject) SetBase(vg, base int) { o.slots[vg].Base = base }

// HasDofs reports whether group vg places any unknowns here
func (o *DofObject) HasDofs(vg int) bool {
	s := o.Slot(vg)
	return s.NVars*s.NComp > 0
}

// NDofs is the number of unknowns stored on this object over all groups
func (o *DofObject) NDofs() int {
	n := 0
	for _, s := range o.slots {
		n += s.NVars * s.NComp
	}
	return n
}

// DofNumber returns the global index of component comp of variable v (local
// to the group) in group vg, or InvalidID
func (o *DofObject) DofNumber(vg, v, comp int) int {
	return dofNumber(o.Slot(vg), v, comp)
}

// OldDofNumber is DofNumber against the numbering saved by SaveOldDofs
func (o *DofObject) OldDofNumber(vg, v, comp int) int {
	if vg >= len(o.oldSlots) {
		return InvalidID
	}
	return dofNumber(o.oldSlots[vg], v, comp)
}

func dofNumber(s Slot, v, comp int) int {
	if s.Base == InvalidID || v >= s.NVars || comp >= s.NComp {
		return InvalidID
	}
	return s.Base + v*s.NComp + comp
}

// SaveOldDofs snapshots the current numbering
func (o *DofObject) SaveOldDofs() {
	o.oldSlots = append(o.oldSlots[:0], o.slots...)
}

// InvalidateDofs clears every base while keeping the layout
func (o *DofObject) InvalidateDofs() {
	for vg := range o.slots {
		o.slots[vg].Base = InvalidID
	}
}

// Slots returns a copy of the layout of every group
func (o *DofObject) Slots() []Slot {
	return append([]Slot(nil), o.slots...)
}
