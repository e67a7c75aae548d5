package dofmap

import (
	"slices"

	"github.com/notargets/dofmap/mesh"
)

// ReinitSendList starts the send list over from the non-owned unknowns of
// every element this processor can see
func (d *DofMap) ReinitSendList() {
	d.sendList = d.sendList[:0]
	for _, e := range d.visibleElements() {
		for _, dof := range d.DofIndices(e) {
			if dof != mesh.InvalidID && !d.LocalIndex(dof) {
				d.sendList = append(d.sendList, dof)
			}
		}
	}
}

// AddExtraSendList registers a callback run by PrepareSendList
func (d *DofMap) AddExtraSendList(f SendListFunc) {
	d.extraSendList = append(d.extraSendList, f)
}

// PrepareSendList runs the extra callbacks, then sorts the send list and
// removes duplicates
func (d *DofMap) PrepareSendList() {
	for _, f := range d.extraSendList {
		d.sendList = f(d.sendList)
	}
	d.sendList = slices.DeleteFunc(d.sendList, d.LocalIndex)
	slices.Sort(d.sendList)
	d.sendList = slices.Compact(d.sendList)
}

// ClearSendList empties the send list
func (d *DofMap) ClearSendList() { d.sendList = nil }
