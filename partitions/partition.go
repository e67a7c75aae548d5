package partitions

import (
	"fmt"

	"github.com/notargets/dofmap/element"
)

// Partition represents the collection of active elements owned by one processor
type Partition struct {
	// Unique identifier for this partition; equals the owning processor id
	ID int

	// Element membership
	Elements    []int // Element indices (into the builder's element list) in this partition
	NumElements int   // Number of elements owned

	// Mixed element support
	ElementTypes []element.Type // Type of each element (for heterogeneous meshes)
}

// PartitionLayout manages the complete mesh decomposition
type PartitionLayout struct {
	// All partitions in the mesh
	Partitions []Partition

	// Global sizing information
	MaxElements   int // max(NumElements) across all partitions
	TotalElements int // Sum of all elements across partitions
	NumPartitions int // Total number of partitions

	// Element to partition mapping
	EToP []int // Length TotalElements: element k belongs to partition EToP[k]
}

// GetPartition returns the partition containing element k
func (pl *PartitionLayout) GetPartition(elementID int) int {
	if elementID < 0 || elementID >= len(pl.EToP) {
		return -1
	}
	return pl.EToP[elementID]
}

// ValidateLayout checks partition consistency
func (pl *PartitionLayout) ValidateLayout() error {
	if len(pl.EToP) != pl.TotalElements {
		return fmt.Errorf("EToP length %d != TotalElements %d", len(pl.EToP), pl.TotalElements)
	}
	if len(pl.Partitions) != pl.NumPartitions {
		return fmt.Errorf("have %d partitions, expected %d", len(pl.Partitions), pl.NumPartitions)
	}

	// Every element owned exactly once, by the partition EToP names
	seen := make([]bool, pl.TotalElements)
	actualMax, total := 0, 0
	for id, p := range pl.Partitions {
		if p.ID != id {
			return fmt.Errorf("partition at position %d has ID %d", id, p.ID)
		}
		if p.NumElements != len(p.Elements) {
			return fmt.Errorf("partition %d: NumElements %d != len(Elements) %d",
				p.ID, p.NumElements, len(p.Elements))
		}
		for _, k := range p.Elements {
			if k < 0 || k >= pl.TotalElements {
				return fmt.Errorf("partition %d: element %d out of range", p.ID, k)
			}
			if seen[k] {
				return fmt.Errorf("element %d assigned more than once", k)
			}
			seen[k] = true
			if pl.EToP[k] != p.ID {
				return fmt.Errorf("element %d: EToP says %d, partition %d holds it",
					k, pl.EToP[k], p.ID)
			}
		}
		total += p.NumElements
		if p.NumElements > actualMax {
			actualMax = p.NumElements
		}
	}
	if total != pl.TotalElements {
		return fmt.Errorf("partitions hold %d elements, expected %d", total, pl.TotalElements)
	}
	if actualMax != pl.MaxElements {
		return fmt.Errorf("computed MaxElements %d != stored MaxElements %d",
			actualMax, pl.MaxElements)
	}
	return nil
}
