package core

import (
	"math/rand/v2"

	"github.com/dkeye/Space/internal/domain"
)

// SlotPicker proposes a candidate slot. Implementations must be able to
// return every slot value, otherwise a full scan never completes.
type SlotPicker func() domain.Slot

func RandomSlot() domain.Slot {
	return domain.Slot(rand.IntN(domain.MaxSlots))
}

// maxSlotDraws bounds raw draws so a degenerate picker cannot spin forever.
const maxSlotDraws = 1 << 16

// allocateSlot draws random slots until it finds a free one. A slot that was
// already tried is redrawn without counting; after MaxSlots distinct tries
// the room is considered full.
func allocateSlot(pick SlotPicker, taken func(domain.Slot) bool) (domain.Slot, bool) {
	var tried [domain.MaxSlots]bool
	distinct := 0
	for draws := 0; distinct < domain.MaxSlots && draws < maxSlotDraws; draws++ {
		s := pick()
		if tried[s] {
			continue
		}
		tried[s] = true
		distinct++
		if !taken(s) {
			return s, true
		}
	}
	return 0, false
}
