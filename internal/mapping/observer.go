package mapping

import "github.com/mesh-intelligence/entitymap/pkg/types"

// Observer receives cache events. internal/metrics implements it with
// Prometheus counters.
type Observer interface {
	Fetched(t types.ItemType, rows int)
	Committed(ops []types.Operation)
	Conflicted(conflicts int)
	RolledBack()
}

type nopObserver struct{}

func (nopObserver) Fetched(types.ItemType, int)  {}
func (nopObserver) Committed([]types.Operation) {}
func (nopObserver) Conflicted(int)              {}
func (nopObserver) RolledBack()                 {}
