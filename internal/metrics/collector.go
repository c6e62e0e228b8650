// Package metrics counts mapping activity with Prometheus counters.
package metrics

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/mesh-intelligence/entitymap/internal/mapping"
	"github.com/mesh-intelligence/entitymap/pkg/types"
)

const namespace = "entitymap"

var _ mapping.Observer = (*Collector)(nil)

// Collector implements mapping.Observer. Each Collector owns its registry so
// that several mappings in one process, or tests, do not share counters.
type Collector struct {
	registry *prometheus.Registry

	fetches     *prometheus.CounterVec
	rowsFetched *prometheus.CounterVec
	commits     prometheus.Counter
	operations  *prometheus.CounterVec
	conflicts   prometheus.Counter
	rollbacks   prometheus.Counter
}

// NewCollector registers the mapping counters on a fresh registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Store fetches issued by the cache, by item type.",
		}, []string{"item_type"}),
		rowsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_fetched_total",
			Help:      "Rows returned by store fetches, by item type.",
		}, []string{"item_type"}),
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Successful commits.",
		}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Rows written by successful commits, by item type and operation.",
		}, []string{"item_type", "op"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_total",
			Help:      "Conflicts reported by aborted commits.",
		}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Rollbacks of uncommitted changes.",
		}),
	}
	c.registry.MustRegister(c.fetches, c.rowsFetched, c.commits, c.operations, c.conflicts, c.rollbacks)
	return c
}

// Registry exposes the collector's registry, for serving or gathering.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) Fetched(t types.ItemType, rows int) {
	c.fetches.WithLabelValues(string(t)).Inc()
	c.rowsFetched.WithLabelValues(string(t)).Add(float64(rows))
}

func (c *Collector) Committed(ops []types.Operation) {
	c.commits.Inc()
	for _, op := range ops {
		c.operations.WithLabelValues(string(op.Type), op.Kind.String()).Inc()
	}
}

func (c *Collector) Conflicted(conflicts int) {
	c.conflicts.Add(float64(conflicts))
}

func (c *Collector) RolledBack() { c.rollbacks.Inc() }

// WriteText writes every gathered metric family in the Prometheus text
// exposition format.
func (c *Collector) WriteText(w io.Writer) error {
	families, err := c.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
