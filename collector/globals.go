package collector

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/nikiz24/registry-exporter/metric"
)

// GlobalLabel is a process-wide label attached to every metric.
type GlobalLabel int

const (
	ClusterLabel GlobalLabel = iota
	HostIDLabel
	NodeLabel
	DatacenterLabel
	RackLabel
)

var globalLabelNames = [...]string{"cluster", "host_id", "node", "datacenter", "rack"}

// AllGlobalLabels lists every GlobalLabel.
func AllGlobalLabels() []GlobalLabel {
	return []GlobalLabel{ClusterLabel, HostIDLabel, NodeLabel, DatacenterLabel, RackLabel}
}

func (g GlobalLabel) String() string {
	if g >= 0 && int(g) < len(globalLabelNames) {
		return globalLabelNames[g]
	}
	return fmt.Sprintf("GlobalLabel(%d)", int(g))
}

// ParseGlobalLabel parses a case-insensitive label name such as "node".
func ParseGlobalLabel(s string) (GlobalLabel, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range globalLabelNames {
		if s == name {
			return GlobalLabel(i), nil
		}
	}
	return 0, fmt.Errorf("unknown global label %q (valid: %s)", s, strings.Join(globalLabelNames[:], ", "))
}

// Topology supplies the values of the global labels. Values may change over
// the life of the process and are read on every scrape.
type Topology interface {
	ClusterName() string
	HostID() string
	NodeAddress() string
	Datacenter() string
	Rack() string
}

// StaticTopology is a Topology with fixed values.
type StaticTopology struct {
	Cluster  string `yaml:"cluster"`
	Host     string `yaml:"host_id"`
	Node     string `yaml:"node"`
	DC       string `yaml:"datacenter"`
	RackName string `yaml:"rack"`
}

func (t StaticTopology) ClusterName() string { return t.Cluster }
func (t StaticTopology) HostID() string      { return t.Host }
func (t StaticTopology) NodeAddress() string { return t.Node }
func (t StaticTopology) Datacenter() string  { return t.DC }
func (t StaticTopology) Rack() string        { return t.RackName }

// GlobalLabels builds the enabled global labels from a Topology. Label
// names are prefixed with the namespace, e.g. "app_cluster".
type GlobalLabels struct {
	namespace string
	enabled   map[GlobalLabel]bool
	topology  atomic.Pointer[topologyHolder]
	last      atomic.Pointer[cachedLabels]
}

type topologyHolder struct{ Topology }

type cachedLabels struct {
	values [len(globalLabelNames)]string
	labels metric.Labels
}

// NewGlobalLabels creates a GlobalLabels. A nil topology yields no labels.
func NewGlobalLabels(namespace string, topology Topology, enabled ...GlobalLabel) *GlobalLabels {
	g := &GlobalLabels{namespace: namespace, enabled: make(map[GlobalLabel]bool, len(enabled))}
	for _, l := range enabled {
		g.enabled[l] = true
	}
	g.SetTopology(topology)
	return g
}

// SetTopology replaces the value source, e.g. after a topology change.
func (g *GlobalLabels) SetTopology(t Topology) {
	if t == nil {
		g.topology.Store(nil)
		return
	}
	g.topology.Store(&topologyHolder{t})
}

// Name returns the label name used for l.
func (g *GlobalLabels) Name(l GlobalLabel) string {
	if g.namespace == "" {
		return l.String()
	}
	return g.namespace + "_" + l.String()
}

// Reserved returns the names of every global label, enabled or not.
func (g *GlobalLabels) Reserved() []string {
	out := make([]string, 0, len(globalLabelNames))
	for _, l := range AllGlobalLabels() {
		out = append(out, g.Name(l))
	}
	return out
}

// Labels returns the current values of the enabled labels. Empty values are
// omitted. The result is reused while the values stay the same.
func (g *GlobalLabels) Labels() metric.Labels {
	if g == nil {
		return metric.EmptyLabels
	}
	h := g.topology.Load()
	if h == nil || len(g.enabled) == 0 {
		return metric.EmptyLabels
	}

	var values [len(globalLabelNames)]string
	for l := range g.enabled {
		switch l {
		case ClusterLabel:
			values[l] = h.ClusterName()
		case HostIDLabel:
			values[l] = h.HostID()
		case NodeLabel:
			values[l] = h.NodeAddress()
		case DatacenterLabel:
			values[l] = h.Datacenter()
		case RackLabel:
			values[l] = h.Rack()
		}
	}

	if last := g.last.Load(); last != nil && last.values == values {
		return last.labels
	}

	m := make(map[string]string, len(g.enabled))
	for l, v := range values {
		if v != "" {
			m[g.Name(GlobalLabel(l))] = v
		}
	}
	labels := metric.NewLabels(m)
	g.last.Store(&cachedLabels{values: values, labels: labels})
	return labels
}
