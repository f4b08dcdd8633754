package metrics

import (
	"io"
	"sort"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// namespace prefixes every exported metric name.
const namespace = "minikv_"

// gauges lists the keys that move in both directions.
var gauges = map[MetricKey]bool{
	SessionsActive: true,
}

var help = map[MetricKey]string{
	StoreSetsTotal:            "Keys written with SET.",
	StoreGetsTotal:            "Key lookups.",
	StoreMissesTotal:          "Lookups that found no live key.",
	StoreDeletesTotal:         "Keys removed with DEL.",
	StoreExpiredTotal:         "Keys removed because their TTL passed.",
	ReaperRunsTotal:           "Background expiry sweeps.",
	ReaperKeysRemovedTotal:    "Keys removed by background sweeps.",
	ReaperPanicsTotal:         "Sweeps aborted by a panic.",
	SessionsActive:            "Client sessions currently open.",
	SessionsOpenedTotal:       "Client sessions opened.",
	SessionsClosedTotal:       "Client sessions closed.",
	SessionKeysRestored:       "Keys restored from autosave on session open.",
	SessionAutosaveTotal:      "Autosaves written on session close.",
	SnapshotSavesTotal:        "Snapshots written.",
	SnapshotSaveFailuresTotal: "Snapshot writes that failed.",
	SnapshotSaveRetriesTotal:  "Snapshot write retries.",
	SnapshotLoadsTotal:        "Snapshots loaded.",
	SnapshotLoadFailuresTotal: "Snapshot loads that failed.",
	SnapshotFormatErrorsTotal: "Snapshot loads rejected as malformed.",
	CommandsTotal:             "Commands executed.",
	CommandErrorsTotal:        "Commands answered with an error.",
}

// Families converts the current counters into Prometheus metric families,
// sorted by name.
func (r *Registry) Families() []*dto.MetricFamily {
	snap := r.Snapshot()

	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*dto.MetricFamily, 0, len(keys))
	for _, k := range keys {
		key := MetricKey(k)
		value := float64(snap[k])

		mf := &dto.MetricFamily{
			Name: proto.String(namespace + k),
		}
		if h, ok := help[key]; ok {
			mf.Help = proto.String(h)
		}
		if gauges[key] {
			mf.Type = dto.MetricType_GAUGE.Enum()
			mf.Metric = []*dto.Metric{{Gauge: &dto.Gauge{Value: proto.Float64(value)}}}
		} else {
			mf.Type = dto.MetricType_COUNTER.Enum()
			mf.Metric = []*dto.Metric{{Counter: &dto.Counter{Value: proto.Float64(value)}}}
		}
		out = append(out, mf)
	}
	return out
}

// WriteText renders every metric in the Prometheus text exposition format.
func (r *Registry) WriteText(w io.Writer) error {
	for _, mf := range r.Families() {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
