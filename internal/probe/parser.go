package probe

import (
	"encoding/json"
	"sort"
	"time"

	"meshroster/internal/domain"
	"meshroster/internal/identity"
)

// nodeListKeys are top-level keys that enumerate per-device entries, in priority order
var nodeListKeys = []string{"nodes", "devices", "peers"}

// DeviceInfoKeys mark a decoded object as a device-info payload
var DeviceInfoKeys = []string{"node", "nodes", "devices", "peers", "myInfo"}

// Parse converts raw probe output into a ProbeInfo.
// Callers must handle all three shapes; decode failure is not an error.
// The first node-list key present decides: an empty list yields the info shape.
func Parse(raw string) domain.ProbeInfo {
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return domain.ProbeInfo{Kind: domain.ProbeInfoRaw, Raw: raw}
	}

	if obj, ok := decoded.(map[string]any); ok {
		for _, key := range nodeListKeys {
			v, present := obj[key]
			if !present {
				continue
			}
			nodes, _ := v.(map[string]any)
			if nodes == nil {
				nodes = listToMap(v)
			}
			if len(nodes) == 0 {
				// an empty listing says nothing about nodes; keep the whole payload
				break
			}
			return domain.ProbeInfo{Kind: domain.ProbeInfoNodes, Nodes: nodes}
		}
	}
	return domain.ProbeInfo{Kind: domain.ProbeInfoInfo, Info: decoded}
}

// listToMap indexes a list of entries by their "id" or "num" field, or by position
func listToMap(v any) map[string]any {
	list, ok := v.([]any)
	if !ok {
		return map[string]any{}
	}
	out := make(map[string]any, len(list))
	for i, item := range list {
		key := ""
		if entry, ok := item.(map[string]any); ok {
			key = stringField(entry, "id")
			if key == "" {
				if n, ok := numberField(entry, "num"); ok {
					key = jsonNumber(n)
				}
			}
		}
		if key == "" {
			key = jsonNumber(float64(i))
		}
		out[key] = item
	}
	return out
}

// DecodeObject decodes raw as a JSON object
func DecodeObject(raw string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// HasDeviceInfo reports whether obj carries any device-info key
func HasDeviceInfo(obj map[string]any) bool {
	for _, k := range DeviceInfoKeys {
		if _, ok := obj[k]; ok {
			return true
		}
	}
	return false
}

// Summarize extracts a summary per node entry, sorted by node id.
// Returns nil for info and raw shapes.
func Summarize(info domain.ProbeInfo) []domain.NodeSummary {
	if info.Kind != domain.ProbeInfoNodes || len(info.Nodes) == 0 {
		return nil
	}

	ids := make([]string, 0, len(info.Nodes))
	for id := range info.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]domain.NodeSummary, 0, len(ids))
	for _, id := range ids {
		entry, _ := info.Nodes[id].(map[string]any)
		out = append(out, summarizeEntry(id, entry))
	}
	return out
}

func summarizeEntry(id string, entry map[string]any) domain.NodeSummary {
	s := domain.NodeSummary{ID: id}
	if entry == nil {
		return s
	}

	user := objectField(entry, "user")
	s.LongName = firstString(user, "longName", "long_name")
	s.ShortName = firstString(user, "shortName", "short_name")
	s.MACAddr = firstString(user, "macaddr", "mac")
	s.HWModel = firstString(user, "hwModel")
	if s.HWModel == "" {
		s.HWModel = firstString(objectField(entry, "deviceMetrics"), "hwModel")
	}

	if v, ok := numberField(entry, "snr"); ok {
		s.SNR = &v
	}
	if v, ok := numberField(entry, "hopsAway"); ok {
		hops := int(v)
		s.HopsAway = &hops
	}
	if v, ok := numberField(entry, "lastHeard"); ok {
		heard := int64(v)
		s.LastHeard = &heard
	}
	return s
}

// EntryFor picks the node entry describing deviceID: an entry keyed by the
// device id, then one whose hardware address matches, then the first entry
// by id. An info-shaped object is returned as is.
func EntryFor(info domain.ProbeInfo, deviceID string) (map[string]any, bool) {
	switch info.Kind {
	case domain.ProbeInfoNodes:
		if entry, ok := info.Nodes[deviceID].(map[string]any); ok {
			return entry, true
		}
		want := identity.CompactMAC(deviceID)
		var first map[string]any
		for _, summary := range Summarize(info) {
			entry, ok := info.Nodes[summary.ID].(map[string]any)
			if !ok {
				continue
			}
			if first == nil {
				first = entry
			}
			if summary.MACAddr != "" && identity.CompactMAC(summary.MACAddr) == want {
				return entry, true
			}
		}
		return first, first != nil
	case domain.ProbeInfoInfo:
		obj, ok := info.Info.(map[string]any)
		return obj, ok
	default:
		return nil, false
	}
}

// ExtractTelemetry pulls battery, position and environment readings from a node entry
func ExtractTelemetry(nodeID string, entry map[string]any, at time.Time) domain.TelemetrySample {
	sample := domain.TelemetrySample{NodeID: nodeID, RecordedAt: at}
	if entry == nil {
		return sample
	}

	if v, ok := firstNumber(entry, "battery", "batteryLevel"); ok {
		sample.Battery = &v
	} else if v, ok := firstNumber(objectField(entry, "deviceMetrics"), "batteryLevel", "battery"); ok {
		sample.Battery = &v
	}

	for _, key := range []string{"position", "pos", "location", "gps"} {
		pos := objectField(entry, key)
		if pos == nil {
			continue
		}
		if sample.Latitude == nil {
			if v, ok := firstNumber(pos, "lat", "latitude"); ok {
				sample.Latitude = &v
			}
		}
		if sample.Longitude == nil {
			if v, ok := firstNumber(pos, "lon", "longitude"); ok {
				sample.Longitude = &v
			}
		}
		if sample.Altitude == nil {
			if v, ok := firstNumber(pos, "alt", "altitude"); ok {
				sample.Altitude = &v
			}
		}
	}
	if sample.Latitude == nil {
		if v, ok := firstNumber(entry, "lat", "latitude"); ok {
			sample.Latitude = &v
		}
	}
	if sample.Longitude == nil {
		if v, ok := firstNumber(entry, "lon", "longitude"); ok {
			sample.Longitude = &v
		}
	}
	if sample.Altitude == nil {
		if v, ok := firstNumber(entry, "alt", "altitude"); ok {
			sample.Altitude = &v
		}
	}

	for _, key := range []string{"env", "sensors", "environment"} {
		if env := objectField(entry, key); len(env) > 0 {
			sample.Env = env
			break
		}
	}
	return sample
}

// ============================================================================
// Field helpers
// ============================================================================

func objectField(obj map[string]any, key string) map[string]any {
	if obj == nil {
		return nil
	}
	v, _ := obj[key].(map[string]any)
	return v
}

func stringField(obj map[string]any, key string) string {
	if obj == nil {
		return ""
	}
	s, _ := obj[key].(string)
	return s
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringField(obj, k); s != "" {
			return s
		}
	}
	return ""
}

func numberField(obj map[string]any, key string) (float64, bool) {
	if obj == nil {
		return 0, false
	}
	switch v := obj[key].(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func firstNumber(obj map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := numberField(obj, k); ok {
			return v, true
		}
	}
	return 0, false
}

func jsonNumber(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}
