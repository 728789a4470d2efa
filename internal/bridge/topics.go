package bridge

import "strings"

// DefaultTopicPrefix is used when the configuration leaves the prefix empty.
const DefaultTopicPrefix = "comfortcloud"

// Topics builds the MQTT topic layout under a common prefix:
//
//	<prefix>/bridge/status          bridge online/offline (retained, LWT)
//	<prefix>/<device>/state         last known device state (retained)
//	<prefix>/<device>/availability  online when fresh, offline when stale
//	<prefix>/<device>/set           command input
type Topics struct {
	prefix string
}

// NewTopics creates a topic builder. An empty prefix selects
// DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: strings.Trim(prefix, "/")}
}

// BridgeStatus returns the bridge status topic
func (t Topics) BridgeStatus() string {
	return t.prefix + "/bridge/status"
}

// State returns the state topic for a device segment
func (t Topics) State(segment string) string {
	return t.prefix + "/" + segment + "/state"
}

// Availability returns the availability topic for a device segment
func (t Topics) Availability(segment string) string {
	return t.prefix + "/" + segment + "/availability"
}

// Set returns the command topic for a device segment
func (t Topics) Set(segment string) string {
	return t.prefix + "/" + segment + "/set"
}

// SetWildcard returns the subscription pattern matching every device's
// command topic.
func (t Topics) SetWildcard() string {
	return t.prefix + "/+/set"
}

// SegmentFromSet extracts the device segment from a command topic. It
// returns "" when the topic does not match the layout.
func (t Topics) SegmentFromSet(topic string) string {
	rest, ok := strings.CutPrefix(topic, t.prefix+"/")
	if !ok {
		return ""
	}
	segment, ok := strings.CutSuffix(rest, "/set")
	if !ok || segment == "" || strings.Contains(segment, "/") {
		return ""
	}
	return segment
}

// DeviceSegment converts a device GUID into a safe topic level. MQTT
// reserves '+', '#' and '/', and spaces make ugly topics; all are mapped
// to '-'. Comfort Cloud GUIDs routinely contain '+'.
func DeviceSegment(guid string) string {
	var b strings.Builder
	b.Grow(len(guid))
	for _, r := range guid {
		switch r {
		case '+', '#', '/', ' ':
			b.WriteRune('-')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
