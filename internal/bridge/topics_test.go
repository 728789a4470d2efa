package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopics_Layout(t *testing.T) {
	topics := NewTopics("cc")

	assert.Equal(t, "cc/bridge/status", topics.BridgeStatus())
	assert.Equal(t, "cc/dev-1/state", topics.State("dev-1"))
	assert.Equal(t, "cc/dev-1/availability", topics.Availability("dev-1"))
	assert.Equal(t, "cc/dev-1/set", topics.Set("dev-1"))
	assert.Equal(t, "cc/+/set", topics.SetWildcard())
}

func TestTopics_DefaultPrefix(t *testing.T) {
	topics := NewTopics("")
	assert.Equal(t, "comfortcloud/bridge/status", topics.BridgeStatus())
}

func TestTopics_TrimsPrefixSlashes(t *testing.T) {
	topics := NewTopics("/home/hvac/")
	assert.Equal(t, "home/hvac/dev/state", topics.State("dev"))
}

func TestTopics_SegmentFromSet(t *testing.T) {
	topics := NewTopics("cc")

	tests := []struct {
		topic   string
		segment string
	}{
		{"cc/dev-1/set", "dev-1"},
		{"cc/CZ-TACG1-41AC77/set", "CZ-TACG1-41AC77"},
		{"cc/dev-1/state", ""},
		{"cc/dev-1/nested/set", ""},
		{"cc//set", ""},
		{"other/dev-1/set", ""},
		{"cc/bridge/status", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.segment, topics.SegmentFromSet(tt.topic), "topic %s", tt.topic)
	}
}

func TestDeviceSegment_SanitizesReservedCharacters(t *testing.T) {
	tests := []struct {
		guid    string
		segment string
	}{
		{"CZ-TACG1+41AC77", "CZ-TACG1-41AC77"},
		{"a/b#c d", "a-b-c-d"},
		{"plain-guid", "plain-guid"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.segment, DeviceSegment(tt.guid), "guid %s", tt.guid)
	}
}
