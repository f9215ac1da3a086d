package client

import (
	"testing"

	"github.com/mbocsi/accesswatch/proto"
	"github.com/stretchr/testify/assert"
)

func TestDefaultRules(t *testing.T) {
	rules := DefaultRules()

	patterns, ok := rules.Patterns(proto.TypeConnected)
	assert.True(t, ok, "Expected connected to be a known type")
	assert.Empty(t, patterns)

	patterns, ok = rules.Patterns(proto.TypeAccessUpdate)
	assert.True(t, ok)
	assert.Equal(t, []string{proto.KeyAccessLogs, proto.KeyDashboardStats}, patterns)

	patterns, ok = rules.Patterns(proto.TypeDeviceUpdate)
	assert.True(t, ok)
	assert.Equal(t, []string{proto.KeyDevices, proto.KeyAlerts}, patterns)

	_, ok = rules.Patterns("heartbeat")
	assert.False(t, ok)
}

func TestRulesClone(t *testing.T) {
	rules := DefaultRules()
	c := rules.clone()

	c[proto.TypeAccessUpdate][0] = "/changed"
	delete(c, proto.TypeDeviceUpdate)

	assert.Equal(t, proto.KeyAccessLogs, rules[proto.TypeAccessUpdate][0])
	assert.Contains(t, rules, proto.TypeDeviceUpdate)
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "deactivated", StateDeactivated.String())
	assert.Equal(t, "unknown", State(42).String())

	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "not connected", Disconnected.String())
}
