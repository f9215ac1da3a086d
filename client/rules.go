package client

import "github.com/mbocsi/accesswatch/proto"

// Rules maps a message type to the cache-key patterns it invalidates, in
// the order they are invalidated. A type mapped to no patterns is known but
// inert.
type Rules map[string][]string

func DefaultRules() Rules {
	return Rules{
		proto.TypeConnected:    nil,
		proto.TypeAccessUpdate: {proto.KeyAccessLogs, proto.KeyDashboardStats},
		proto.TypeDeviceUpdate: {proto.KeyDevices, proto.KeyAlerts},
	}
}

// Patterns reports the patterns for msgType and whether the type is known.
func (r Rules) Patterns(msgType string) ([]string, bool) {
	patterns, ok := r[msgType]
	return patterns, ok
}

func (r Rules) clone() Rules {
	out := make(Rules, len(r))
	for k, v := range r {
		out[k] = append([]string(nil), v...)
	}
	return out
}
