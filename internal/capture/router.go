package capture

import (
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-capture/internal/discovery"
)

// ActiveSet lists the sessions a message is routed against.
type ActiveSet interface {
	Active() []*Session
}

// Delivery is one session that captured a routed message.
type Delivery struct {
	SessionID string
	DeviceID  string
	Result    PersistResult
}

// Router matches inbound messages against active sessions and hands
// matches to the Store.
type Router struct {
	baseTopic string
	sessions  ActiveSet
	store     *Store
}

// NewRouter creates a router for topics under baseTopic.
func NewRouter(baseTopic string, sessions ActiveSet, store *Store) *Router {
	return &Router{baseTopic: baseTopic, sessions: sessions, store: store}
}

// Route persists the message into every active session whose filters
// match it and reports the sessions that captured it. Each session is
// evaluated independently.
func (r *Router) Route(topic string, payload any, at time.Time) []Delivery {
	active := r.sessions.Active()
	if len(active) == 0 {
		return nil
	}

	resolved := discovery.ResolveDeviceID(r.baseTopic, topic)
	var out []Delivery
	for _, sess := range active {
		deviceID, ok := Match(sess.filters, r.baseTopic, topic, resolved)
		if !ok {
			continue
		}
		out = append(out, Delivery{
			SessionID: sess.id,
			DeviceID:  deviceID,
			Result:    r.store.Persist(sess, topic, deviceID, payload, at),
		})
	}
	return out
}

// Match decides whether filters capture topic and which device id the
// entry is stored under. Rules are tried in order across all filters:
//
//  1. catch-all: a filter with id all_sensors or topic "<base>/#"
//  2. exact: a filter topic equal to topic; the filter's id is used
//  3. prefix: a filter topic ending in "#" whose prefix starts topic
//  4. substring: a filter name or id contained in topic
//
// Except for exact matches the entry keeps resolvedID.
func Match(filters []DeviceFilter, baseTopic, topic, resolvedID string) (string, bool) {
	wildcard := baseTopic + "/#"
	for _, f := range filters {
		if f.ID == AllSensors || f.Topic == wildcard {
			return resolvedID, true
		}
	}

	for _, f := range filters {
		if f.Topic != "" && f.Topic == topic {
			if f.ID == "" {
				return resolvedID, true
			}
			return f.ID, true
		}
	}

	for _, f := range filters {
		if prefixMatch(f.Topic, topic) {
			return resolvedID, true
		}
	}

	for _, f := range filters {
		if (f.Name != "" && strings.Contains(topic, f.Name)) || (f.ID != "" && strings.Contains(topic, f.ID)) {
			return resolvedID, true
		}
	}

	return "", false
}

// prefixMatch treats a trailing "#" as matching the rest of the topic.
// "a/b/#" also matches "a/b" itself, as an MQTT multi-level wildcard does.
func prefixMatch(pattern, topic string) bool {
	if !strings.HasSuffix(pattern, "#") {
		return false
	}
	prefix := strings.TrimSuffix(pattern, "#")
	if strings.HasPrefix(topic, prefix) {
		return true
	}
	parent := strings.TrimSuffix(prefix, "/")
	return parent != "" && parent != prefix && topic == parent
}
