package discovery

import "strings"

// UnknownDeviceID is used when a topic yields no usable identifier.
const UnknownDeviceID = "unknown"

// ResolveDeviceID maps a topic to a device identifier.
//
// The chain is: the first segment after baseTopic, else the last segment
// of the topic, else the whole topic passed through SanitizeID. It is a
// pure function of its arguments.
func ResolveDeviceID(baseTopic, topic string) string {
	base := strings.TrimRight(baseTopic, "/")
	if base != "" {
		if rest, ok := strings.CutPrefix(topic, base+"/"); ok {
			first, _, _ := strings.Cut(rest, "/")
			if first != "" {
				return first
			}
		}
	}

	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		if last := topic[i+1:]; last != "" {
			return last
		}
	} else if topic != "" {
		return topic
	}

	return SanitizeID(topic)
}

// SanitizeID makes s safe to use as a file name: every character outside
// [A-Za-z0-9._-] becomes '_', and names that would be empty or refer to
// the current or parent directory are replaced.
func SanitizeID(s string) string {
	if s == "" {
		return UnknownDeviceID
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	out := b.String()
	if strings.Trim(out, ".") == "" {
		return strings.Repeat("_", len(out))
	}
	return out
}
