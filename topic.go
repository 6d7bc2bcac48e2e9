package mqttbroker

import (
	"errors"
	"strings"
	"unicode/utf8"
)

var (
	ErrInvalidTopicName   = errors.New("invalid topic name")
	ErrInvalidTopicFilter = errors.New("invalid topic filter")
	ErrEmptyTopic         = errors.New("topic cannot be empty")
)

const (
	topicSeparator      = '/'
	singleLevelWildcard = '+'
	multiLevelWildcard  = '#'
)

// TopicHierarchyLimit bounds the number of '/'-separated levels a topic
// name or topic filter may contain, to cap worst-case recursion depth in
// the subscription trie walk. spec.md section 4.3.
const TopicHierarchyLimit = 128

// ErrTopicHierarchyTooDeep is returned when a topic name or filter
// exceeds TopicHierarchyLimit levels.
var ErrTopicHierarchyTooDeep = errors.New("topic hierarchy exceeds depth limit")

func checkHierarchyDepth(s string) error {
	levels := 1
	for i := 0; i < len(s); i++ {
		if s[i] == topicSeparator {
			levels++
			if levels > TopicHierarchyLimit {
				return ErrTopicHierarchyTooDeep
			}
		}
	}
	return nil
}

// ValidateTopicName validates a topic name according to MQTT v5.0 specification.
// Topic names cannot contain wildcards and must be valid UTF-8.
// MQTT v5.0 spec: Section 4.7.1
func ValidateTopicName(topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}

	if !utf8.ValidString(topic) {
		return ErrInvalidTopicName
	}

	if len(topic) > 65535 {
		return ErrInvalidTopicName
	}

	// Check for null character and wildcards
	for _, r := range topic {
		if r == 0 {
			return ErrInvalidTopicName
		}
		if r == singleLevelWildcard || r == multiLevelWildcard {
			return ErrInvalidTopicName
		}
	}

	return checkHierarchyDepth(topic)
}

// ValidateTopicFilter validates a topic filter according to MQTT v5.0 specification.
// Topic filters can contain wildcards but must follow wildcard rules.
// MQTT v5.0 spec: Section 4.7.1
func ValidateTopicFilter(filter string) error {
	if filter == "" {
		return ErrEmptyTopic
	}

	if !utf8.ValidString(filter) {
		return ErrInvalidTopicFilter
	}

	// Check for null character
	for _, r := range filter {
		if r == 0 {
			return ErrInvalidTopicFilter
		}
	}

	levels := strings.Split(filter, string(topicSeparator))

	for i, level := range levels {
		// Single-level wildcard must occupy entire level
		if strings.Contains(level, string(singleLevelWildcard)) {
			if level != string(singleLevelWildcard) {
				return ErrInvalidTopicFilter
			}
		}

		// Multi-level wildcard must be last level and occupy entire level
		if strings.Contains(level, string(multiLevelWildcard)) {
			if level != string(multiLevelWildcard) {
				return ErrInvalidTopicFilter
			}
			if i != len(levels)-1 {
				return ErrInvalidTopicFilter
			}
		}
	}

	return checkHierarchyDepth(filter)
}

// TopicMatch checks if a topic name matches a topic filter.
// This implementation avoids allocations by not using strings.Split.
// MQTT v5.0 spec: Section 4.7
func TopicMatch(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}

	// System topics ($SYS/) don't match wildcards at root level
	if topic[0] == '$' {
		if filter[0] == singleLevelWildcard || filter[0] == multiLevelWildcard {
			return false
		}
	}

	return matchTopicNoAlloc(filter, topic)
}

// matchTopicNoAlloc matches topic against filter without allocations.
func matchTopicNoAlloc(filter, topic string) bool {
	fi, ti := 0, 0
	flen, tlen := len(filter), len(topic)

	for fi < flen {
		// Get current filter level
		fstart := fi
		for fi < flen && filter[fi] != topicSeparator {
			fi++
		}
		flevel := filter[fstart:fi]

		// Multi-level wildcard matches everything remaining
		if flevel == "#" {
			return true
		}

		// Check if we have a topic level to match. A final "+" also
		// matches a topic that ends one level early with a trailing
		// separator (filter "foo/+" matches topic "foo/").
		if ti >= tlen {
			if flevel == string(singleLevelWildcard) && fi >= flen && tlen > 0 && topic[tlen-1] == topicSeparator {
				return true
			}
			return false
		}

		// Get current topic level
		tstart := ti
		for ti < tlen && topic[ti] != topicSeparator {
			ti++
		}
		tlevel := topic[tstart:ti]

		// Single-level wildcard matches any single level
		if flevel != "+" && flevel != tlevel {
			return false
		}

		// Move past separator if present
		if fi < flen {
			fi++ // skip '/'
		}
		if ti < tlen {
			ti++ // skip '/'
		}
	}

	// Filter exhausted - topic must also be exhausted
	return ti >= tlen
}

// IsSystemTopic returns true if the topic is a system topic ($SYS/).
func IsSystemTopic(topic string) bool {
	return strings.HasPrefix(topic, "$SYS/") || topic == "$SYS"
}

// SharedSubscription represents a parsed shared subscription.
// MQTT v5.0 spec: Section 4.8.2
type SharedSubscription struct {
	ShareName   string
	TopicFilter string
}

// ParseSharedSubscription parses a shared subscription filter.
// Shared subscriptions have the format: $share/{ShareName}/{TopicFilter}
// MQTT v5.0 spec: Section 4.8.2
func ParseSharedSubscription(filter string) (*SharedSubscription, error) {
	const prefix = "$share/"

	if !strings.HasPrefix(filter, prefix) {
		return nil, nil // Not a shared subscription
	}

	rest := filter[len(prefix):]
	idx := strings.Index(rest, string(topicSeparator))
	if idx <= 0 {
		return nil, ErrInvalidTopicFilter
	}

	shareName := rest[:idx]
	topicFilter := rest[idx+1:]

	if shareName == "" {
		return nil, ErrInvalidTopicFilter
	}

	if topicFilter == "" {
		return nil, ErrInvalidTopicFilter
	}

	// Validate the topic filter part
	if err := ValidateTopicFilter(topicFilter); err != nil {
		return nil, err
	}

	return &SharedSubscription{
		ShareName:   shareName,
		TopicFilter: topicFilter,
	}, nil
}

// isSharedSubscription returns true if the filter is a shared subscription.
// Shared subscriptions start with "$share/".
func isSharedSubscription(filter string) bool {
	return strings.HasPrefix(filter, "$share/")
}

// containsWildcard returns true if the filter contains wildcard characters.
// MQTT wildcards are # (multi-level) and + (single-level).
func containsWildcard(filter string) bool {
	return strings.ContainsAny(filter, "#+")
}

