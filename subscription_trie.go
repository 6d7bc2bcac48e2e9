package mqttbroker

import (
	"strings"
	"sync"
	"time"
)

// TrieHandle is the leaf-level record a session holds for one
// subscription: spec.md section 3's "(session, subscription-QoS,
// options) leaf". It is owned by the trie; the session keeps a
// non-owning pointer to it so it can ask the trie to remove it later
// without the trie and the session forming a reference cycle that needs
// a collector (spec.md section 9).
type TrieHandle struct {
	node    *trieNode
	group   string // non-empty for shared subscriptions
	Session Session
	Filter  string
	Sub     Subscription
}

// Rebind repoints this handle at a new owning session, used by CONNECT
// session takeover (spec.md section 4.6 step 9) to move subscriptions to
// the new session handle without a raw memory copy.
func (h *TrieHandle) Rebind(session Session) {
	h.Session = session
}

type trieNode struct {
	mu           sync.Mutex
	fragment     string
	children     map[string]*trieNode
	subscribers  []*TrieHandle
	sharedGroups map[string][]*TrieHandle
	retained     *StoredMessage
	rrCounter    map[string]int // round-robin cursor per shared group
}

func newTrieNode(fragment string) *trieNode {
	return &trieNode{fragment: fragment}
}

func (n *trieNode) isEmpty() bool {
	return len(n.children) == 0 && len(n.subscribers) == 0 && len(n.sharedGroups) == 0 && n.retained == nil
}

// SubscriptionTrie is the hierarchical index from topic filters to
// subscriber leaves, with a retained-message slot per node, per spec.md
// section 4.3. Roots include "" (the universal root) and implicitly
// "$SYS" the first time something subscribes or publishes under it.
type SubscriptionTrie struct {
	mu    sync.Mutex
	root  *trieNode
	store *MessageStore

	// AllowDuplicateMessages, when false, suppresses delivering the same
	// stored message twice to one session across overlapping
	// subscriptions within a single publish (spec.md section 4.3 and the
	// dest_ids field in section 3).
	AllowDuplicateMessages bool
}

// NewSubscriptionTrie creates an empty trie backed by store for retained
// and delivered message reference counting.
func NewSubscriptionTrie(store *MessageStore) *SubscriptionTrie {
	return &SubscriptionTrie{
		root:  newTrieNode(""),
		store: store,
	}
}

func splitFilterLevels(filter string) ([]string, string, error) {
	shared, err := ParseSharedSubscription(filter)
	if err != nil {
		return nil, "", err
	}
	walk := filter
	group := ""
	if shared != nil {
		walk = shared.TopicFilter
		group = shared.ShareName
	}
	return strings.Split(walk, string(topicSeparator)), group, nil
}

// Subscribe inserts session at the leaf node for filter, updating QoS and
// options in place if session already subscribed to the identical
// filter. Returns the handle the session must store for later removal.
func (t *SubscriptionTrie) Subscribe(session Session, sub Subscription) (*TrieHandle, error) {
	if err := ValidateTopicFilter(sub.TopicFilter); err != nil {
		return nil, err
	}

	levels, group, err := splitFilterLevels(sub.TopicFilter)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	node := t.root
	for _, lvl := range levels {
		if node.children == nil {
			node.children = make(map[string]*trieNode)
		}
		child, ok := node.children[lvl]
		if !ok {
			child = newTrieNode(lvl)
			node.children[lvl] = child
		}
		node = child
	}

	if group != "" {
		for _, h := range node.sharedGroups[group] {
			if h.Session == session {
				h.Sub = sub
				return h, nil
			}
		}
		h := &TrieHandle{node: node, group: group, Session: session, Filter: sub.TopicFilter, Sub: sub}
		if node.sharedGroups == nil {
			node.sharedGroups = make(map[string][]*TrieHandle)
		}
		node.sharedGroups[group] = append(node.sharedGroups[group], h)
		return h, nil
	}

	for _, h := range node.subscribers {
		if h.Session == session {
			h.Sub = sub
			return h, nil
		}
	}
	h := &TrieHandle{node: node, Session: session, Filter: sub.TopicFilter, Sub: sub}
	node.subscribers = append(node.subscribers, h)
	return h, nil
}

// Unsubscribe removes the leaf entry for session/filter. Returns false if
// no such subscription existed.
func (t *SubscriptionTrie) Unsubscribe(session Session, filter string) bool {
	levels, group, err := splitFilterLevels(filter)
	if err != nil {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	node := t.root
	var path []*trieNode
	for _, lvl := range levels {
		path = append(path, node)
		if node.children == nil {
			return false
		}
		child, ok := node.children[lvl]
		if !ok {
			return false
		}
		node = child
	}
	path = append(path, node)

	removed := false
	if group != "" {
		list := node.sharedGroups[group]
		for i, h := range list {
			if h.Session == session {
				node.sharedGroups[group] = append(list[:i], list[i+1:]...)
				if len(node.sharedGroups[group]) == 0 {
					delete(node.sharedGroups, group)
				}
				removed = true
				break
			}
		}
	} else {
		for i, h := range node.subscribers {
			if h.Session == session {
				node.subscribers = append(node.subscribers[:i], node.subscribers[i+1:]...)
				removed = true
				break
			}
		}
	}

	if removed {
		t.pruneLocked(path, levels)
	}
	return removed
}

// pruneLocked removes trailing empty nodes created purely for a now-gone
// subscription path. Must be called with t.mu held.
func (t *SubscriptionTrie) pruneLocked(path []*trieNode, levels []string) {
	for i := len(path) - 1; i > 0; i-- {
		node := path[i]
		if !node.isEmpty() {
			break
		}
		parent := path[i-1]
		delete(parent.children, levels[i-1])
	}
}

// CleanSession removes every subscription belonging to session, given the
// handles it is holding (spec.md section 9's "parallel indices": the
// trie owns the leaves, the session owns non-owning handle pointers).
func (t *SubscriptionTrie) CleanSession(handles []*TrieHandle) {
	for _, h := range handles {
		t.Unsubscribe(h.Session, h.Filter)
	}
}

// Recipient is one subscriber selected to receive a published message.
type Recipient struct {
	Session        Session
	QoS            byte
	Sub            Subscription
	SubscriptionID uint32
}

// Publish walks the trie for topic, collecting subscribers at matching
// nodes and at any '#' ancestors along the path, deduplicating per
// session when AllowDuplicateMessages is false, and selecting one member
// per shared-subscription group (round-robin, stable within this call).
func (t *SubscriptionTrie) Publish(topic string) []Recipient {
	if err := ValidateTopicName(topic); err != nil {
		return nil
	}

	levels := strings.Split(topic, string(topicSeparator))
	isSystem := len(topic) > 0 && topic[0] == '$'

	t.mu.Lock()
	var collected []*TrieHandle
	var sharedPicks []*TrieHandle
	t.walk(t.root, levels, 0, isSystem, &collected, &sharedPicks)
	t.mu.Unlock()

	collected = append(collected, sharedPicks...)

	if t.AllowDuplicateMessages {
		out := make([]Recipient, 0, len(collected))
		for _, h := range collected {
			out = append(out, Recipient{Session: h.Session, QoS: h.Sub.QoS, Sub: h.Sub, SubscriptionID: h.Sub.SubscriptionID})
		}
		return out
	}

	best := make(map[string]*TrieHandle)
	order := make([]string, 0, len(collected))
	for _, h := range collected {
		cid := h.Session.ClientID()
		existing, ok := best[cid]
		if !ok {
			order = append(order, cid)
			best[cid] = h
			continue
		}
		if h.Sub.QoS > existing.Sub.QoS {
			best[cid] = h
		}
	}
	out := make([]Recipient, 0, len(order))
	for _, cid := range order {
		h := best[cid]
		out = append(out, Recipient{Session: h.Session, QoS: h.Sub.QoS, Sub: h.Sub, SubscriptionID: h.Sub.SubscriptionID})
	}
	return out
}

// walk performs the recursive matching descent. Must be called with t.mu
// held; appends directly-subscribed handles to *collected and one
// round-robin pick per shared group encountered to *sharedPicks.
func (t *SubscriptionTrie) walk(node *trieNode, levels []string, idx int, isSystem bool, collected, sharedPicks *[]*TrieHandle) {
	if node == nil {
		return
	}

	gate := !isSystem || idx > 0

	if gate && node.children != nil {
		if child, ok := node.children[string(multiLevelWildcard)]; ok {
			*collected = append(*collected, child.subscribers...)
			t.pickShared(child, sharedPicks)
		}
	}

	if idx >= len(levels) {
		*collected = append(*collected, node.subscribers...)
		t.pickShared(node, sharedPicks)
		return
	}

	level := levels[idx]
	if node.children != nil {
		if child, ok := node.children[level]; ok {
			t.walk(child, levels, idx+1, isSystem, collected, sharedPicks)
		}
		if gate {
			if child, ok := node.children[string(singleLevelWildcard)]; ok {
				t.walk(child, levels, idx+1, isSystem, collected, sharedPicks)
			}
		}
	}
}

func (t *SubscriptionTrie) pickShared(node *trieNode, sharedPicks *[]*TrieHandle) {
	for group, members := range node.sharedGroups {
		if len(members) == 0 {
			continue
		}
		if node.rrCounter == nil {
			node.rrCounter = make(map[string]int)
		}
		i := node.rrCounter[group] % len(members)
		node.rrCounter[group] = i + 1
		*sharedPicks = append(*sharedPicks, members[i])
	}
}

// ShouldSendRetained reports whether a retained message sweep should run
// for a (re)subscription, per the SUBSCRIBE retain-handling option
// (MQTT v5 section 3.8.3.1): 0 always sends, 1 only on a genuinely new
// subscription, 2 never.
func ShouldSendRetained(retainHandling byte, isNewSubscription bool) bool {
	switch retainHandling {
	case 0:
		return true
	case 1:
		return isNewSubscription
	case 2:
		return false
	default:
		return true
	}
}

// GetDeliveryRetain determines if the retain flag should be set on
// delivery: preserved when the subscription set Retain As Published,
// otherwise cleared per default MQTT behavior.
func GetDeliveryRetain(sub Subscription, originalRetain bool) bool {
	if sub.RetainAsPublish {
		return originalRetain
	}
	return false
}

// SetRetained sets or clears the retained message at topic's node. An
// empty payload clears any existing retained message there (spec.md
// section 4.3).
func (t *SubscriptionTrie) SetRetained(topic string, msg *Message, sourceID, sourceUsername string, expiry time.Time) error {
	if err := ValidateTopicName(topic); err != nil {
		return err
	}
	levels := strings.Split(topic, string(topicSeparator))

	t.mu.Lock()
	defer t.mu.Unlock()

	node := t.root
	var path []*trieNode
	for _, lvl := range levels {
		path = append(path, node)
		if node.children == nil {
			node.children = make(map[string]*trieNode)
		}
		child, ok := node.children[lvl]
		if !ok {
			child = newTrieNode(lvl)
			node.children[lvl] = child
		}
		node = child
	}
	path = append(path, node)

	if node.retained != nil {
		t.store.RefDec(node.retained)
		node.retained = nil
	}

	if len(msg.Payload) == 0 {
		t.pruneLocked(path, levels)
		return nil
	}

	entry := t.store.Store(msg, sourceID, sourceUsername, expiry)
	t.store.RefInc(entry)
	node.retained = entry
	return nil
}

// ClearRetained removes the retained message at topic, if any.
func (t *SubscriptionTrie) ClearRetained(topic string) {
	_ = t.SetRetained(topic, &Message{Topic: topic}, "", "", time.Time{})
}

// FetchRetainedFor synthesizes the retained deliveries a new subscription
// to filter should receive: the retained message at every matching node,
// per spec.md section 4.3.
func (t *SubscriptionTrie) FetchRetainedFor(filter string) []*StoredMessage {
	levels, group, err := splitFilterLevels(filter)
	if err != nil || group != "" {
		// Shared subscriptions never receive retained messages (MQTT v5 §3.8.3.1).
		return nil
	}

	isSystem := strings.HasPrefix(filter, "$")

	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*StoredMessage
	t.walkRetained(t.root, levels, 0, isSystem, &out)
	return out
}

func (t *SubscriptionTrie) walkRetained(node *trieNode, levels []string, idx int, isSystemFilter bool, out *[]*StoredMessage) {
	if node == nil {
		return
	}

	if idx >= len(levels) {
		if node.retained != nil {
			*out = append(*out, node.retained)
		}
		return
	}

	level := levels[idx]
	switch level {
	case string(multiLevelWildcard):
		t.collectRetainedSubtree(node, isSystemFilter, out)
	case string(singleLevelWildcard):
		for frag, child := range node.children {
			if !isSystemFilter && strings.HasPrefix(frag, "$") {
				continue
			}
			t.walkRetained(child, levels, idx+1, isSystemFilter, out)
		}
	default:
		if child, ok := node.children[level]; ok {
			t.walkRetained(child, levels, idx+1, isSystemFilter, out)
		}
	}
}

func (t *SubscriptionTrie) collectRetainedSubtree(node *trieNode, isSystemFilter bool, out *[]*StoredMessage) {
	if node.retained != nil {
		*out = append(*out, node.retained)
	}
	for frag, child := range node.children {
		if !isSystemFilter && strings.HasPrefix(frag, "$") {
			continue
		}
		t.collectRetainedSubtree(child, isSystemFilter, out)
	}
}
