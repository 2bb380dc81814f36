package processing

import (
	"sort"
	"sync"
	"time"

	"github.com/open-teleop/rover-controller/pkg/config"
	customlog "github.com/open-teleop/rover-controller/pkg/log"
)

const (
	DirectionInbound  = "INBOUND"
	DirectionOutbound = "OUTBOUND"
)

// TopicInfo holds metadata and traffic counters for a topic
type TopicInfo struct {
	OttTopic     string `json:"ott"`
	MessageType  string `json:"type"`
	Priority     string `json:"priority"`
	Direction    string `json:"direction"`
	StatCount    int64  `json:"count"`
	LastReceived int64  `json:"last_received"`
}

// TopicRegistry maintains information about topics
type TopicRegistry struct {
	logger customlog.Logger
	topics map[string]*TopicInfo
	mu     sync.RWMutex
}

// NewTopicRegistry creates a new topic registry
func NewTopicRegistry(logger customlog.Logger) *TopicRegistry {
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	return &TopicRegistry{
		logger: logger,
		topics: make(map[string]*TopicInfo),
	}
}

// LoadFromConfig registers the arbiter's topics. Counters of topics that
// keep their name survive a reload.
func (r *TopicRegistry) LoadFromConfig(cfg *config.ArbiterConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.topics
	r.topics = make(map[string]*TopicInfo)

	for _, t := range []TopicInfo{
		{OttTopic: cfg.Topics.HazardDistance, MessageType: "std_msgs/msg/Float32", Priority: "HIGH", Direction: DirectionInbound},
		{OttTopic: cfg.Topics.CmdVel, MessageType: "geometry_msgs/msg/Twist", Priority: "HIGH", Direction: DirectionOutbound},
		{OttTopic: cfg.Topics.EmergencyAlert, MessageType: "std_msgs/msg/String", Priority: "HIGH", Direction: DirectionOutbound},
	} {
		info := t
		if prev, ok := old[t.OttTopic]; ok {
			info.StatCount = prev.StatCount
			info.LastReceived = prev.LastReceived
		}
		r.topics[t.OttTopic] = &info
	}

	r.logger.Infof("Loaded %d topics into registry", len(r.topics))
}

// GetTopicInfo gets information for a topic
func (r *TopicRegistry) GetTopicInfo(topic string) (*TopicInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, exists := r.topics[topic]
	if !exists {
		return nil, false
	}

	infoCopy := *info
	return &infoCopy, true
}

// UpdateTopicStats counts one message on topic at timestamp (unix nanoseconds).
func (r *TopicRegistry) UpdateTopicStats(topic string, timestamp int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, exists := r.topics[topic]
	if !exists {
		info = &TopicInfo{
			OttTopic: topic,
			Priority: "STANDARD",
		}
		r.topics[topic] = info
	}

	info.StatCount++
	info.LastReceived = timestamp
}

// LastSeen returns when topic last carried a message.
func (r *TopicRegistry) LastSeen(topic string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, exists := r.topics[topic]
	if !exists || info.LastReceived == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, info.LastReceived), true
}

// GetAllTopics returns the registered topic names in sorted order
func (r *TopicRegistry) GetAllTopics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topics := make([]string, 0, len(r.topics))
	for topic := range r.topics {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// GetTopicStats returns a copy of every topic's info keyed by topic
func (r *TopicRegistry) GetTopicStats() map[string]TopicInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]TopicInfo, len(r.topics))
	for topic, info := range r.topics {
		stats[topic] = *info
	}
	return stats
}
