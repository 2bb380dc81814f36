package processing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-teleop/rover-controller/pkg/config"
)

func TestLoadFromConfig(t *testing.T) {
	cfg := config.DefaultArbiterConfig()
	r := NewTopicRegistry(nil)
	r.LoadFromConfig(&cfg)

	assert.Equal(t, []string{
		"teleop.alert.emergency",
		"teleop.control.cmd_vel",
		"teleop.sensor.uwb_distance",
	}, r.GetAllTopics())

	info, ok := r.GetTopicInfo(cfg.Topics.HazardDistance)
	require.True(t, ok)
	assert.Equal(t, DirectionInbound, info.Direction)
	assert.Equal(t, "std_msgs/msg/Float32", info.MessageType)

	info, ok = r.GetTopicInfo(cfg.Topics.CmdVel)
	require.True(t, ok)
	assert.Equal(t, DirectionOutbound, info.Direction)
}

func TestUpdateTopicStats(t *testing.T) {
	cfg := config.DefaultArbiterConfig()
	r := NewTopicRegistry(nil)
	r.LoadFromConfig(&cfg)

	_, ok := r.LastSeen(cfg.Topics.HazardDistance)
	assert.False(t, ok)

	at := time.Date(2025, 4, 6, 12, 0, 0, 0, time.UTC)
	r.UpdateTopicStats(cfg.Topics.HazardDistance, at.UnixNano())
	r.UpdateTopicStats(cfg.Topics.HazardDistance, at.Add(time.Second).UnixNano())

	stats := r.GetTopicStats()
	assert.Equal(t, int64(2), stats[cfg.Topics.HazardDistance].StatCount)

	seen, ok := r.LastSeen(cfg.Topics.HazardDistance)
	require.True(t, ok)
	assert.True(t, seen.Equal(at.Add(time.Second)))

	// Unknown topics are tracked on first sight.
	r.UpdateTopicStats("teleop.unknown", 1)
	info, ok := r.GetTopicInfo("teleop.unknown")
	require.True(t, ok)
	assert.Equal(t, "STANDARD", info.Priority)
}

func TestReloadKeepsCounters(t *testing.T) {
	cfg := config.DefaultArbiterConfig()
	r := NewTopicRegistry(nil)
	r.LoadFromConfig(&cfg)
	r.UpdateTopicStats(cfg.Topics.CmdVel, 42)

	cfg.Topics.EmergencyAlert = "teleop.alert.renamed"
	r.LoadFromConfig(&cfg)

	info, ok := r.GetTopicInfo(cfg.Topics.CmdVel)
	require.True(t, ok)
	assert.Equal(t, int64(1), info.StatCount)
	_, ok = r.GetTopicInfo("teleop.alert.emergency")
	assert.False(t, ok)
}
