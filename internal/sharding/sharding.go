package sharding

import (
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"
)

// ShardCount is the fixed number of partitions for event subjects.
const ShardCount = 1024

const eventPrefix = "app.event."

// GetShardID calculates the deterministic shard for an entity's public id.
func GetShardID(publicID string) int {
	checksum := crc32.ChecksumIEEE([]byte(publicID))
	return int(checksum % ShardCount)
}

// EventSubject returns the subject an event about publicID is published on.
// Format: app.event.{event_type}.{shard_id}
func EventSubject(eventType, publicID string) string {
	return fmt.Sprintf("%s%s.%d", eventPrefix, eventType, GetShardID(publicID))
}

// EventFilter matches every shard of one event type.
func EventFilter(eventType string) string {
	return eventPrefix + eventType + ".*"
}

// ShardFromSubject extracts the shard suffix of an event subject.
func ShardFromSubject(subject string) (int, bool) {
	idx := strings.LastIndexByte(subject, '.')
	if idx < 0 || idx == len(subject)-1 {
		return 0, false
	}
	shard, err := strconv.Atoi(subject[idx+1:])
	if err != nil || shard < 0 || shard >= ShardCount {
		return 0, false
	}
	return shard, true
}

// Worker maps a subject onto one of n workers so that every event for the same
// entity lands on the same worker. Subjects without a shard go to worker 0.
func Worker(subject string, n int) int {
	if n <= 1 {
		return 0
	}
	shard, ok := ShardFromSubject(subject)
	if !ok {
		return 0
	}
	return shard % n
}

// EventTypeFromSubject strips the prefix and shard suffix of an event subject.
func EventTypeFromSubject(subject string) (string, bool) {
	if !strings.HasPrefix(subject, eventPrefix) {
		return "", false
	}
	if _, ok := ShardFromSubject(subject); !ok {
		return "", false
	}
	rest := subject[len(eventPrefix):]
	return rest[:strings.LastIndexByte(rest, '.')], true
}
