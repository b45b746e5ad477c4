package mqtt

import "fmt"

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "kronos"

// Topics builds Kronos MQTT topics under a configurable prefix.
//
//	topics := mqtt.NewTopics("kronos")
//	topics.TaskChange("u-1", "create")
//	// Returns: "kronos/user/u-1/task/create"
type Topics struct {
	prefix string
}

// NewTopics returns a Topics bound to prefix, falling back to DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// ServerStatus returns the retained online/offline status topic.
//
// Example: kronos/server/status
func (t Topics) ServerStatus() string {
	return fmt.Sprintf("%s/server/status", t.prefix)
}

// TaskChange returns the topic for one kind of task change of one user.
//
// Example: kronos/user/6f1c.../task/update
func (t Topics) TaskChange(userID, changeType string) string {
	return fmt.Sprintf("%s/user/%s/task/%s", t.prefix, userID, changeType)
}
