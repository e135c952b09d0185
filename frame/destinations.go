package frame

import "strings"

// Destination prefixes. The broker broadcasts on topic destinations and
// accepts publishes on app destinations.
const (
	topicPrefix = "/topic/chat/"
	sendPrefix  = "/app/chat/"
)

// TopicDestination returns the broadcast destination for a room.
func TopicDestination(roomID string) string {
	return topicPrefix + roomID
}

// SendDestination returns the publish destination for a room.
func SendDestination(roomID string) string {
	return sendPrefix + roomID
}

// RoomIDFromTopic extracts the room id from a broadcast destination.
// Returns "" if the destination is not a chat topic.
func RoomIDFromTopic(destination string) string {
	rest, ok := strings.CutPrefix(destination, topicPrefix)
	if !ok {
		return ""
	}
	return rest
}
