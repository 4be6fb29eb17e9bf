package protocol

const (
	subjectCommand = "control.command"
	subjectEvent   = "event"
)

// CommandSubject is where control commands are received when the control
// transport is NATS.
func CommandSubject(prefix string) string {
	return prefix + "." + subjectCommand
}

// EventSubject is where events of type t are published.
func EventSubject(prefix string, t EventType) string {
	return prefix + "." + subjectEvent + "." + string(t)
}

// EventWildcard matches every event subject under prefix.
func EventWildcard(prefix string) string {
	return prefix + "." + subjectEvent + ".>"
}

// StreamAudioPrefix is prepended to the stream key of bus audio chunks.
func StreamAudioPrefix(prefix string) string {
	return prefix + ".stream.audio."
}

// StreamAudioSubject carries float32 LE chunks for one bus stream. An empty
// payload ends the stream.
func StreamAudioSubject(prefix, key string) string {
	return StreamAudioPrefix(prefix) + key
}

// StreamPartialSubject is where partials for one bus stream are published.
func StreamPartialSubject(prefix, key string) string {
	return prefix + ".stream.partial." + key
}

// StreamAudioWildcard matches the audio subjects of every bus stream.
func StreamAudioWildcard(prefix string) string {
	return StreamAudioPrefix(prefix) + "*"
}

// NodeAnnounceSubject carries the node description published at startup.
func NodeAnnounceSubject(prefix string) string {
	return prefix + ".node.announce"
}

// NodeHeartbeatSubject carries periodic heartbeats of one node.
func NodeHeartbeatSubject(prefix, nodeID string) string {
	return prefix + ".node.heartbeat." + nodeID
}
