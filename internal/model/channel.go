package model

import "strings"

// PublicChannelKey is the key of the pre-existing shared channel.
const PublicChannelKey = "public-1"

// Channel is a chat channel. DM channels carry a "dm:" prefixed key and
// exactly two members; they are created server-side on first use and never
// mutated by the client.
type Channel struct {
	Key     string   `json:"key"`
	Title   string   `json:"title"`
	Members []string `json:"members,omitempty"`
}

// IsDM reports whether the channel is a direct-message channel.
func (c *Channel) IsDM() bool {
	return strings.HasPrefix(c.Key, "dm:")
}

// Peer returns the other member of a DM channel, or "" for non-DM channels.
func (c *Channel) Peer(self string) string {
	if !c.IsDM() {
		return ""
	}
	for _, m := range c.Members {
		if m != self {
			return m
		}
	}
	return ""
}
