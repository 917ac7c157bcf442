package protocol

import "github.com/nbd-wtf/go-nostr"

// FirstTagValue returns the first value of the first tag named name, and
// false if no such tag exists.
func FirstTagValue(tags nostr.Tags, name string) (string, bool) {
	for _, t := range tags {
		if len(t) >= 2 && t[0] == name {
			return t[1], true
		}
	}
	return "", false
}

// AllTagValues returns the first value of every tag named name, in order.
func AllTagValues(tags nostr.Tags, name string) []string {
	var out []string
	for _, t := range tags {
		if len(t) >= 2 && t[0] == name {
			out = append(out, t[1])
		}
	}
	return out
}

// Identifier returns the "d" tag value, the replaceable-event identifier.
func Identifier(tags nostr.Tags) string {
	v, _ := FirstTagValue(tags, "d")
	return v
}
