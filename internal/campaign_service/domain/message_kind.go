package domain

import "strings"

// MessageKind is the provider message class.
type MessageKind string

const (
	KindSMS MessageKind = "SMS" // short text
	KindLMS MessageKind = "LMS" // long text
	KindMMS MessageKind = "MMS" // text with image
)

const (
	SMSByteLimit = 90
	LMSByteLimit = 2000
)

// ParseMessageKind accepts the kinds case-insensitively plus the legacy "SMS300" alias for LMS.
func ParseMessageKind(s string) (MessageKind, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SMS":
		return KindSMS, true
	case "LMS", "SMS300":
		return KindLMS, true
	case "MMS":
		return KindMMS, true
	}
	return "", false
}

func (k MessageKind) HasMedia() bool { return k == KindMMS }

// MessageBytes counts text the way carriers bill it: one byte per ASCII
// character and two for everything else.
func MessageBytes(text string) int {
	n := 0
	for _, r := range text {
		if r < 0x80 {
			n++
		} else {
			n += 2
		}
	}
	return n
}

// ResolveKind picks the class a single rendered message is actually sent as.
// SMS text over the SMS limit is promoted to LMS.
func ResolveKind(requested MessageKind, text string) MessageKind {
	if requested == KindSMS && MessageBytes(text) > SMSByteLimit {
		return KindLMS
	}
	return requested
}
