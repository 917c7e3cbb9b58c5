package domain

// Recipient is one addressee of a campaign. Phone is kept as entered;
// identity is the normalized form.
type Recipient struct {
	Phone  string            `json:"phone"`
	Name   string            `json:"name,omitempty"`
	Fields map[string]string `json:"fields,omitempty"` // per-recipient template values, e.g. province
}

func (r Recipient) Normalized() (NormalizedPhone, bool) {
	return NormalizePhone(r.Phone)
}

// Address is what gets handed to the provider: the normalized phone when
// there is one, otherwise the raw digits so the provider can reject it.
func (r Recipient) Address() string {
	if p, ok := r.Normalized(); ok {
		return string(p)
	}
	digits := make([]rune, 0, len(r.Phone))
	for _, c := range r.Phone {
		if c >= '0' && c <= '9' {
			digits = append(digits, c)
		}
	}
	return string(digits)
}

// RejectedRecipient is a recipient the provider refused within an otherwise accepted batch.
type RejectedRecipient struct {
	Phone  string `json:"phone"`
	Code   string `json:"code"`
	Reason string `json:"reason,omitempty"`
}

// ExclusionSet is a named set of phones to remove from a resolution.
// Sets are computed per resolution and never persisted.
type ExclusionSet struct {
	Name   string
	Phones PhoneSet
}
