package app

import (
	"regexp"
	"sort"

	"github.com/masgolf/golang_services/internal/campaign_service/domain"
)

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// lookupPlaceholder resolves key for one recipient. Recipient values win over
// campaign vars.
func lookupPlaceholder(key string, r domain.Recipient, vars map[string]string) (string, bool) {
	switch key {
	case "name":
		if r.Name != "" {
			return r.Name, true
		}
	case "phone":
		if p, ok := r.Normalized(); ok {
			return p.Display(), true
		}
	}
	if v, ok := r.Fields[key]; ok {
		return v, true
	}
	v, ok := vars[key]
	return v, ok
}

// RenderMessage substitutes {placeholders}. Unresolved ones render as empty
// text; LintTemplate reports them ahead of sending.
func RenderMessage(template string, r domain.Recipient, vars map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(m string) string {
		key := m[1 : len(m)-1]
		v, _ := lookupPlaceholder(key, r, vars)
		return v
	})
}

// LintWarning is one placeholder that would render empty.
type LintWarning struct {
	Placeholder string `json:"placeholder"`
	Missing     int    `json:"missing"` // recipients without a value
	Example     string `json:"example,omitempty"`
}

// LintTemplate lists placeholders with no value for some recipients. With no
// recipients it checks against campaign vars only.
func LintTemplate(template string, recipients []domain.Recipient, vars map[string]string) []LintWarning {
	keys := map[string]struct{}{}
	for _, m := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		keys[m[1]] = struct{}{}
	}

	probe := recipients
	if len(probe) == 0 {
		probe = []domain.Recipient{{}}
	}

	var warnings []LintWarning
	for key := range keys {
		w := LintWarning{Placeholder: key}
		for _, r := range probe {
			if _, ok := lookupPlaceholder(key, r, vars); !ok {
				w.Missing++
				if w.Example == "" {
					w.Example = r.Phone
				}
			}
		}
		if w.Missing > 0 {
			warnings = append(warnings, w)
		}
	}
	sort.Slice(warnings, func(i, j int) bool { return warnings[i].Placeholder < warnings[j].Placeholder })
	return warnings
}

// CheckDispatchable is the full send guard: structural checks plus a size
// check of every rendered message.
func CheckDispatchable(c *domain.Campaign, batchLimit int) error {
	if err := c.CheckSendable(batchLimit); err != nil {
		return err
	}
	vars := c.RenderVars()
	for _, r := range c.Recipients {
		text := RenderMessage(c.Template, r, vars)
		if n := domain.MessageBytes(text); n > domain.LMSByteLimit {
			return domain.MessageTooLong(r.Phone, n)
		}
	}
	return nil
}
