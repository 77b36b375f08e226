package token

// Role framing overhead added per message. Providers bill on framed
// messages, not raw strings; the system role carries a slightly larger
// wrapper.
const (
	messageOverhead = 3
	systemOverhead  = 4
)

// Counter wraps an Estimator with a heuristic fallback so that counting
// never fails: any estimator error degrades to the character-based
// approximation instead of propagating.
type Counter struct {
	precise  Estimator
	fallback Heuristic
}

// NewCounter returns a Counter backed by the given estimator. A nil
// estimator means the heuristic is used for everything.
func NewCounter(precise Estimator) *Counter {
	return &Counter{precise: precise}
}

// Count returns a non-negative token count for raw text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if c.precise != nil {
		if n, err := c.precise.Estimate(text); err == nil {
			return n
		}
	}
	n, _ := c.fallback.Estimate(text)
	return n
}

// CountMessage returns the token count for text framed with the given role.
func (c *Counter) CountMessage(text, role string) int {
	overhead := messageOverhead
	if role == "system" {
		overhead = systemOverhead
	}
	return c.Count(text) + overhead
}

// CountAll sums framed counts over role/content pairs.
func (c *Counter) CountAll(msgs []RoleText) int {
	total := 0
	for _, m := range msgs {
		if m.Content == "" {
			continue
		}
		total += c.CountMessage(m.Content, m.Role)
	}
	return total
}

// RoleText is the minimal shape Counter needs from a chat message.
type RoleText struct {
	Role    string
	Content string
}
