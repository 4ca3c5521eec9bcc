package events

import "strings"

// FormatQueueName builds the provider queue name for a logical name:
// "<prefix>-<name>" with "/" replaced by "-", plus the FIFO suffix in FIFO
// mode. An empty prefix yields the bare name.
func FormatQueueName(name, prefix string, mode Mode) string {
	parts := make([]string, 0, 2)
	if p := strings.TrimSpace(prefix); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, name)

	formatted := strings.ReplaceAll(strings.Join(parts, "-"), "/", "-")
	return mode.suffix(formatted)
}
