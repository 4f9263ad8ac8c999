package usage

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// HumanDuration formats a duration as "850ms", "42s" or "3m05s".
func HumanDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return formatScaled(d.Seconds(), "s")
	default:
		m := int(d / time.Minute)
		s := int((d % time.Minute) / time.Second)
		return fmt.Sprintf("%dm%02ds", m, s)
	}
}

// GroupedInt formats integers with comma separators.
func GroupedInt(n int) string {
	s := strconv.Itoa(n)
	if n < 1000 {
		return s
	}

	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		if len(s) > pre {
			b.WriteByte(',')
		}
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

// Summary renders an aggregate and its per-kind breakdown as plain text.
func Summary(total Aggregate, byKind map[string]Aggregate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "jobs: %s (completed %s, timed out %s, failed %s, canceled %s)\n",
		GroupedInt(total.Calls), GroupedInt(total.Completed), GroupedInt(total.TimedOut),
		GroupedInt(total.Failed), GroupedInt(total.Canceled))
	fmt.Fprintf(&b, "retries: %s, avg duration: %s\n", GroupedInt(total.Retries), HumanDuration(total.AvgDuration()))

	kinds := make([]string, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		agg := byKind[k]
		fmt.Fprintf(&b, "  %-10s %s/%s ok, avg %s\n", k, GroupedInt(agg.Completed), GroupedInt(agg.Calls), HumanDuration(agg.AvgDuration()))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatScaled(value float64, suffix string) string {
	s := fmt.Sprintf("%.1f", value)
	s = strings.TrimSuffix(s, ".0")
	return s + suffix
}
