// Package templates provides formatting helpers and templ components for
// alert emails and host pages.
package templates

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/darshan-rambhia/beacon/internal/expr"
	"github.com/darshan-rambhia/beacon/internal/model"
)

// FormatBytes formats bytes into human-readable form.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < 0 {
		if b == math.MinInt64 {
			b++
		}
		return "-" + FormatBytes(-b)
	}
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit && exp < 5; n /= unit {
		div *= unit
		exp++
	}
	units := []string{"KB", "MB", "GB", "TB", "PB", "EB"}
	return fmt.Sprintf("%.1f %s", float64(b)/float64(div), units[exp])
}

// FormatPct formats a 0-100 percentage.
func FormatPct(v float64) string {
	return fmt.Sprintf("%.0f%%", v)
}

// ShortFloat truncates v to at most two decimal places.
func ShortFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "0"
	}
	return strconv.FormatFloat(math.Floor(v*100)/100, 'f', -1, 64)
}

// Commify groups the thousands of an integer, e.g. 1,234,567.
func Commify(n int64) string {
	return humanize.Comma(n)
}

// FormatUptime formats seconds into "Xd Yh" form.
func FormatUptime(secs int64) string {
	d := secs / 86400
	h := (secs % 86400) / 3600
	if d > 0 {
		return fmt.Sprintf("%dd %dh", d, h)
	}
	m := (secs % 3600) / 60
	return fmt.Sprintf("%dh %dm", h, m)
}

// FormatDuration formats a duration into human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	if d < 48*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	return fmt.Sprintf("%dd %dh", int(d.Hours())/24, int(d.Hours())%24)
}

// FormatTime formats a unix timestamp.
func FormatTime(unixTS int64) string {
	return time.Unix(unixTS, 0).UTC().Format("2006-01-02 15:04")
}

// FormatAge formats a unix timestamp relative to now, e.g. "3 minutes ago".
func FormatAge(unixTS int64) string {
	return humanize.Time(time.Unix(unixTS, 0))
}

// MessageFormatters are the [tag:path] formatters available in alert
// message templates.
func MessageFormatters() expr.Formatters {
	return expr.Formatters{
		"bytes":   func(v any) string { return FormatBytes(expr.ParseInt(v)) },
		"commify": func(v any) string { return Commify(expr.ParseInt(v)) },
		"pct":     func(v any) string { return ShortFloat(expr.ParseFloat(v)) + "%" },
		"integer": func(v any) string { return strconv.FormatInt(expr.ParseInt(v), 10) },
		"float":   func(v any) string { return ShortFloat(expr.ParseFloat(v)) },
	}
}

// AlertSubject returns the email subject line for an alert event.
func AlertSubject(c model.AlertContext) string {
	if c.Template == model.EventAlertCleared {
		return fmt.Sprintf("%s Alert Cleared: %s: %s", c.ClientName, c.NiceHostname, c.Title)
	}
	return fmt.Sprintf("%s Alert: %s: %s", c.ClientName, c.NiceHostname, c.Title)
}
