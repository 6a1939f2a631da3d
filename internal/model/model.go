// Package model defines all shared domain types for Beacon.
package model

import (
	"maps"
	"time"
)

// DataType controls how a resolved monitor value is coerced.
type DataType string

const (
	TypeInteger      DataType = "integer"
	TypeBytes        DataType = "bytes"
	TypeSeconds      DataType = "seconds"
	TypeMilliseconds DataType = "milliseconds"
	TypeString       DataType = "string"
	TypeFloat        DataType = "float"
)

// IsInteger reports whether values of this type are truncated to integers.
func (t DataType) IsInteger() bool {
	switch t {
	case TypeInteger, TypeBytes, TypeSeconds, TypeMilliseconds:
		return true
	}
	return false
}

// Valid reports whether t is a known data type. The empty type means float.
func (t DataType) Valid() bool {
	switch t {
	case "", TypeInteger, TypeBytes, TypeSeconds, TypeMilliseconds, TypeString, TypeFloat:
		return true
	}
	return false
}

// MonitorDef describes how to derive one named value from a submission.
type MonitorDef struct {
	ID            string   `yaml:"id" json:"id"`
	Title         string   `yaml:"title" json:"title,omitempty"`
	Source        string   `yaml:"source" json:"source"`
	DataType      DataType `yaml:"data_type" json:"data_type,omitempty"`
	DataMatch     Pattern  `yaml:"data_match" json:"data_match,omitzero"`
	Delta         bool     `yaml:"delta" json:"delta,omitempty"`
	DivideByDelta bool     `yaml:"divide_by_delta" json:"divide_by_delta,omitempty"`
	Multiply      float64  `yaml:"multiply" json:"multiply,omitempty"`
	Divide        float64  `yaml:"divide" json:"divide,omitempty"`
	GroupMatch    Pattern  `yaml:"group_match" json:"group_match,omitzero"`
}

// AlertDef is a boolean rule evaluated against resolved values.
type AlertDef struct {
	ID         string  `yaml:"id" json:"id"`
	Title      string  `yaml:"title" json:"title"`
	Expression string  `yaml:"expression" json:"expression"`
	Message    string  `yaml:"message" json:"message"`
	GroupMatch Pattern `yaml:"group_match" json:"group_match,omitzero"`
	Enabled    bool    `yaml:"enabled" json:"enabled"`
	Email      string  `yaml:"email" json:"email,omitempty"`
	WebHook    string  `yaml:"web_hook" json:"web_hook,omitempty"`
	Notes      string  `yaml:"notes" json:"notes,omitempty"`
}

// GroupDef is a named collection of hosts.
type GroupDef struct {
	ID            string  `yaml:"id" json:"id"`
	Title         string  `yaml:"title" json:"title"`
	HostnameMatch Pattern `yaml:"hostname_match" json:"hostname_match"`
	SortOrder     int     `yaml:"sort_order" json:"sort_order"`
	AlertsEnabled bool    `yaml:"alerts_enabled" json:"alerts_enabled"`
	AlertEmail    string  `yaml:"alert_email" json:"alert_email,omitempty"`
	AlertWebHook  string  `yaml:"alert_web_hook" json:"alert_web_hook,omitempty"`
}

// Resolution is one timeline bucket width (a "system" such as daily or yearly).
type Resolution struct {
	ID         string `yaml:"id" json:"id"`
	EpochDiv   int64  `yaml:"epoch_div" json:"epoch_div"`
	DateFormat string `yaml:"date_format" json:"date_format"`
	SingleOnly bool   `yaml:"single_only" json:"single_only,omitempty"`
}

// Index returns the epoch_div bucket index for a unix timestamp.
func (r Resolution) Index(date int64) int64 {
	if r.EpochDiv <= 0 {
		return date
	}
	return floorDiv(date, r.EpochDiv)
}

// Label formats the date label used in timeline keys.
func (r Resolution) Label(date int64) string {
	return time.Unix(date, 0).UTC().Format(r.DateFormat)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// SubmitRequest is the inbound submission body.
type SubmitRequest struct {
	Hostname string         `json:"hostname"`
	Group    string         `json:"group,omitempty"`
	Data     map[string]any `json:"data"`
}

// ActiveAlert is one triggered alert on a host.
type ActiveAlert struct {
	Date    int64  `json:"date"`
	Exp     string `json:"exp"`
	Message string `json:"message"`
}

// Submission is one accepted metric report, enriched as it moves through the pipeline.
type Submission struct {
	ID          string                 `json:"id"`
	Hostname    string                 `json:"hostname"`
	Group       string                 `json:"group"`
	CustomGroup bool                   `json:"custom_group,omitempty"`
	IP          string                 `json:"ip"`
	Date        int64                  `json:"date"`
	Data        map[string]any         `json:"data"`
	Monitors    Values                 `json:"monitors"`
	Deltas      Values                 `json:"deltas"`
	Alerts      map[string]ActiveAlert `json:"alerts"`
	NewAlerts   map[string]bool        `json:"new_alerts,omitempty"`
}

// HostKey is the per-host identity used for timeline lists and contributor sets.
func (s *Submission) HostKey() string {
	if s.CustomGroup {
		return s.Group + "/" + s.Hostname
	}
	return s.Hostname
}

// Context is the evaluation context handed to the expression engine.
func (s *Submission) Context() map[string]any {
	return map[string]any{
		"hostname": s.Hostname,
		"group":    s.Group,
		"ip":       s.IP,
		"date":     float64(s.Date),
		"data":     s.Data,
	}
}

// HostRecord is the persisted state of a host between submissions.
type HostRecord struct {
	Hostname    string                 `json:"hostname"`
	Group       string                 `json:"group"`
	CustomGroup bool                   `json:"custom_group,omitempty"`
	IP          string                 `json:"ip"`
	Date        int64                  `json:"date"`
	Data        map[string]any         `json:"data"`
	Monitors    Values                 `json:"monitors"`
	Alerts      map[string]ActiveAlert `json:"alerts"`
}

// NewHostRecord returns an empty record for a host seen for the first time.
func NewHostRecord() *HostRecord {
	return &HostRecord{
		Data:     map[string]any{},
		Monitors: Values{},
		Alerts:   map[string]ActiveAlert{},
	}
}

// RecordFrom builds the record persisted after a successful submission. Monitors
// holds absolute values so the next submission can compute deltas from them.
func RecordFrom(s *Submission) *HostRecord {
	return &HostRecord{
		Hostname:    s.Hostname,
		Group:       s.Group,
		CustomGroup: s.CustomGroup,
		IP:          s.IP,
		Date:        s.Date,
		Data:        s.Data,
		Monitors:    s.Monitors.Clone(),
		Alerts:      maps.Clone(s.Alerts),
	}
}

// Bucket is one aggregate entry in a timeline list.
type Bucket struct {
	Date     int64           `json:"date"`
	EpochDiv int64           `json:"epoch_div"`
	Totals   Values          `json:"totals"`
	Count    int64           `json:"count"`
	Alerts   map[string]bool `json:"alerts,omitempty"`
}

// Rollup is the accumulated totals for one group between flushes.
type Rollup struct {
	Totals Values `json:"totals"`
	Count  int64  `json:"count"`
}

// Event templates for alert notifications.
const (
	EventAlertNew     = "alert_new"
	EventAlertCleared = "alert_cleared"
)

// AlertEvent is a new or cleared alert transition handed to the dispatcher.
type AlertEvent struct {
	Template   string
	Def        AlertDef
	Submission *Submission
	Alert      ActiveAlert
	Elapsed    time.Duration
}

// Notification is the JSON body posted to alert web hooks and handed to
// every notification provider.
type Notification struct {
	Action     string      `json:"action"`
	Definition AlertDef    `json:"definition"`
	Alert      ActiveAlert `json:"alert"`
	Hostname   string      `json:"hostname"`
	Group      string      `json:"group"`
	URL        string      `json:"url"`
	Text       string      `json:"text"`
}

// Resolved reports whether the notification is for a cleared alert.
func (n Notification) Resolved() bool { return n.Action == EventAlertCleared }

// AlertContext is the human-readable view of an alert event used to render
// email bodies.
type AlertContext struct {
	Template     string
	ClientName   string
	Title        string
	TitleCaps    string
	Hostname     string
	NiceHostname string
	Group        string
	NiceGroup    string
	Expression   string
	Message      string
	Notes        string
	URL          string
	DateTime     string
	Elapsed      string
	LoadAvg      string
	MemTotal     string
	MemAvail     string
	Uptime       string
	OS           string
	EmailTo      string
}
