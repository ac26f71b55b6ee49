// Package render produces the HTML fragments served by the render actions.
package render

import (
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/polarityio/dataminr-pulse-limited/internal/model"
)

const timestampLayout = "Jan 02, 2006 15:04 MST"

const detailTemplate = `<div class="dm-alert-detail">
  <div class="dm-headline">{{.Headline}}</div>
  {{- if .TypeName}}
  <span class="dm-type dm-type-{{.TypeClass}}">{{.TypeName}}</span>
  {{- end}}
  {{- if .Timestamp}}
  <span class="dm-time">{{.Timestamp}}</span>
  {{- end}}
  {{- if .SubHeadline}}
  <p class="dm-subheadline">{{.SubHeadline}}</p>
  {{- end}}
  {{- if .Lists}}
  <ul class="dm-lists">
    {{- range .Lists}}
    <li>{{.}}</li>
    {{- end}}
  </ul>
  {{- end}}
  {{- if .AlertURL}}
  <a href="{{.AlertURL}}" target="_blank" rel="noopener">View in Dataminr</a>
  {{- end}}
</div>
`

const notificationTemplate = `<div class="dm-notification">
  <span class="dm-notification-source">{{.Name}}</span> has new alerts.
</div>
`

// Renderer renders alerts and notifications to HTML. Safe for concurrent use.
type Renderer struct {
	detail       *template.Template
	notification *template.Template
}

func New() *Renderer {
	return &Renderer{
		detail:       template.Must(template.New("detail").Parse(detailTemplate)),
		notification: template.Must(template.New("notification").Parse(notificationTemplate)),
	}
}

type detailData struct {
	Headline    string
	SubHeadline string
	TypeName    string
	TypeClass   string
	Timestamp   string
	Lists       []string
	AlertURL    string
}

// AlertDetail renders the expanded view of one alert. The timestamp is
// formatted in the requested IANA timezone; unknown zones fall back to UTC.
func (r *Renderer) AlertDetail(a model.Alert, timezone string) (string, error) {
	data := detailData{
		Headline:    a.Headline,
		SubHeadline: a.SubHeadline,
		TypeName:    a.TypeName(),
		TypeClass:   strings.ToLower(a.TypeName()),
		AlertURL:    a.DataminrAlertURL,
	}
	if a.AlertTimestamp > 0 {
		data.Timestamp = a.Time().In(locationOrUTC(timezone)).Format(timestampLayout)
	}
	for _, l := range a.ListsMatched {
		if l.Name != "" {
			data.Lists = append(data.Lists, l.Name)
		}
	}

	var b strings.Builder
	if err := r.detail.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render alert detail: %w", err)
	}
	return b.String(), nil
}

// AlertNotification renders the banner shown when a watched source has new
// alerts.
func (r *Renderer) AlertNotification(name string) (string, error) {
	var b strings.Builder
	if err := r.notification.Execute(&b, struct{ Name string }{Name: name}); err != nil {
		return "", fmt.Errorf("render notification: %w", err)
	}
	return b.String(), nil
}

func locationOrUTC(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
