package report

import (
	"embed"
	"html/template"
	"io"
	"regexp"
	"time"

	"easybook/internal/booking"
	"easybook/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

var cssColorRe = regexp.MustCompile(`^(#[0-9a-fA-F]{3,8}|hsla?\([0-9., %]+\)|[a-zA-Z]+)$`)

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"color": cssColor,
}).ParseFS(templateFS, "templates/*.html"))

// cssColor lets well-formed colour values through html/template's CSS
// filter, which would otherwise reject the parentheses of hsl().
func cssColor(c string) template.CSS {
	if cssColorRe.MatchString(c) {
		return template.CSS(c)
	}
	return template.CSS(booking.DefaultColor)
}

// WeekLink points at one weekly table.
type WeekLink struct {
	Key   string
	Title string
}

// WeekLinks lists weeks by their start date.
func WeekLinks(weeks []model.Week) []WeekLink {
	links := make([]WeekLink, 0, len(weeks))
	for _, w := range weeks {
		links = append(links, WeekLink{Key: booking.FormatDate(w.Start), Title: ShortDate(w.Start)})
	}
	return links
}

// TimelinePage is the data for the main page.
type TimelinePage struct {
	Title    string
	Source   string
	Encoding string
	LoadedAt time.Time
	Stats    booking.Stats
	Skipped  int
	Grid     Grid
	Weeks    []WeekLink
	NoEvents string
}

// WeekPage is the data for a weekly table. Width is the layout width in CSS
// pixels and should match the capture viewport.
type WeekPage struct {
	Title string
	Width int
	Grid  Grid
}

// RenderTimeline writes the timeline page.
func RenderTimeline(w io.Writer, p TimelinePage) error {
	if p.Title == "" {
		p.Title = "施設予約"
	}
	if p.NoEvents == "" {
		p.NoEvents = NoEventsText
	}
	return templates.ExecuteTemplate(w, "timeline.html", p)
}

// RenderWeek writes one weekly table page. The root element carries
// data-ready="true" so a headless browser can wait on it.
func RenderWeek(w io.Writer, p WeekPage) error {
	if p.Title == "" {
		p.Title = p.Grid.Title
	}
	if p.Width <= 0 {
		p.Width = 1200
	}
	return templates.ExecuteTemplate(w, "weekly.html", p)
}
