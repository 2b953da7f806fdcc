// Package view turns lookup results into the labels shown to the user.
package view

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"strconv"
	"strings"

	"github.com/kjstillabower/weather-lookup/internal/models"
	"github.com/kjstillabower/weather-lookup/internal/service"
)

const (
	HistoryHeader = "Recent lookups:"
	emptyField    = "--"
)

// View is the display model for one lookup: three weather labels plus an icon.
// On failure Temperature carries the error message and the rest is blank.
type View struct {
	City        string `json:"city,omitempty"`
	Temperature string `json:"temperature"`
	Humidity    string `json:"humidity"`
	Wind        string `json:"wind"`
	IconURL     string `json:"iconUrl,omitempty"`
	Description string `json:"description,omitempty"`
	Cached      bool   `json:"cached"`
	Error       string `json:"error,omitempty"`
	ErrorKind   string `json:"errorKind,omitempty"`
}

// IconFunc maps an icon code to an image URL.
type IconFunc func(code string) string

// Placeholder is the view before the first lookup.
func Placeholder() View {
	return View{
		Temperature: "Temperature: " + emptyField + "°C",
		Humidity:    "Humidity: " + emptyField + "%",
		Wind:        "Wind: " + emptyField + " m/s",
	}
}

// FromResult fills all three labels from a successful lookup.
func FromResult(res service.Result, icon IconFunc) View {
	r := res.Reading
	v := View{
		City:        displayCity(res),
		Temperature: fmt.Sprintf("Temperature: %s°C", formatNumber(r.Temperature)),
		Humidity:    fmt.Sprintf("Humidity: %d%%", r.Humidity),
		Wind:        fmt.Sprintf("Wind: %s m/s", formatNumber(r.WindSpeed)),
		Description: r.Description,
		Cached:      res.Cached,
	}
	if icon != nil && r.Icon != "" {
		v.IconURL = icon(r.Icon)
	}
	return v
}

func displayCity(res service.Result) string {
	if res.Reading.City != "" {
		return res.Reading.City
	}
	return res.City
}

// FromError shows the failure message where the temperature goes and clears the other fields.
func FromError(err error) View {
	msg := service.UserMessage(err)
	return View{
		Temperature: msg,
		Error:       msg,
		ErrorKind:   service.Classify(err).String(),
	}
}

// HistoryLine formats one log entry as "<city>: <temp>°C".
func HistoryLine(o models.Observation) string {
	return fmt.Sprintf("%s: %s°C", o.City, formatNumber(o.Temperature))
}

// HistoryLines formats entries in the order given (newest first from the store).
func HistoryLines(obs []models.Observation) []string {
	lines := make([]string, 0, len(obs))
	for _, o := range obs {
		lines = append(lines, HistoryLine(o))
	}
	return lines
}

// HistoryText is the header followed by one line per entry, or a placeholder when empty.
func HistoryText(obs []models.Observation) string {
	if len(obs) == 0 {
		return HistoryHeader + "\n" + emptyField
	}
	return HistoryHeader + "\n" + strings.Join(HistoryLines(obs), "\n")
}

// formatNumber prints the shortest exact representation: 15, -2.5, 3.61.
func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// Page is the data behind the lookup window.
type Page struct {
	Query   string
	View    View
	History []string
}

// NewPage assembles the window for a view and the recent history.
func NewPage(query string, v View, recent []models.Observation) Page {
	return Page{Query: query, View: v, History: HistoryLines(recent)}
}

// RenderHTML writes the lookup window.
func RenderHTML(w io.Writer, p Page) error {
	return pageTemplate.Execute(w, p)
}

// RenderText writes the labels and history for terminal output.
func RenderText(w io.Writer, v View, recent []models.Observation) error {
	var b strings.Builder
	if v.City != "" {
		b.WriteString(v.City)
		if v.Description != "" {
			b.WriteString(" (" + v.Description + ")")
		}
		b.WriteString("\n")
	}
	for _, line := range []string{v.Temperature, v.Humidity, v.Wind} {
		if line != "" {
			b.WriteString(line + "\n")
		}
	}
	if v.IconURL != "" {
		b.WriteString("Icon: " + v.IconURL + "\n")
	}
	b.WriteString("\n")
	b.WriteString(HistoryText(recent))
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}
