package reminder

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"shuttle-backend/internal/apperrors"
	"shuttle-backend/internal/models"
)

const DefaultTemplate = "pickup_reminder"

const builtinCatalog = `
templates:
  pickup_reminder: >-
    Hi {{.PassengerName}}, this is a reminder that your {{.RouteName}} shuttle
    departs from {{.Origin}} at {{.DepartureTime}}.
    {{- if .VehicleCode}} Look for vehicle {{.VehicleCode}}.{{end}}
    {{- if .DriverName}} Your driver is {{.DriverName}}.{{end}}
    Please be at the pickup point 10 minutes early.
  delay_notice: >-
    Hi {{.PassengerName}}, your {{.RouteName}} shuttle from {{.Origin}}
    scheduled for {{.DepartureTime}} is running late. We will keep you posted.
`

// TemplateData is what message templates can reference
type TemplateData struct {
	PassengerName string
	RouteName     string
	Origin        string
	Destination   string
	DepartureTime string
	DepartureDate string
	DriverName    string
	VehicleCode   string
}

type catalogFile struct {
	Templates map[string]string `yaml:"templates"`
}

// Catalog holds named message templates
type Catalog struct {
	templates map[string]*template.Template
}

// DefaultCatalog returns the built-in templates
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog([]byte(builtinCatalog), nil)
	if err != nil {
		panic(fmt.Sprintf("built-in reminder templates: %v", err))
	}
	return c
}

// LoadCatalog reads a YAML catalog file on top of the built-in templates
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read templates file: %w", err)
	}
	return ParseCatalog(data, DefaultCatalog())
}

// ParseCatalog parses YAML templates, overriding entries of base when given
func ParseCatalog(data []byte, base *Catalog) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	c := &Catalog{templates: make(map[string]*template.Template)}
	if base != nil {
		for name, t := range base.templates {
			c.templates[name] = t
		}
	}
	for name, text := range file.Templates {
		t, err := template.New(name).Option("missingkey=error").Parse(strings.TrimSpace(text))
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", name, err)
		}
		c.templates[name] = t
	}
	return c, nil
}

func (c *Catalog) Has(name string) bool {
	_, ok := c.templates[name]
	return ok
}

func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.templates))
	for name := range c.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render executes the named template
func (c *Catalog) Render(name string, data TemplateData) (string, error) {
	t, ok := c.templates[name]
	if !ok {
		return "", apperrors.Validation("unknown template %q", name)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return strings.Join(strings.Fields(buf.String()), " "), nil
}

// DataFor fills template fields from a departure
func DataFor(dep *models.Departure, passengerName string, loc *time.Location) TemplateData {
	if loc == nil {
		loc = time.Local
	}
	data := TemplateData{PassengerName: passengerName}
	if data.PassengerName == "" {
		data.PassengerName = "there"
	}
	if dep == nil {
		return data
	}
	departs := dep.ScheduledTime().In(loc)
	data.RouteName = dep.Route.Name
	data.Origin = dep.Route.Origin.Name
	data.Destination = dep.Route.Destination.Name
	data.DepartureTime = departs.Format("3:04 PM")
	data.DepartureDate = departs.Format("Mon Jan 2")
	if dep.DriverName != nil {
		data.DriverName = *dep.DriverName
	}
	if dep.VehicleCode != nil {
		data.VehicleCode = *dep.VehicleCode
	}
	return data
}
