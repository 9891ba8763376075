package reminder

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shuttle-backend/internal/apperrors"
)

func TestDefaultCatalogRendersPickupReminder(t *testing.T) {
	d := dep("d-1", at(14, 0))
	d.VehicleCode = strPtr("SH-12")

	body, err := DefaultCatalog().Render(DefaultTemplate, DataFor(&d, "Ana", time.UTC))
	require.NoError(t, err)
	assert.Equal(t,
		"Hi Ana, this is a reminder that your Airport Express shuttle departs from Terminal 2 at 2:00 PM. Look for vehicle SH-12. Please be at the pickup point 10 minutes early.",
		body)
}

func TestDataForWithoutDeparture(t *testing.T) {
	data := DataFor(nil, "", nil)
	assert.Equal(t, "there", data.PassengerName)
	assert.Empty(t, data.RouteName)
}

func TestLoadCatalogOverridesAndAdds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
templates:
  pickup_reminder: "{{.PassengerName}}: {{.RouteName}} at {{.DepartureTime}}"
  weather_notice: "Snow expected, {{.PassengerName}}."
`), 0o644))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.True(t, c.Has("delay_notice"), "built-ins are kept")
	assert.Equal(t, []string{"delay_notice", "pickup_reminder", "weather_notice"}, c.Names())

	d := dep("d-1", at(9, 5))
	body, err := c.Render(DefaultTemplate, DataFor(&d, "Ben", time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "Ben: Airport Express at 9:05 AM", body)
}

func TestRenderUnknownTemplate(t *testing.T) {
	_, err := DefaultCatalog().Render("nope", TemplateData{})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestParseCatalogRejectsBadTemplate(t *testing.T) {
	_, err := ParseCatalog([]byte("templates:\n  broken: \"{{.PassengerName\"\n"), nil)
	assert.Error(t, err)
}
