package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshview/meshview/pkg/logger"
	"github.com/meshview/meshview/pkg/models"
)

const controllerDevicesBody = `{
  "data": [
    {
      "id": "dev-1",
      "ipAddress": "10.0.0.2",
      "name": "usw-core",
      "macAddress": "aa:bb:cc:dd:ee:01",
      "model": "USW-24-POE",
      "firmwareVersion": "6.5.59",
      "state": "ONLINE"
    },
    {
      "id": "dev-2",
      "ipAddress": "10.0.0.3",
      "name": "uap-office",
      "macAddress": "aa:bb:cc:dd:ee:02",
      "model": "U6-Lite",
      "firmwareVersion": "6.5.28",
      "state": "ONLINE",
      "uplink": {"deviceId": "dev-1"}
    }
  ]
}`

func apiTarget(baseURL string) Target {
	return Target{
		Host: "controller",
		Credentials: Credentials{
			APIBaseURL: baseURL,
			APIKey:     "test-key",
		},
	}
}

func TestAPIProbeListsDevices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/devices", r.URL.Path)
		require.Equal(t, "test-key", r.Header.Get("X-API-Key"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(controllerDevicesBody))
	}))
	defer srv.Close()

	p := NewAPIProbe(time.Second, logger.NewTestLogger())

	records, err := p.Run(context.Background(), apiTarget(srv.URL))
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, "AA:BB:CC:DD:EE:01", first.Identity.MAC)
	assert.Equal(t, "dev-1", first.Identity.StableID)
	assert.Equal(t, "usw-core", first.Attrs.Hostname)
	assert.Equal(t, models.ConfidenceVendorAPI, first.ConfidenceHint)
	assert.Empty(t, first.Links)

	// The access point carries its uplink to the switch.
	second := records[1]
	require.Len(t, second.Links, 1)
	assert.Equal(t, "AA:BB:CC:DD:EE:01", second.Links[0].NeighborMAC)
	assert.Equal(t, "usw-core", second.Links[0].NeighborName)
	assert.Equal(t, models.LinkTypePhysical, second.Links[0].Type)
}

func TestAPIProbeAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewAPIProbe(time.Second, logger.NewTestLogger())

	_, err := p.Run(context.Background(), apiTarget(srv.URL))
	assert.ErrorIs(t, err, ErrAuthFailure)
}

func TestAPIProbeMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	p := NewAPIProbe(time.Second, logger.NewTestLogger())

	_, err := p.Run(context.Background(), apiTarget(srv.URL))
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestAPIProbeMissingCredentials(t *testing.T) {
	p := NewAPIProbe(time.Second, logger.NewTestLogger())

	_, err := p.Run(context.Background(), Target{Host: "controller"})
	assert.ErrorIs(t, err, ErrMissingCredentials)
}
