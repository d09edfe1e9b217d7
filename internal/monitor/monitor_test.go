package monitor

import (
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/flowberry/internal/imv"
	"github.com/relabs-tech/flowberry/internal/pipeline"
	"github.com/relabs-tech/flowberry/internal/telemetry"
)

func testField(t *testing.T) *imv.Field {
	t.Helper()
	geom, err := imv.NewGeometry(32, 32)
	require.NoError(t, err)
	f := imv.NewField(geom, 1)
	f.Set(0, 0, imv.Cell{X: 4, Y: 0, SAD: 10})
	return f
}

func TestFlowNotReady(t *testing.T) {
	srv := httptest.NewServer(New(":0", nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/flow")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/stats")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestFlowAndStats(t *testing.T) {
	m := New(":0", func() pipeline.Stats { return pipeline.Stats{Processed: 7, Skipped: 2, Initialized: true} })
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	m.PublishFlow(telemetry.FlowSample{Quality: 128, DxPx: 1.25, Valid: true})

	resp, err := http.Get(srv.URL + "/api/flow")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got telemetry.FlowSample
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, uint8(128), got.Quality)
	assert.Equal(t, 1.25, got.DxPx)

	resp2, err := http.Get(srv.URL + "/api/stats")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var stats map[string]any
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&stats))
	assert.Equal(t, float64(7), stats["processed"])
	assert.Equal(t, float64(2), stats["skipped"])
	assert.Equal(t, true, stats["initialized"])
}

func TestFramePNG(t *testing.T) {
	m := New(":0", nil)
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	field := testField(t)
	frame := &pipeline.Frame{Data: make([]byte, 32*32)}
	m.Show(frame, field, pipeline.Output{})

	resp, err := http.Get(srv.URL + "/api/frame.png")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
}

func TestRenderDrawsVectors(t *testing.T) {
	field := testField(t)
	img := Render(&pipeline.Frame{Data: make([]byte, 32*32)}, field)
	require.NotNil(t, img)
	for x := 8; x <= 12; x++ {
		assert.Equal(t, uint8(255), img.GrayAt(x, 8).Y, "x=%d", x)
	}
	assert.Equal(t, uint8(0), img.GrayAt(13, 8).Y)
	assert.Equal(t, uint8(0), img.GrayAt(24, 8).Y, "static block is not drawn")

	assert.Nil(t, Render(&pipeline.Frame{Data: make([]byte, 10)}, field))
	assert.Nil(t, Render(nil, field))
}

func TestStreamDeliversSamples(t *testing.T) {
	m := New(":0", nil)
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/flow"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return m.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	m.PublishFlow(telemetry.FlowSample{Quality: 42})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got telemetry.FlowSample
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, uint8(42), got.Quality)

	conn.Close()
	assert.Eventually(t, func() bool { return m.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}
