package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datalogger/internal/settings"
	"datalogger/internal/telemetry"
)

func (f *fixture) post(target, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return f.do(r)
}

func channelsJSON(n int, unit string) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf(`{"factor":%d.5,"unit":%q}`, i+1, unit)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func TestADC(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.settings.SaveChannels([]settings.Channel{
		{Factor: 1, Unit: "mA"}, {Factor: 1, Unit: "V"}, {Factor: 1, Unit: "V"}, {Factor: 1, Unit: "V"},
		{Factor: 1, Unit: "V"}, {Factor: 1, Unit: "V"}, {Factor: 1, Unit: "V"}, {Factor: 1, Unit: "bar"},
	}))
	f.state.Publish([telemetry.NumChannels]float64{0.5, 1, 1.5, 2, 2.5, 3, 3.5, 4})

	rec := f.get("/adc")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	var got adcReply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Channels, telemetry.NumChannels)
	assert.Equal(t, channelReading{Value: 0.5, Unit: "mA"}, got.Channels[0])
	assert.Equal(t, channelReading{Value: 4, Unit: "bar"}, got.Channels[7])
}

func TestLogToggleAndStatus(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "0", f.get("/log_status").Body.String())
	assert.Equal(t, telemetry.NoLogFile, f.get("/current_log_file").Body.String())

	rec := f.get("/log?active=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.True(t, f.state.LoggingEnabled())
	assert.Equal(t, "1", f.get("/log_status").Body.String())

	// a missing parameter leaves the flag alone
	f.get("/log")
	assert.True(t, f.state.LoggingEnabled())

	f.get("/log?active=yes")
	assert.False(t, f.state.LoggingEnabled())

	f.state.SetCurrentLogFile("log_3.csv")
	rec = f.get("/current_log_file")
	assert.Equal(t, "log_3.csv", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}

func TestSettings(t *testing.T) {
	f := newFixture(t)
	assert.JSONEq(t, `{"log_on_boot":false}`, f.get("/settings").Body.String())

	rec := f.post("/settings", `{"log_on_boot":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assert.True(t, f.settings.LogOnBoot())
	assert.JSONEq(t, `{"log_on_boot":true}`, f.get("/settings").Body.String())

	rec = f.post("/settings", `{"channels":`+channelsJSON(8, "kPa")+`}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.settings.LogOnBoot())
	assert.Equal(t, settings.Channel{Factor: 1.5, Unit: "kPa"}, f.settings.Channels()[0])

	// seven channels are ignored, not rejected
	rec = f.post("/settings", `{"channels":`+channelsJSON(7, "A")+`}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "kPa", f.settings.Channels()[0].Unit)
}

func TestSettings_BadRequests(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusBadRequest, f.post("/settings", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.post("/settings", "{nope").Code)
	assert.Equal(t, http.StatusBadRequest, f.post("/settings", strings.Repeat(" ", 1024)).Code)
	assert.False(t, f.settings.LogOnBoot())
}

func TestChannelConfigs(t *testing.T) {
	f := newFixture(t)

	var got []settings.Channel
	require.NoError(t, json.Unmarshal(f.get("/api/channel-configs").Body.Bytes(), &got))
	require.Len(t, got, settings.NumChannels)
	assert.Equal(t, settings.Channel{Factor: 1, Unit: "V"}, got[3])

	rec := f.post("/api/channel-configs", channelsJSON(8, "degC"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Settings saved.", rec.Body.String())
	assert.Equal(t, settings.Channel{Factor: 8.5, Unit: "degC"}, f.settings.Channels()[7])
	assert.Equal(t, 2.5, f.settings.Factors()[1])
}

func TestChannelConfigs_Rejects(t *testing.T) {
	f := newFixture(t)
	long := `[` + strings.Repeat(`{"factor":1,"unit":"V"},`, 60) + `{"factor":1,"unit":"V"}]`
	require.Greater(t, len(long), maxSettingsBody)

	tests := []struct {
		name string
		body string
		msg  string
	}{
		{name: "seven", body: channelsJSON(7, "V"), msg: "JSON must be an array of 8 elements"},
		{name: "object", body: `{"factor":1}`, msg: "JSON must be an array of 8 elements"},
		{name: "bad factor", body: strings.Replace(channelsJSON(8, "V"), `"factor":1.5`, `"factor":"x"`, 1), msg: "Invalid element format"},
		{name: "missing unit", body: strings.Replace(channelsJSON(8, "V"), `,"unit":"V"`, ``, 1), msg: "Invalid element format"},
		{name: "too large", body: long, msg: "request too large"},
		{name: "empty", body: "", msg: "no data received"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.post("/api/channel-configs", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.msg)
		})
	}
	assert.Equal(t, settings.Defaults().Channels[0], f.settings.Channels()[0])
}
