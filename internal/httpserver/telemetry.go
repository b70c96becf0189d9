package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"datalogger/internal/fsutil"
	"datalogger/internal/settings"
)

// maxSettingsBody bounds POST /settings and POST /api/channel-configs.
const maxSettingsBody = 1023

var (
	errBodyTooLarge = errors.New("request too large")
	errNoBody       = errors.New("no data received")
)

type channelReading struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

type adcReply struct {
	Channels []channelReading `json:"channels"`
}

func (s *Server) readings() []channelReading {
	v := s.state.Voltages()
	units := s.settings.Units()
	out := make([]channelReading, len(v))
	for i := range v {
		out[i] = channelReading{Value: v[i], Unit: units[i]}
	}
	return out
}

func (s *Server) handleADC(w http.ResponseWriter, r *http.Request) {
	s.json(w, r, http.StatusOK, adcReply{Channels: s.readings()})
}

// handleLogToggle sets logging from ?active=1|0. Any other value turns
// logging off; a missing parameter leaves it unchanged.
func (s *Server) handleLogToggle(w http.ResponseWriter, r *http.Request) {
	if v, err := fsutil.QueryValue(r.URL.RawQuery, "active", 3); err == nil {
		on := v == "1"
		s.state.SetLogging(on)
		s.log.Info(r.Context(), "logging toggled", "active", on)
	}
	s.json(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogStatus(w http.ResponseWriter, r *http.Request) {
	status := "0"
	if s.state.LoggingStatus() {
		status = "1"
	}
	text(w, status)
}

func (s *Server) handleCurrentLogFile(w http.ResponseWriter, r *http.Request) {
	text(w, s.state.CurrentLogFile())
}

func (s *Server) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	s.json(w, r, http.StatusOK, map[string]bool{"log_on_boot": s.settings.LogOnBoot()})
}

type settingsUpdate struct {
	LogOnBoot *bool             `json:"log_on_boot"`
	Channels  []json.RawMessage `json:"channels"`
}

// handleSettingsPost applies whichever of log_on_boot and channels are
// present. Channels are only saved when all of them are well formed.
func (s *Server) handleSettingsPost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := s.readSettingsBody(w, r)
	if err != nil {
		http.Error(w, err.Error(), bodyStatus(err))
		return
	}
	var upd settingsUpdate
	if err := json.Unmarshal(body, &upd); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if upd.LogOnBoot != nil {
		if err := s.settings.SetLogOnBoot(*upd.LogOnBoot); err != nil {
			recordError(ctx, err)
			s.log.Error(ctx, "save log_on_boot", "err", err)
			http.Error(w, "Error saving settings.", http.StatusInternalServerError)
			return
		}
	}
	if len(upd.Channels) == settings.NumChannels {
		if chs, err := decodeChannels(upd.Channels); err == nil {
			if err := s.settings.SaveChannels(chs); err != nil {
				recordError(ctx, err)
				s.log.Error(ctx, "save channels", "err", err)
				http.Error(w, "Error saving settings.", http.StatusInternalServerError)
				return
			}
		} else {
			s.log.Warn(ctx, "channels ignored", "err", err)
		}
	}
	text(w, "OK")
}

func (s *Server) handleChannelConfigsGet(w http.ResponseWriter, r *http.Request) {
	s.json(w, r, http.StatusOK, s.settings.Channels())
}

func (s *Server) handleChannelConfigsPost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := s.readSettingsBody(w, r)
	if err != nil {
		http.Error(w, err.Error(), bodyStatus(err))
		return
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil || len(raw) != settings.NumChannels {
		http.Error(w, "JSON must be an array of 8 elements", http.StatusBadRequest)
		return
	}
	chs, err := decodeChannels(raw)
	if err != nil {
		http.Error(w, "Invalid element format", http.StatusBadRequest)
		return
	}
	if err := s.settings.SaveChannels(chs); err != nil {
		recordError(ctx, err)
		s.log.Error(ctx, "save channels", "err", err)
		http.Error(w, "Error saving settings.", http.StatusInternalServerError)
		return
	}
	s.log.Info(ctx, "channel configs saved")
	text(w, "Settings saved.")
}

// channelIn requires both fields with their exact JSON types.
type channelIn struct {
	Factor *float64 `json:"factor"`
	Unit   *string  `json:"unit"`
}

func decodeChannels(raw []json.RawMessage) ([]settings.Channel, error) {
	out := make([]settings.Channel, 0, len(raw))
	for i, m := range raw {
		var c channelIn
		if err := json.Unmarshal(m, &c); err != nil {
			return nil, fmt.Errorf("channel %d: %w", i, err)
		}
		if c.Factor == nil || c.Unit == nil {
			return nil, fmt.Errorf("channel %d: factor and unit are required", i)
		}
		out = append(out, settings.Channel{Factor: *c.Factor, Unit: *c.Unit})
	}
	return out, nil
}

// readSettingsBody reads a small JSON body under the receive timeout.
func (s *Server) readSettingsBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.ContentLength > maxSettingsBody {
		return nil, errBodyTooLarge
	}
	rc := http.NewResponseController(w)
	if d := s.cfg.Upload.RecvTimeout.Duration; d > 0 {
		_ = rc.SetReadDeadline(time.Now().Add(d))
		defer func() { _ = rc.SetReadDeadline(time.Time{}) }()
	}
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSettingsBody))
	var mbe *http.MaxBytesError
	switch {
	case errors.As(err, &mbe):
		return nil, errBodyTooLarge
	case err != nil:
		return nil, err
	case len(b) == 0:
		return nil, errNoBody
	}
	return b, nil
}

func bodyStatus(err error) int {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return http.StatusRequestTimeout
	}
	return http.StatusBadRequest
}

func text(w http.ResponseWriter, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, s)
}
