package handler

import (
	"net/http"

	"github.com/pulse/internal/config"
)

// ConfigHandler отдаёт публичные параметры конфигурации клиенту.
type ConfigHandler struct {
	cfg *config.Config
}

// NewConfigHandler создаёт обработчик конфигурации.
func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

// ClientConfig — тайминги, которые клиент должен соблюдать так же, как сервер.
type ClientConfig struct {
	TypingThrottleMs  int64   `json:"typing_throttle_ms"`
	TypingDebounceMs  int64   `json:"typing_debounce_ms"`
	TypingWatchdogMs  int64   `json:"typing_watchdog_ms"`
	StoryViewWindowMs int64   `json:"story_view_window_ms"`
	StoryTickMs       int64   `json:"story_tick_ms"`
	VoiceMinMs        int64   `json:"voice_min_ms"`
	VoiceMaxMs        int64   `json:"voice_max_ms"`
	VoiceCancelPx     float64 `json:"voice_cancel_threshold_px"`
	StreakTimezone    string  `json:"streak_timezone"`
}

// GetClientConfig возвращает тайминги (без авторизации).
func (h *ConfigHandler) GetClientConfig(w http.ResponseWriter, r *http.Request) {
	tz := "UTC"
	if h.cfg.StreakLocation != nil {
		tz = h.cfg.StreakLocation.String()
	}
	writeJSON(w, http.StatusOK, ClientConfig{
		TypingThrottleMs:  h.cfg.Typing.Throttle.Milliseconds(),
		TypingDebounceMs:  h.cfg.Typing.Debounce.Milliseconds(),
		TypingWatchdogMs:  h.cfg.Typing.Watchdog.Milliseconds(),
		StoryViewWindowMs: h.cfg.Story.ViewWindow.Milliseconds(),
		StoryTickMs:       h.cfg.Story.Tick.Milliseconds(),
		VoiceMinMs:        h.cfg.Recorder.MinDuration.Milliseconds(),
		VoiceMaxMs:        h.cfg.Recorder.MaxDuration.Milliseconds(),
		VoiceCancelPx:     h.cfg.Recorder.CancelThreshold,
		StreakTimezone:    tz,
	})
}
