package duel

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"tiltduel/logging"
)

// Admin 调试与遥控接口：读写参数、查看指标与状态、开火、再来一局与回大厅
// 总是作用于大厅当前挂载的对战
type Admin struct {
	lobby *Lobby
}

func NewAdminMux(l *Lobby) *http.ServeMux {
	a := &Admin{lobby: l}
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/config", a.HandleConfig)
	mux.HandleFunc("/metrics", a.HandleMetrics)
	mux.HandleFunc("/status", a.HandleStatus)
	mux.HandleFunc("/fire", a.HandleFire)
	mux.HandleFunc("/rematch", a.HandleRematch)
	mux.HandleFunc("/lobby", a.HandleLobby)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// tuningPatch 以 JSON 载荷更新部分字段（时间单位为毫秒）
type tuningPatch struct {
	SpeedFactor      *float64 `json:"speedFactor,omitempty"`
	RestAngle        *float64 `json:"restAngle,omitempty"`
	BulletSpeed      *float64 `json:"bulletSpeed,omitempty"`
	MoveThrottleMs   *int     `json:"moveThrottleMs,omitempty"`
	FrameIntervalMs  *int     `json:"frameIntervalMs,omitempty"`
	GameOverResendMs *int     `json:"gameOverResendMs,omitempty"`
}

func patchFrom(t Tuning) tuningPatch {
	throttle := int(t.MoveThrottle / time.Millisecond)
	frame := int(t.FrameInterval / time.Millisecond)
	resend := int(t.GameOverResend / time.Millisecond)
	return tuningPatch{
		SpeedFactor:      &t.SpeedFactor,
		RestAngle:        &t.RestAngle,
		BulletSpeed:      &t.BulletSpeed,
		MoveThrottleMs:   &throttle,
		FrameIntervalMs:  &frame,
		GameOverResendMs: &resend,
	}
}

func (p tuningPatch) apply(t Tuning) Tuning {
	if p.SpeedFactor != nil {
		t.SpeedFactor = *p.SpeedFactor
	}
	if p.RestAngle != nil {
		t.RestAngle = *p.RestAngle
	}
	if p.BulletSpeed != nil {
		t.BulletSpeed = *p.BulletSpeed
	}
	if p.MoveThrottleMs != nil {
		t.MoveThrottle = time.Duration(*p.MoveThrottleMs) * time.Millisecond
	}
	if p.FrameIntervalMs != nil {
		t.FrameInterval = time.Duration(*p.FrameIntervalMs) * time.Millisecond
	}
	if p.GameOverResendMs != nil {
		t.GameOverResend = time.Duration(*p.GameOverResendMs) * time.Millisecond
	}
	return t
}

// HandleConfig GET 返回当前参数；POST 部分更新
func (a *Admin) HandleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, patchFrom(a.lobby.Current().Tuning()))
	case http.MethodPost:
		var body tuningPatch
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		// 补丁在对战循环线程上套用到当时的参数
		t, err := a.lobby.Current().UpdateTuning(r.Context(), body.apply)
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		writeJSON(w, http.StatusOK, patchFrom(t))
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleMetrics 输出对战与链路指标
func (a *Admin) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"match":   a.lobby.Current().ID(),
		"mounts":  a.lobby.Mounts(),
		"metrics": a.lobby.Metrics().Snapshot(),
		"link":    a.lobby.Link().Snapshot(),
	})
}

func (a *Admin) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.lobby.Current().Status())
}

func (a *Admin) HandleFire(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := a.lobby.Current().Fire(r.Context()); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (a *Admin) HandleRematch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	m := a.lobby.Current()
	if err := m.Rematch(r.Context()); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, m.Status())
}

// HandleLobby 放弃当前对战并重新开始发现对手
func (a *Admin) HandleLobby(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := a.lobby.Leave(); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ErrMatchClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Log.Debugf("admin: write response: %v", err)
	}
}
