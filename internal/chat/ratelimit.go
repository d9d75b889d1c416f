package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"scene_chat/internal/config"
	"scene_chat/internal/domain"
)

type limiterKey struct {
	userID  uuid.UUID
	sceneID uuid.UUID
}

type limiterWindow struct {
	mu     sync.Mutex
	stamps []time.Time
}

// Limiter - скользящее окно на (user, scene). Чистая логика без I/O:
// отказ не оставляет следов в окне, запись делается только при разрешении.
type Limiter struct {
	cfg config.RateLimitConfig

	mu      sync.Mutex
	windows map[limiterKey]*limiterWindow
}

func NewLimiter(cfg config.RateLimitConfig) *Limiter {
	return &Limiter{
		cfg:     cfg,
		windows: make(map[limiterKey]*limiterWindow),
	}
}

// LimitFor возвращает лимит отправок в окно для роли
func (l *Limiter) LimitFor(role domain.Role) int {
	if role.Staff() {
		return l.cfg.StaffLimit
	}
	return l.cfg.Limit
}

// Allow проверяет и при успехе фиксирует отправку. При отказе возвращает
// retry-after: через сколько освободится слот окна. Конкурентные отправки
// по одному ключу сериализуются мьютексом окна, так что последний слот
// не может достаться двоим.
func (l *Limiter) Allow(userID, sceneID uuid.UUID, role domain.Role, now time.Time) (bool, time.Duration) {
	limit := l.LimitFor(role)
	w := l.window(limiterKey{userID: userID, sceneID: sceneID})

	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-l.cfg.Window)
	kept := w.stamps[:0]
	for _, ts := range w.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.stamps = kept

	if len(w.stamps) >= limit {
		oldest := w.stamps[0]
		retryAfter := l.cfg.Window - now.Sub(oldest)
		if retryAfter <= 0 {
			retryAfter = time.Millisecond
		}
		return false, retryAfter
	}

	w.stamps = append(w.stamps, now)
	return true, 0
}

// Cleanup удаляет окна без активности (вызывается периодически).
// Окна не сбрасываются при закрытии сессии: переподключение не должно
// обнулять лимит пользователя.
func (l *Limiter) Cleanup(now time.Time) {
	cutoff := now.Add(-2 * l.cfg.Window)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.windows {
		w.mu.Lock()
		stale := len(w.stamps) == 0 || w.stamps[len(w.stamps)-1].Before(cutoff)
		w.mu.Unlock()
		if stale {
			delete(l.windows, key)
		}
	}
}

func (l *Limiter) window(key limiterKey) *limiterWindow {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[key]
	if !ok {
		w = &limiterWindow{}
		l.windows[key] = w
	}
	return w
}
