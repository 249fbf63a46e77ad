package lifecycle

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/edgeflow/types"
)

// PressureLevel is a host memory-pressure signal.
type PressureLevel int

const (
	PressureNormal PressureLevel = iota
	PressureWarning
	PressureCritical
)

func (l PressureLevel) String() string {
	switch l {
	case PressureNormal:
		return "normal"
	case PressureWarning:
		return "warning"
	case PressureCritical:
		return "critical"
	default:
		return fmt.Sprintf("pressure(%d)", int(l))
	}
}

// ParsePressureLevel parses "normal", "warning" or "critical".
func ParsePressureLevel(s string) (PressureLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal":
		return PressureNormal, nil
	case "warning":
		return PressureWarning, nil
	case "critical":
		return PressureCritical, nil
	}
	return PressureNormal, types.Errorf(types.ErrInvalidRequest, "unknown pressure level %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (l PressureLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *PressureLevel) UnmarshalText(b []byte) error {
	v, err := ParsePressureLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

const (
	reasonWarning  = "warning"
	reasonCritical = "critical"
	reasonReclaim  = "reclaim"
	reasonIdle     = "idle"
)

// HandlePressure evicts models for the given level and returns the evicted
// model IDs.
//
// Warning evicts least recently used first until the total is at most
// Budget*WarningTargetRatio, or one model when there is no budget.
// Critical evicts largest first, ties least recently used, until the total
// is at most Budget*CriticalTargetRatio, or everything when there is no
// budget.
func (t *Tracker) HandlePressure(ctx context.Context, level PressureLevel) []string {
	if level != PressureWarning && level != PressureCritical {
		return nil
	}

	t.evictMu.Lock()
	defer t.evictMu.Unlock()

	budget := t.Budget()
	order := t.Loaded()
	var target int64
	reason := reasonWarning
	limit := len(order)

	if level == PressureWarning {
		sortLRU(order)
		target = int64(float64(budget) * t.warningRatio)
		if budget <= 0 {
			limit = 1
		}
	} else {
		reason = reasonCritical
		slices.SortStableFunc(order, func(a, b Handle) int {
			if a.MemoryBytes != b.MemoryBytes {
				if a.MemoryBytes > b.MemoryBytes {
					return -1
				}
				return 1
			}
			return a.LastUsed.Compare(b.LastUsed)
		})
		target = int64(float64(budget) * t.criticalRatio)
	}

	var evicted []string
	for _, h := range order {
		if ctx.Err() != nil || len(evicted) >= limit {
			break
		}
		if budget > 0 && t.TotalMemory() <= target {
			break
		}
		if t.evict(ctx, h, reason) {
			evicted = append(evicted, h.ModelID)
		}
	}

	t.logger.Info("memory pressure handled",
		zap.String("level", level.String()),
		zap.Int64("budget", budget),
		zap.Int64("total", t.TotalMemory()),
		zap.Strings("evicted", evicted))
	return evicted
}

// Reclaim evicts least recently used models until need more bytes fit the
// budget. It reports whether they fit. With no budget it always succeeds.
func (t *Tracker) Reclaim(ctx context.Context, need int64) bool {
	budget := t.Budget()
	if budget <= 0 {
		return true
	}
	if need > budget {
		return false
	}

	t.evictMu.Lock()
	defer t.evictMu.Unlock()

	order := t.Loaded()
	sortLRU(order)
	for _, h := range order {
		if t.TotalMemory()+need <= budget || ctx.Err() != nil {
			break
		}
		t.evict(ctx, h, reasonReclaim)
	}
	return t.TotalMemory()+need <= budget
}

// EvictIdle unloads every model unused for at least maxIdle and returns the
// evicted model IDs.
func (t *Tracker) EvictIdle(ctx context.Context, maxIdle time.Duration) []string {
	if maxIdle <= 0 {
		return nil
	}

	t.evictMu.Lock()
	defer t.evictMu.Unlock()

	now := t.now()
	var evicted []string
	for _, h := range t.Loaded() {
		if ctx.Err() != nil {
			break
		}
		if now.Sub(h.LastUsed) < maxIdle {
			continue
		}
		if t.evict(ctx, h, reasonIdle) {
			evicted = append(evicted, h.ModelID)
		}
	}
	if len(evicted) > 0 {
		t.logger.Info("idle models evicted",
			zap.Duration("max_idle", maxIdle),
			zap.Strings("evicted", evicted))
	}
	return evicted
}

// Watch handles pressure levels from ch until ctx is done or ch is closed.
func (t *Tracker) Watch(ctx context.Context, ch <-chan PressureLevel) {
	for {
		select {
		case <-ctx.Done():
			return
		case level, ok := <-ch:
			if !ok {
				return
			}
			t.HandlePressure(ctx, level)
		}
	}
}

// evict unloads h if it is still the visible handle for its modality.
func (t *Tracker) evict(ctx context.Context, h Handle, reason string) bool {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.RLock()
	cur, ok := t.handles[h.Modality]
	same := ok && cur.handle.Generation == h.Generation
	t.mu.RUnlock()
	if !same {
		return false
	}

	t.publish(Event{Kind: EventEvicted, ModelID: h.ModelID, Modality: h.Modality, Reason: reason})
	_ = t.unload(ctx, h.Modality)
	t.metrics.ModelEvicted(string(h.Modality), reason)
	return true
}

func sortLRU(hs []Handle) {
	slices.SortStableFunc(hs, func(a, b Handle) int {
		return a.LastUsed.Compare(b.LastUsed)
	})
}
