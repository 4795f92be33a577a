package telemetry

import (
	"fmt"
	"log/slog"
)

// BookmarkType identifies the type of bookmark.
type BookmarkType string

const (
	BookmarkBlockedSurge BookmarkType = "blocked_surge"
	BookmarkCacheThrash  BookmarkType = "cache_thrash"
	BookmarkCrowdStall   BookmarkType = "crowd_stall"
	BookmarkAllArrived   BookmarkType = "all_arrived"
)

// Bookmark represents an automatically triggered bookmark.
type Bookmark struct {
	Type        BookmarkType `csv:"type"`
	Tick        int64        `csv:"tick"`
	Description string       `csv:"description"`
}

// LogBookmark logs the bookmark using slog.
func (b Bookmark) LogBookmark() {
	slog.Info("bookmark",
		"type", string(b.Type),
		"tick", b.Tick,
		"description", b.Description,
	)
}

// BookmarkDetector flags windows worth a closer look.
type BookmarkDetector struct {
	// Rolling history (circular buffer)
	history     []WindowStats
	historySize int
	historyIdx  int
	historyFull bool

	stallWindows int  // consecutive windows with active agents barely moving
	arrivedFired bool // all_arrived fires once per wave of destinations
}

// NewBookmarkDetector creates a detector with the given history size.
func NewBookmarkDetector(historySize int) *BookmarkDetector {
	if historySize < 3 {
		historySize = 3
	}
	return &BookmarkDetector{
		history:     make([]WindowStats, historySize),
		historySize: historySize,
	}
}

// Check analyzes the latest stats and returns any triggered bookmarks.
func (bd *BookmarkDetector) Check(stats WindowStats) []Bookmark {
	var bookmarks []Bookmark

	if bd.historyFull || bd.historyIdx > 0 {
		// Blocked surge: blocked count > 2x rolling average
		if b := bd.checkBlockedSurge(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}
		// Stall: active agents, median speed collapsed for 3 windows
		if b := bd.checkCrowdStall(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}
	}

	// Cache thrash: most solves in the window were evicted again
	if b := bd.checkCacheThrash(stats); b != nil {
		bookmarks = append(bookmarks, *b)
	}

	if b := bd.checkAllArrived(stats); b != nil {
		bookmarks = append(bookmarks, *b)
	}

	bd.addToHistory(stats)
	return bookmarks
}

func (bd *BookmarkDetector) addToHistory(stats WindowStats) {
	bd.history[bd.historyIdx] = stats
	bd.historyIdx = (bd.historyIdx + 1) % bd.historySize
	if bd.historyIdx == 0 {
		bd.historyFull = true
	}
}

func (bd *BookmarkDetector) getHistory() []WindowStats {
	if bd.historyFull {
		return bd.history
	}
	return bd.history[:bd.historyIdx]
}

func (bd *BookmarkDetector) checkBlockedSurge(stats WindowStats) *Bookmark {
	history := bd.getHistory()
	if len(history) < 2 || stats.Blocked < 5 {
		return nil
	}

	var total int
	for _, h := range history {
		total += h.Blocked
	}
	avg := float64(total) / float64(len(history))

	if float64(stats.Blocked) > 2*avg {
		return &Bookmark{
			Type:        BookmarkBlockedSurge,
			Tick:        stats.WindowEndTick,
			Description: fmt.Sprintf("%d agents blocked, rolling average %.1f", stats.Blocked, avg),
		}
	}
	return nil
}

func (bd *BookmarkDetector) checkCacheThrash(stats WindowStats) *Bookmark {
	if stats.CacheSolves < 4 {
		return nil
	}
	if stats.CacheEvictions*2 >= stats.CacheSolves {
		return &Bookmark{
			Type:        BookmarkCacheThrash,
			Tick:        stats.WindowEndTick,
			Description: fmt.Sprintf("%d solves, %d evictions, hit rate %.2f", stats.CacheSolves, stats.CacheEvictions, stats.CacheHitRate),
		}
	}
	return nil
}

func (bd *BookmarkDetector) checkCrowdStall(stats WindowStats) *Bookmark {
	moving := stats.Active - stats.Arrived - stats.Blocked
	if moving < 5 {
		bd.stallWindows = 0
		return nil
	}

	history := bd.getHistory()
	var speedSum float64
	for _, h := range history {
		speedSum += h.SpeedP50
	}
	avg := speedSum / float64(len(history))
	if avg <= 0 || stats.SpeedP50 > 0.1*avg {
		bd.stallWindows = 0
		return nil
	}

	bd.stallWindows++
	if bd.stallWindows == 3 { // trigger once per stall
		return &Bookmark{
			Type:        BookmarkCrowdStall,
			Tick:        stats.WindowEndTick,
			Description: fmt.Sprintf("%d agents en route with median speed %.3f", moving, stats.SpeedP50),
		}
	}
	return nil
}

func (bd *BookmarkDetector) checkAllArrived(stats WindowStats) *Bookmark {
	if stats.Active == 0 || stats.Arrived < stats.Active {
		bd.arrivedFired = false
		return nil
	}
	if bd.arrivedFired {
		return nil
	}
	bd.arrivedFired = true
	return &Bookmark{
		Type:        BookmarkAllArrived,
		Tick:        stats.WindowEndTick,
		Description: fmt.Sprintf("all %d active agents arrived", stats.Active),
	}
}
