package router

import (
	"strings"

	"github.com/ashureev/marketing-hub/internal/domain"
)

// CommandThreshold is the confidence a detected command must exceed.
const CommandThreshold = 0.3

type commandPattern struct {
	Type     domain.CommandType
	Patterns []string
}

// commandTable is evaluated in order; on equal confidence the earlier entry wins.
var commandTable = []commandPattern{
	{
		Type:     domain.CommandTabChange,
		Patterns: []string{"افتح تبويب", "انتقل لتبويب", "switch tab", "open tab"},
	},
	{
		Type:     domain.CommandDataRefresh,
		Patterns: []string{"تحديث اللوحة", "أعد تحميل", "refresh", "reload"},
	},
	{
		Type:     domain.CommandChartCreate,
		Patterns: []string{"أنشئ رسم بياني", "مخطط", "create chart", "chart"},
	},
	{
		Type:     domain.CommandFilterApply,
		Patterns: []string{"طبق فلتر", "فلتر", "filter"},
	},
	{
		Type:     domain.CommandWidgetUpdate,
		Patterns: []string{"ودجت", "widget"},
	},
	{
		Type:     domain.CommandStatsUpdate,
		Patterns: []string{"تحديث الإحصائيات", "حدث الإحصائيات", "update stats", "stats"},
	},
}

// CommandPatterns returns the declared patterns for a command type.
func CommandPatterns(t domain.CommandType) []string {
	for _, c := range commandTable {
		if c.Type == t {
			out := make([]string, len(c.Patterns))
			copy(out, c.Patterns)
			return out
		}
	}
	return nil
}

// patternConfidence is the share of pattern words present as substrings of
// msg, or 1.0 when the whole pattern is present.
func patternConfidence(msg, pattern string) float64 {
	pattern = strings.ToLower(pattern)
	if strings.Contains(msg, pattern) {
		return 1.0
	}
	words := strings.Fields(pattern)
	if len(words) == 0 {
		return 0
	}
	found := 0
	for _, w := range words {
		if strings.Contains(msg, w) {
			found++
		}
	}
	return float64(found) / float64(len(words))
}

// DetectCommand returns the highest-confidence command above CommandThreshold.
// The payload carries the original text for parameter extraction downstream.
func DetectCommand(text string) (*domain.DashboardCommand, bool) {
	msg := strings.ToLower(strings.TrimSpace(text))
	if msg == "" {
		return nil, false
	}

	var bestType domain.CommandType
	var bestPattern string
	best := 0.0
	for _, c := range commandTable {
		for _, p := range c.Patterns {
			conf := patternConfidence(msg, p)
			if conf > best {
				best = conf
				bestType = c.Type
				bestPattern = p
			}
		}
	}

	if best <= CommandThreshold || bestType == "" {
		return nil, false
	}
	return &domain.DashboardCommand{
		Type: bestType,
		Payload: map[string]any{
			"text":    text,
			"pattern": bestPattern,
		},
		Confidence: best,
	}, true
}
