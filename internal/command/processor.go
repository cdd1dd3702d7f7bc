// Package command validates detected dashboard commands and extracts their
// parameters. Executing a command is left to the UI.
package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/marketing-hub/internal/domain"
)

var (
	ErrUnknownType        = errors.New("unknown command type")
	ErrMissingPayload     = errors.New("command payload is required")
	ErrNegativeConfidence = errors.New("command confidence must not be negative")
)

// Command is a validated dashboard command ready for the UI.
type Command struct {
	Type       domain.CommandType `json:"type"`
	Params     map[string]string  `json:"params"`
	Payload    map[string]any     `json:"payload"`
	Confidence float64            `json:"confidence"`
}

type keywordValue struct {
	Value    string
	Keywords []string
}

var chartTypes = []keywordValue{
	{"pie", []string{"pie", "دائري", "دائرة", "فطيرة"}},
	{"line", []string{"line", "خطي", "خط"}},
	{"bar", []string{"bar", "أعمدة", "عمودي", "أشرطة"}},
}

var tabs = []keywordValue{
	{"analytics", []string{"analytics", "تحليلات", "التحليل"}},
	{"campaigns", []string{"campaign", "حملات", "الحملات"}},
	{"content", []string{"content", "محتوى", "المحتوى"}},
	{"social", []string{"social", "سوشيال", "التواصل"}},
	{"payments", []string{"payment", "billing", "الدفع", "الاشتراك"}},
	{"overview", []string{"overview", "home", "الرئيسية", "نظرة عامة"}},
}

var periods = []keywordValue{
	{"today", []string{"today", "اليوم"}},
	{"week", []string{"week", "أسبوع", "الأسبوع"}},
	{"month", []string{"month", "شهر", "الشهر"}},
	{"year", []string{"year", "سنة", "السنة"}},
}

var widgets = []keywordValue{
	{"engagement", []string{"engagement", "تفاعل", "التفاعل"}},
	{"reach", []string{"reach", "وصول", "الوصول"}},
	{"conversions", []string{"conversion", "تحويل", "التحويلات"}},
	{"revenue", []string{"revenue", "إيرادات", "الإيرادات", "مبيعات"}},
}

// Process validates cmd and extracts command-specific parameters from the
// source text carried in its payload.
func Process(cmd *domain.DashboardCommand) (Command, error) {
	if cmd == nil {
		return Command{}, ErrMissingPayload
	}
	if !cmd.Type.Valid() {
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownType, cmd.Type)
	}
	if cmd.Payload == nil {
		return Command{}, ErrMissingPayload
	}
	if cmd.Confidence < 0 {
		return Command{}, ErrNegativeConfidence
	}

	text, _ := cmd.Payload["text"].(string)
	text = strings.ToLower(text)

	params := make(map[string]string)
	switch cmd.Type {
	case domain.CommandChartCreate:
		params["chart_type"] = match(text, chartTypes, "bar")
		if m := match(text, widgets, ""); m != "" {
			params["metric"] = m
		}
	case domain.CommandTabChange:
		params["tab"] = match(text, tabs, "overview")
	case domain.CommandDataRefresh:
		params["target"] = match(text, widgets, "all")
	case domain.CommandFilterApply:
		params["period"] = match(text, periods, "month")
	case domain.CommandWidgetUpdate:
		params["widget"] = match(text, widgets, "engagement")
	case domain.CommandStatsUpdate:
		params["scope"] = match(text, periods, "today")
	}

	return Command{
		Type:       cmd.Type,
		Params:     params,
		Payload:    cmd.Payload,
		Confidence: cmd.Confidence,
	}, nil
}

// match returns the first table value with a keyword present in text.
func match(text string, table []keywordValue, fallback string) string {
	for _, kv := range table {
		for _, kw := range kv.Keywords {
			if strings.Contains(text, kw) {
				return kv.Value
			}
		}
	}
	return fallback
}
