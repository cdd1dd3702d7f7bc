package command

import (
	"errors"
	"testing"

	"github.com/ashureev/marketing-hub/internal/domain"
	"github.com/ashureev/marketing-hub/internal/router"
)

func TestProcessValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cmd  *domain.DashboardCommand
		want error
	}{
		{"nil command", nil, ErrMissingPayload},
		{"unknown type", &domain.DashboardCommand{Type: "DELETE_ALL", Payload: map[string]any{}}, ErrUnknownType},
		{"missing payload", &domain.DashboardCommand{Type: domain.CommandTabChange}, ErrMissingPayload},
		{"negative confidence", &domain.DashboardCommand{Type: domain.CommandTabChange, Payload: map[string]any{}, Confidence: -0.1}, ErrNegativeConfidence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Process(tt.cmd)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Process() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestProcessChartType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want string
	}{
		{"create chart pie of revenue", "pie"},
		{"أنشئ رسم بياني دائري", "pie"},
		{"create chart line", "line"},
		{"أنشئ رسم بياني بالأعمدة", "bar"},
		{"create chart", "bar"},
	}
	for _, tt := range tests {
		cmd, ok := router.DetectCommand(tt.text)
		if !ok {
			t.Fatalf("DetectCommand(%q) found nothing", tt.text)
		}
		got, err := Process(cmd)
		if err != nil {
			t.Fatalf("Process(%q) error = %v", tt.text, err)
		}
		if got.Type != domain.CommandChartCreate {
			t.Fatalf("Process(%q) type = %s", tt.text, got.Type)
		}
		if got.Params["chart_type"] != tt.want {
			t.Errorf("Process(%q) chart_type = %q, want %q", tt.text, got.Params["chart_type"], tt.want)
		}
	}
}

func TestProcessTabAndFilter(t *testing.T) {
	t.Parallel()

	got, err := Process(&domain.DashboardCommand{
		Type:       domain.CommandTabChange,
		Payload:    map[string]any{"text": "افتح تبويب الحملات"},
		Confidence: 1,
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if got.Params["tab"] != "campaigns" {
		t.Errorf("tab = %q, want campaigns", got.Params["tab"])
	}

	got, err = Process(&domain.DashboardCommand{
		Type:       domain.CommandFilterApply,
		Payload:    map[string]any{"text": "طبق فلتر الأسبوع"},
		Confidence: 0.5,
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if got.Params["period"] != "week" {
		t.Errorf("period = %q, want week", got.Params["period"])
	}
}

func TestProcessDefaultsWithoutText(t *testing.T) {
	t.Parallel()

	got, err := Process(&domain.DashboardCommand{
		Type:    domain.CommandDataRefresh,
		Payload: map[string]any{},
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if got.Params["target"] != "all" {
		t.Errorf("target = %q, want all", got.Params["target"])
	}
}
