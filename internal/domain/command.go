package domain

// CommandType is the closed set of dashboard commands inferred from chat text.
type CommandType string

const (
	CommandTabChange    CommandType = "TAB_CHANGE"
	CommandDataRefresh  CommandType = "DATA_REFRESH"
	CommandChartCreate  CommandType = "CHART_CREATE"
	CommandFilterApply  CommandType = "FILTER_APPLY"
	CommandWidgetUpdate CommandType = "WIDGET_UPDATE"
	CommandStatsUpdate  CommandType = "STATS_UPDATE"
)

// Valid reports whether t is a recognised command type.
func (t CommandType) Valid() bool {
	switch t {
	case CommandTabChange, CommandDataRefresh, CommandChartCreate,
		CommandFilterApply, CommandWidgetUpdate, CommandStatsUpdate:
		return true
	}
	return false
}

// DashboardCommand is a transient UI instruction. It is consumed by the UI
// and never persisted.
type DashboardCommand struct {
	Type       CommandType    `json:"type"`
	Payload    map[string]any `json:"payload"`
	Confidence float64        `json:"confidence"`
}
