package domain

// PersonaID identifies one of the five fixed AI manager personas.
type PersonaID string

const (
	PersonaStrategic PersonaID = "strategic"
	PersonaMonitor   PersonaID = "monitor"
	PersonaExecutor  PersonaID = "executor"
	PersonaCreative  PersonaID = "creative"
	PersonaAnalyst   PersonaID = "analyst"
)

// Persona is a themed chat-response category. Personas are immutable and
// declared once; declaration order is also the tie-break priority.
type Persona struct {
	ID       PersonaID `json:"id"`
	Name     string    `json:"name"`
	Title    string    `json:"title"`
	Color    string    `json:"color"`
	Keywords []string  `json:"keywords"`
}

var personas = []Persona{
	{
		ID:    PersonaStrategic,
		Name:  "المدير الاستراتيجي",
		Title: "Strategic Manager",
		Color: "#8b5cf6",
		Keywords: []string{
			"استراتيجية", "خطة", "أهداف", "رؤية", "نمو", "منافس", "سوق",
			"strategy", "plan", "goal", "growth", "competitor",
		},
	},
	{
		ID:    PersonaMonitor,
		Name:  "مراقب السوشيال ميديا",
		Title: "Social Monitor",
		Color: "#06b6d4",
		Keywords: []string{
			"مراقبة", "سوشيال", "تواصل", "متابعين", "منشور", "تعليقات", "إشارات", "سمعة",
			"social", "monitor", "followers", "mentions", "comments",
		},
	},
	{
		ID:    PersonaExecutor,
		Name:  "منفذ الحملات",
		Title: "Campaign Executor",
		Color: "#f59e0b",
		Keywords: []string{
			"حملة", "حملات", "إعلان", "تنفيذ", "ميزانية", "إطلاق", "جدولة",
			"campaign", "ads", "launch", "budget", "schedule",
		},
	},
	{
		ID:    PersonaCreative,
		Name:  "المبدع",
		Title: "Content Creator",
		Color: "#ec4899",
		Keywords: []string{
			"محتوى", "تصميم", "إبداع", "فكرة", "أفكار", "كتابة", "صورة", "فيديو",
			"content", "design", "creative", "idea", "copy",
		},
	},
	{
		ID:    PersonaAnalyst,
		Name:  "المحلل",
		Title: "Data Analyst",
		Color: "#10b981",
		Keywords: []string{
			"تحليل", "تحليلات", "بيانات", "أرقام", "تقرير", "إحصائيات", "أداء", "مؤشرات",
			"analytics", "analysis", "data", "report", "kpi", "metrics",
		},
	},
}

// Personas returns the persona catalog in declaration order.
func Personas() []Persona {
	out := make([]Persona, len(personas))
	copy(out, personas)
	return out
}

// LookupPersona returns the persona with the given ID.
func LookupPersona(id PersonaID) (Persona, bool) {
	for _, p := range personas {
		if p.ID == id {
			return p, true
		}
	}
	return Persona{}, false
}

// Valid reports whether id names a declared persona.
func (id PersonaID) Valid() bool {
	_, ok := LookupPersona(id)
	return ok
}
