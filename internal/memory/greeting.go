package memory

import "fmt"

// Well-known keys written by interaction tracking and read by greetings.
const (
	KeyName        = "name"
	KeyCompany     = "company"
	KeyLastPersona = "last_persona"
)

// Greeting builds an Arabic welcome line personalised with remembered facts.
func Greeting(s *Store) string {
	name := stringValue(s, KeyName)
	company := stringValue(s, KeyCompany)
	switch {
	case name != "" && company != "":
		return fmt.Sprintf("أهلاً %s! جاهزون لنمو %s اليوم؟", name, company)
	case name != "":
		return fmt.Sprintf("أهلاً %s! كيف يمكن لفريقك الذكي مساعدتك اليوم؟", name)
	default:
		return "أهلاً بك! كيف يمكن لفريقك الذكي مساعدتك اليوم؟"
	}
}

func stringValue(s *Store, key string) string {
	if s == nil {
		return ""
	}
	e, ok := s.Recall(key)
	if !ok {
		return ""
	}
	v, _ := e.Value.(string)
	return v
}
