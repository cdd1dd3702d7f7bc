package events

import "fmt"

// Notice renders ev as a short Arabic notification line for the chat
// history. The second result is false for events that produce no notice.
func Notice(ev Event) (string, bool) {
	switch ev.Kind {
	case KindDeploymentSucceeded:
		if d := ev.Deployment; d != nil {
			return fmt.Sprintf("تم نشر %s بنجاح على %s", d.Project, d.Environment), true
		}
	case KindDeploymentFailed:
		if d := ev.Deployment; d != nil {
			return fmt.Sprintf("فشل نشر %s على %s (%s)", d.Project, d.Environment, d.Status), true
		}
	case KindDeploymentStarted:
		if d := ev.Deployment; d != nil {
			return fmt.Sprintf("بدأ نشر %s على %s", d.Project, d.Environment), true
		}
	case KindPaymentCompleted:
		if p := ev.Payment; p != nil {
			return fmt.Sprintf("تم الدفع بنجاح: %s %s", p.Amount, p.Currency), true
		}
	case KindPaymentFailed:
		if p := ev.Payment; p != nil {
			return fmt.Sprintf("تعذر إتمام الدفع: %s", p.Error), true
		}
	}
	return "", false
}
