package audit

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/upb/authaudit/models"
	"github.com/upb/authaudit/services"
)

// FormattedEvent is the formatter output: the structured attributes of a
// record plus its human-readable line.
type FormattedEvent struct {
	Kind      models.EventKind
	Principal string
	Message   string
}

// EventFormatter turns a raw failure notification into record attributes.
// It holds no state and is safe for concurrent use.
type EventFormatter struct{}

// NewEventFormatter creates an EventFormatter
func NewEventFormatter() EventFormatter {
	return EventFormatter{}
}

// FormatAuthFailure formats a failed login attempt. It never fails.
func (f EventFormatter) FormatAuthFailure(principal string) FormattedEvent {
	event, _ := f.Format(models.EventKindAuthFail, principal)
	return event
}

// Format formats an event of the given kind. Unknown kinds are malformed.
func (f EventFormatter) Format(kind models.EventKind, principal string) (FormattedEvent, error) {
	if !kind.Valid() {
		return FormattedEvent{}, services.NewDomainError(services.ErrorTypeMalformed,
			fmt.Sprintf("unsupported event kind %q", kind), nil)
	}

	principal = SanitizePrincipal(principal)

	return FormattedEvent{
		Kind:      kind,
		Principal: principal,
		Message:   formatMessage(kind, principal),
	}, nil
}

// SanitizePrincipal maps an empty or blank principal to models.UnknownPrincipal
func SanitizePrincipal(principal string) string {
	if strings.TrimSpace(principal) == "" {
		return models.UnknownPrincipal
	}
	return principal
}

func formatMessage(kind models.EventKind, principal string) string {
	switch kind {
	case models.EventKindAuthFail:
		return "[FAIL] login attempt for " + escapeControl(principal)
	default:
		return fmt.Sprintf("[%s] %s", kind, escapeControl(principal))
	}
}

// escapeControl keeps the message on a single line.
func escapeControl(s string) string {
	if strings.IndexFunc(s, unicode.IsControl) < 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for _, r := range s {
		if unicode.IsControl(r) {
			q := strconv.QuoteRune(r)
			b.WriteString(q[1 : len(q)-1])
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
