package export

import (
	"strings"

	"github.com/surgutroads/roadwatch/internal/session"
)

// Transcript renders the lighter-weight export: role-labeled plain
// text, no images. Chart references stay as literal paths; capability
// invocations appear as bracketed notices.
func Transcript(sess *session.Session) string {
	var sb strings.Builder
	sb.WriteString(sess.Title)
	sb.WriteString("\n\n")

	for i, m := range sess.Messages {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(roleLabel(m.Role))
		sb.WriteString(":\n")
		for _, p := range m.Parts {
			switch p.Kind {
			case session.PartText:
				sb.WriteString(p.Text)
				sb.WriteString("\n")
			case session.PartToolStart:
				sb.WriteString("[инструмент: ")
				sb.WriteString(p.Tool)
				sb.WriteString("]\n")
			}
		}
	}
	return sb.String()
}
