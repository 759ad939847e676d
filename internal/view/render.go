package view

import (
	"fmt"
	"strings"

	"clearchat/internal/models"
)

func (v *View) name(id string) string {
	if n, ok := v.names[id]; ok && n != "" {
		return n
	}
	return id
}

func (v *View) renderLocked() {
	if v.out == nil {
		return
	}
	var b strings.Builder
	switch v.state {
	case Chatting:
		v.renderChat(&b)
	default:
		v.renderBrowser(&b)
	}
	fmt.Fprint(v.out, b.String())
}

func (v *View) renderBrowser(b *strings.Builder) {
	fmt.Fprintf(b, "\n== %s ==\n", v.name(v.session.UserID()))
	if v.camera != nil {
		if err := v.camera.Err(); err != nil {
			fmt.Fprintf(b, "camera unavailable: %v\n", err)
		}
	}
	b.WriteString("Contacts:\n")
	if len(v.contacts) == 0 {
		b.WriteString("  (nobody else has signed up yet)\n")
	}
	for i, u := range v.contacts {
		fmt.Fprintf(b, "  %d. %s\n", i+1, u.DisplayName())
	}
	b.WriteString("Recent:\n")
	if len(v.recent) == 0 {
		b.WriteString("  (no conversations)\n")
	}
	for i, c := range v.recent {
		fmt.Fprintf(b, "  c%d. %s\n", i+1, v.name(c.Other(v.session.UserID())))
	}
}

// renderChat prints the window of messages ending at the newest one.
func (v *View) renderChat(b *strings.Builder) {
	other := ""
	if v.current != nil {
		other = v.name(v.current.Other(v.session.UserID()))
	}
	fmt.Fprintf(b, "\n-- %s --\n", other)
	if v.camera != nil {
		if err := v.camera.Err(); err != nil {
			fmt.Fprintf(b, "camera unavailable: %v\n", err)
		}
	}
	msgs := v.messages
	if len(msgs) > v.tail {
		fmt.Fprintf(b, "  ... %d earlier\n", len(msgs)-v.tail)
		msgs = msgs[len(msgs)-v.tail:]
	}
	for _, m := range msgs {
		b.WriteString(formatMessage(m, v.name(m.SenderID)))
	}
}

func formatMessage(m *models.Message, sender string) string {
	line := fmt.Sprintf("[%s] %s: %s", m.Timestamp.Local().Format("15:04"), sender, m.Text)
	if m.Emotion != "" {
		line += "  (" + strings.TrimSpace(m.Emotion) + ")"
	}
	return line + "\n"
}
