package bot

import (
	"encoding/json"
	"fmt"
	"html"

	"github.com/xrayfleet/xrayfleet/internal/domain"
)

// renderText builds the Telegram HTML body for one event notification.
func renderText(ev domain.Event) string {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		payload = []byte("{}")
	}
	return fmt.Sprintf(
		"Event notification: <b>%s</b>\n\nData:\n <code>%s</code>",
		html.EscapeString(ev.Type),
		html.EscapeString(string(payload)),
	)
}
