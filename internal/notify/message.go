package notify

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/linnemanlabs/beacon/internal/alert"
	"github.com/linnemanlabs/beacon/internal/user"
)

const mapLinkBase = "https://maps.google.com/?q="

func mapLink(loc alert.Location) string {
	return fmt.Sprintf("%s%.6f,%.6f", mapLinkBase, loc.Latitude, loc.Longitude)
}

func placeLine(loc alert.Location) string {
	if loc.Address != "" {
		return loc.Address
	}
	return fmt.Sprintf("%.6f, %.6f", loc.Latitude, loc.Longitude)
}

// AlertSMS formats the SMS body for an alert notification.
func AlertSMS(u *user.User, al *alert.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "EMERGENCY: %s needs help (%s alert).\n", u.Name, al.Type)
	fmt.Fprintf(&b, "Time: %s\n", al.ActivatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Location: %s\n", placeLine(al.Location))
	fmt.Fprintf(&b, "Map: %s", mapLink(al.Location))
	if al.Message != "" {
		fmt.Fprintf(&b, "\nMessage: %s", al.Message)
	}
	if u.Phone != "" {
		fmt.Fprintf(&b, "\nCall back: %s", u.Phone)
	} else if u.Email != "" {
		fmt.Fprintf(&b, "\nReach: %s", u.Email)
	}
	return b.String()
}

// AlertEmailSubject formats the email subject for an alert notification.
func AlertEmailSubject(u *user.User, al *alert.Alert) string {
	return fmt.Sprintf("Emergency alert from %s (%s)", u.Name, al.Type)
}

// AlertEmailHTML formats the HTML email body for an alert notification.
func AlertEmailHTML(u *user.User, al *alert.Alert) string {
	esc := html.EscapeString
	var b strings.Builder
	b.WriteString("<html><body>")
	fmt.Fprintf(&b, "<h2>Emergency alert from %s</h2>", esc(u.Name))
	fmt.Fprintf(&b, "<p><strong>Type:</strong> %s</p>", esc(string(al.Type)))
	fmt.Fprintf(&b, "<p><strong>Time:</strong> %s</p>", al.ActivatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "<p><strong>Location:</strong> %s</p>", esc(placeLine(al.Location)))
	fmt.Fprintf(&b, `<p><a href="%s">Open in maps</a></p>`, mapLink(al.Location))
	if al.Message != "" {
		fmt.Fprintf(&b, "<p><strong>Message:</strong> %s</p>", esc(al.Message))
	}
	if u.Phone != "" {
		fmt.Fprintf(&b, "<p><strong>Phone:</strong> %s</p>", esc(u.Phone))
	}
	if u.Email != "" {
		fmt.Fprintf(&b, "<p><strong>Email:</strong> %s</p>", esc(u.Email))
	}
	b.WriteString("</body></html>")
	return b.String()
}

// ResolutionSMS formats the all-clear SMS sent when an alert leaves the
// active state.
func ResolutionSMS(u *user.User, al *alert.Alert) string {
	status := "resolved"
	if al.Status == alert.StatusFalseAlarm {
		status = "a false alarm"
	}
	return fmt.Sprintf("Update: the emergency alert from %s at %s is %s. No further action needed.",
		u.Name, al.ActivatedAt.UTC().Format("15:04 UTC"), status)
}

// AlertPush builds the push payload for an alert notification.
func AlertPush(u *user.User, al *alert.Alert) PushPayload {
	return PushPayload{
		AlertID:   al.ID,
		UserID:    u.ID,
		Latitude:  al.Location.Latitude,
		Longitude: al.Location.Longitude,
		Title:     fmt.Sprintf("Emergency: %s needs help", u.Name),
		Body:      placeLine(al.Location),
	}
}
