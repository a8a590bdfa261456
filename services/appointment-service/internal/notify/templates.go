package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"unicode/utf8"

	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/model"
)

const smsLimit = 160

type content struct {
	Title   string
	Message string
	Vehicle string
	Date    string
	Time    string
	Tech    string
	Note    string
}

func buildContent(ev Event) content {
	c := content{Note: ev.Note}
	if a := ev.Appointment; a != nil {
		c.Vehicle = a.Vehicle.Label()
		c.Date = a.AppointmentDate
		c.Time = a.AppointmentTime
		c.Tech = a.TechnicianName
	}
	switch ev.Type {
	case model.NotifyBookingReceived:
		c.Title = "Booking received"
		c.Message = fmt.Sprintf("We received your booking for %s on %s at %s.", c.Vehicle, c.Date, c.Time)
	case model.NotifyNewBooking:
		c.Title = "New booking"
		c.Message = fmt.Sprintf("%s was booked for %s at %s.", c.Vehicle, c.Date, c.Time)
	case model.NotifyAppointmentConfirmed:
		c.Title = "Appointment confirmed"
		c.Message = fmt.Sprintf("Your appointment for %s on %s at %s is confirmed.", c.Vehicle, c.Date, c.Time)
		if c.Tech != "" {
			c.Message += " Technician: " + c.Tech + "."
		}
	case model.NotifyTechnicianAssigned:
		c.Title = "New assignment"
		c.Message = fmt.Sprintf("You are assigned to %s on %s at %s.", c.Vehicle, c.Date, c.Time)
	case model.NotifyAppointmentRescheduled:
		c.Title = "Appointment rescheduled"
		c.Message = fmt.Sprintf("Your appointment for %s is now on %s at %s.", c.Vehicle, c.Date, c.Time)
	case model.NotifyAppointmentCancelled:
		c.Title = "Appointment cancelled"
		c.Message = fmt.Sprintf("Your appointment for %s on %s at %s was cancelled.", c.Vehicle, c.Date, c.Time)
		if a := ev.Appointment; a != nil && a.CancellationFee != nil && *a.CancellationFee > 0 {
			c.Message += fmt.Sprintf(" A cancellation fee of %s applies.", formatMinor(*a.CancellationFee))
		}
	case model.NotifyServiceStarted:
		c.Title = "Service started"
		c.Message = fmt.Sprintf("Work on %s has started.", c.Vehicle)
	case model.NotifyServiceUpdate:
		c.Title = "Service update"
		c.Message = ev.Note
		if c.Vehicle != "" {
			c.Title += ": " + c.Vehicle
		}
	case model.NotifyServiceCompleted:
		c.Title = "Service completed"
		c.Message = fmt.Sprintf("%s is ready for pickup.", c.Vehicle)
	default:
		c.Title = "Appointment update"
		c.Message = ev.Note
	}
	return c
}

func formatMinor(v int64) string {
	return fmt.Sprintf("%d.%02d", v/100, v%100)
}

var emailTemplates = template.Must(template.New("email").Parse(`
{{define "layout"}}<!doctype html>
<html><body style="font-family:sans-serif">
<h2>{{.Title}}</h2>
<p>{{.Message}}</p>
{{block "details" .}}{{end}}
<p style="color:#888">Service Bay</p>
</body></html>{{end}}

{{define "schedule"}}{{if .Date}}<table>
<tr><td>Vehicle</td><td>{{.Vehicle}}</td></tr>
<tr><td>Date</td><td>{{.Date}}</td></tr>
<tr><td>Time</td><td>{{.Time}}</td></tr>
{{if .Tech}}<tr><td>Technician</td><td>{{.Tech}}</td></tr>{{end}}
</table>{{end}}{{end}}

{{define "note"}}{{if .Note}}<blockquote>{{.Note}}</blockquote>{{end}}{{end}}
`))

// emailBodies picks the details block per notification type.
var emailBodies = map[model.NotificationType]string{
	model.NotifyBookingReceived:        "schedule",
	model.NotifyNewBooking:             "schedule",
	model.NotifyAppointmentConfirmed:   "schedule",
	model.NotifyTechnicianAssigned:     "schedule",
	model.NotifyAppointmentRescheduled: "schedule",
	model.NotifyAppointmentCancelled:   "note",
	model.NotifyServiceUpdate:          "note",
}

func renderEmail(t model.NotificationType, c content) (string, error) {
	tpl, err := emailTemplates.Clone()
	if err != nil {
		return "", err
	}
	if body, ok := emailBodies[t]; ok {
		if _, err := tpl.Parse(`{{define "details"}}{{template "` + body + `" .}}{{end}}`); err != nil {
			return "", err
		}
	}
	var buf bytes.Buffer
	if err := tpl.ExecuteTemplate(&buf, "layout", c); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// renderSMS builds a single-segment text, truncated with "..." past 160 runes.
func renderSMS(c content) string {
	text := c.Title + ": " + c.Message
	if utf8.RuneCountInString(text) <= smsLimit {
		return text
	}
	runes := []rune(text)
	return string(runes[:smsLimit-3]) + "..."
}
