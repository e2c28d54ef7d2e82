package notifier

import (
	"bytes"
	"html/template"
	texttemplate "text/template"

	"medremind/internal/reminder"
)

// Message is a rendered email ready for a Sender.
type Message struct {
	FromName    string
	FromAddress string
	To          string
	Subject     string
	Text        string
	HTML        string
}

var htmlBody = template.Must(template.New("reminder.html").Parse(`<html>
<body style="font-family:Arial,sans-serif;color:#333;max-width:600px;margin:auto">
  <div style="background:#198754;padding:20px;border-radius:8px 8px 0 0">
    <h2 style="color:white;margin:0">&#128138; Medication Reminder</h2>
  </div>
  <div style="border:1px solid #ddd;padding:24px;border-radius:0 0 8px 8px">
    <p>This is your scheduled reminder to take your medication.</p>
    <table style="width:100%;border-collapse:collapse;margin:16px 0">
      <tr>
        <td style="padding:8px;border:1px solid #ddd;background:#f8f9fa"><b>Medication</b></td>
        <td style="padding:8px;border:1px solid #ddd">{{.Medication}}</td>
      </tr>
      <tr>
        <td style="padding:8px;border:1px solid #ddd;background:#f8f9fa"><b>Scheduled Time</b></td>
        <td style="padding:8px;border:1px solid #ddd">{{.Time}} ({{.Timezone}})</td>
      </tr>
    </table>
    <p style="color:#888;font-size:12px">
      Sent by Jeevanta &middot; Reply to your health assistant to cancel or modify reminders.
    </p>
  </div>
</body>
</html>
`))

var textBody = texttemplate.Must(texttemplate.New("reminder.txt").Parse(`Medication Reminder

This is your scheduled reminder to take your medication.

Medication:     {{.Medication}}
Scheduled Time: {{.Time}} ({{.Timezone}})

Sent by Jeevanta. Reply to your health assistant to cancel or modify reminders.
`))

func render(cfg SMTPConfig, n reminder.Notice) (Message, error) {
	var h, t bytes.Buffer
	if err := htmlBody.Execute(&h, n); err != nil {
		return Message{}, err
	}
	if err := textBody.Execute(&t, n); err != nil {
		return Message{}, err
	}
	name := cfg.FromName
	if name == "" {
		name = "Jeevanta Reminders"
	}
	return Message{
		FromName:    name,
		FromAddress: cfg.from(),
		To:          n.Address,
		Subject:     "Reminder: Take " + n.Medication + " now",
		Text:        t.String(),
		HTML:        h.String(),
	}, nil
}
