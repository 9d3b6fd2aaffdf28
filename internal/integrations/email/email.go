package email

import (
	"context"
	"fmt"
	"html"
	"net/smtp"
	"strings"

	"dealerpilot/internal/domain"
)

// Sender delivers a fully assembled MIME message. Abstracted so tests can
// capture outbound mail without a real SMTP server.
type Sender interface {
	Send(to []string, from string, message []byte) error
}

type SMTPSender struct {
	Host     string
	Port     int
	Username string
	Password string
}

func (s *SMTPSender) Send(to []string, from string, message []byte) error {
	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}
	return smtp.SendMail(addr, auth, from, to, message)
}

// Mailer renders and delivers handover dossiers and digest reports.
type Mailer struct {
	sender Sender
}

func NewMailer(sender Sender) *Mailer {
	return &Mailer{sender: sender}
}

// DeliverDossier emails the dossier to the dealership's staff recipients.
func (m *Mailer) DeliverDossier(_ context.Context, dealership domain.Dealership, dossier domain.HandoverDossier) error {
	recipients := splitRecipients(dealership.StaffEmails)
	if len(recipients) == 0 {
		return fmt.Errorf("dealership %s has no staff email recipients", dealership.ID)
	}
	from := dealership.FromAddress
	if from == "" {
		return fmt.Errorf("dealership %s has no from address", dealership.ID)
	}

	subject := fmt.Sprintf("Handover: %s (%s urgency)", displayName(dossier.CustomerName), dossier.Urgency)
	body := RenderDossierBody(dossier)
	message := BuildMIME(from, recipients, subject, body)
	if err := m.sender.Send(recipients, from, message); err != nil {
		return fmt.Errorf("sending dossier email: %w", err)
	}
	return nil
}

// SendReport delivers a plain-text report, used by the scheduled
// experiment digest.
func (m *Mailer) SendReport(to, from, subject, body string) error {
	if to == "" || from == "" {
		return fmt.Errorf("report email needs both to and from addresses")
	}
	message := BuildMIME(from, []string{to}, subject, body)
	if err := m.sender.Send([]string{to}, from, message); err != nil {
		return fmt.Errorf("sending report email: %w", err)
	}
	return nil
}

func displayName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "customer"
	}
	return name
}

func splitRecipients(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// RenderDossierBody produces the plain-text briefing staff read first.
func RenderDossierBody(d domain.HandoverDossier) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("Customer: %s\n", displayName(d.CustomerName)))
	if d.CustomerContact != "" {
		b.WriteString(fmt.Sprintf("Contact: %s\n", d.CustomerContact))
	}
	b.WriteString(fmt.Sprintf("Urgency: %s\n", d.Urgency))
	b.WriteString(fmt.Sprintf("Escalation reason: %s\n\n", d.EscalationReason))

	b.WriteString("Summary\n")
	b.WriteString(d.Summary + "\n\n")

	b.WriteString("Customer insights\n")
	if len(d.Insights) == 0 {
		b.WriteString("- none captured\n")
	}
	for _, in := range d.Insights {
		b.WriteString(fmt.Sprintf("- %s: %s (confidence %.0f%%)\n", in.Key, in.Value, in.Confidence*100))
	}
	b.WriteString("\nVehicle interests\n")
	if len(d.VehicleInterests) == 0 {
		b.WriteString("- none captured\n")
	}
	for _, vi := range d.VehicleInterests {
		line := fmt.Sprintf("- %d %s %s", vi.Year, vi.Make, vi.Model)
		if vi.Trim != "" {
			line += " " + vi.Trim
		}
		if vi.VIN != "" {
			line += " (VIN " + vi.VIN + ")"
		}
		b.WriteString(line + fmt.Sprintf(" (confidence %.0f%%)\n", vi.Confidence*100))
	}

	b.WriteString("\nSuggested approach\n")
	b.WriteString(d.SuggestedApproach + "\n\n")

	b.WriteString("Transcript\n")
	if len(d.Transcript) == 0 {
		b.WriteString("(no messages)\n")
	}
	for _, entry := range d.Transcript {
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", entry.SentAt.Format("Jan 2 15:04"), entry.From, entry.Body))
	}
	return b.String()
}

// BuildMIME assembles a multipart/alternative message with plain and HTML
// parts.
func BuildMIME(from string, to []string, subject, body string) []byte {
	const boundary = "dealerpilot-alt"
	headers := []string{
		fmt.Sprintf("From: %s", from),
		fmt.Sprintf("To: %s", strings.Join(to, ", ")),
		fmt.Sprintf("Subject: %s", subject),
		"MIME-Version: 1.0",
		fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q", boundary),
	}
	plain := normalizeCRLF(body)
	htmlBody := bodyToHTML(body)

	var out strings.Builder
	out.WriteString(strings.Join(headers, "\r\n"))
	out.WriteString("\r\n\r\n")
	out.WriteString("--" + boundary + "\r\n")
	out.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	out.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	out.WriteString(plain)
	if !strings.HasSuffix(plain, "\r\n") {
		out.WriteString("\r\n")
	}
	out.WriteString("\r\n--" + boundary + "\r\n")
	out.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	out.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	out.WriteString(htmlBody)
	out.WriteString("\r\n--" + boundary + "--\r\n")
	return []byte(out.String())
}

func normalizeCRLF(s string) string {
	normalized := strings.ReplaceAll(s, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\n", "\r\n")
	return normalized
}

func bodyToHTML(body string) string {
	escaped := html.EscapeString(strings.ReplaceAll(body, "\r\n", "\n"))
	escaped = strings.ReplaceAll(escaped, "\n", "<br>\n")
	return `<html><body style="font-family: Calibri, Arial, sans-serif; font-size: 11pt; color: #1f1f1f; line-height: 1.35;">` + escaped + `</body></html>`
}
