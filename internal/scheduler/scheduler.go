package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"dealerpilot/internal/integrations/email"
	"dealerpilot/internal/storage/sqlite"
)

// Scheduler owns the periodic jobs: the daily experiment digest and the
// unsent-dossier email retry sweep. All state is held here and injected,
// initialized at process start and torn down on shutdown; nothing lives in
// package-level variables.
type Scheduler struct {
	db         *sql.DB
	mailer     *email.Mailer
	cron       *cron.Cron
	digestSpec string
	retrySpec  string
}

func New(db *sql.DB, mailer *email.Mailer, digestSpec, retrySpec string) *Scheduler {
	return &Scheduler{
		db:         db,
		mailer:     mailer,
		cron:       cron.New(),
		digestSpec: digestSpec,
		retrySpec:  retrySpec,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.digestSpec, s.runDigest); err != nil {
		return fmt.Errorf("registering digest job: %w", err)
	}
	if _, err := s.cron.AddFunc(s.retrySpec, s.retryUnsentEmails); err != nil {
		return fmt.Errorf("registering email retry job: %w", err)
	}
	s.cron.Start()
	log.Printf("scheduler started digest=%q email_retry=%q", s.digestSpec, s.retrySpec)
	return nil
}

// Stop halts job scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Println("scheduler stopped")
}

// runDigest emails each dealership with recent experiment activity a
// per-variant outcome summary for the last 24 hours.
func (s *Scheduler) runDigest() {
	since := time.Now().Add(-24 * time.Hour)
	dealershipIDs, err := sqlite.GetDealershipIDsWithMetrics(s.db, since)
	if err != nil {
		log.Printf("digest dealership lookup err=%v", err)
		return
	}
	for _, id := range dealershipIDs {
		if err := s.sendDigestFor(id, since); err != nil {
			log.Printf("digest dealership=%s err=%v", id, err)
		}
	}
}

func (s *Scheduler) sendDigestFor(dealershipID string, since time.Time) error {
	dealership, err := sqlite.GetDealershipByID(s.db, dealershipID)
	if err != nil {
		return fmt.Errorf("loading dealership: %w", err)
	}
	stats, err := sqlite.GetVariantStats(s.db, dealershipID, since)
	if err != nil {
		return fmt.Errorf("loading variant stats: %w", err)
	}
	if len(stats) == 0 {
		return nil
	}

	recipients := strings.Split(dealership.StaffEmails, ",")
	if len(recipients) == 0 || strings.TrimSpace(recipients[0]) == "" {
		return fmt.Errorf("no digest recipient configured")
	}
	to := strings.TrimSpace(recipients[0])

	subject := fmt.Sprintf("Prompt experiment digest for %s", dealership.Name)
	body := BuildDigestBody(dealership.Name, since, stats)
	if err := s.mailer.SendReport(to, dealership.FromAddress, subject, body); err != nil {
		return err
	}
	log.Printf("digest sent dealership=%s variants=%d", dealershipID, len(stats))
	return nil
}

// BuildDigestBody renders the per-variant outcome table as plain text.
func BuildDigestBody(dealershipName string, since time.Time, stats []sqlite.VariantStats) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Experiment activity for %s since %s\n\n", dealershipName, since.Format("Jan 2 15:04")))
	for _, s := range stats {
		b.WriteString(fmt.Sprintf("%s\n", s.VariantName))
		b.WriteString(fmt.Sprintf("  turns: %d\n", s.Turns))
		b.WriteString(fmt.Sprintf("  escalation rate: %.0f%%\n", s.EscalationRate*100))
		b.WriteString(fmt.Sprintf("  successes: %d\n", s.Successes))
		if s.RatedTurns > 0 {
			b.WriteString(fmt.Sprintf("  avg rating: %.1f (%d rated)\n", s.AvgRating, s.RatedTurns))
		}
		b.WriteString(fmt.Sprintf("  avg latency: %.0fms\n\n", s.AvgLatencyMs))
	}
	return b.String()
}

// retryUnsentEmails re-attempts delivery for dossiers whose handover email
// failed at build time.
func (s *Scheduler) retryUnsentEmails() {
	dossiers, err := sqlite.GetUnsentDossiers(s.db, 50)
	if err != nil {
		log.Printf("email retry lookup err=%v", err)
		return
	}
	for _, d := range dossiers {
		dealership, err := sqlite.GetDealershipByID(s.db, d.DealershipID)
		if err != nil {
			log.Printf("email retry dossier=%s dealership load err=%v", d.ID, err)
			continue
		}
		if err := s.mailer.DeliverDossier(context.Background(), dealership, d); err != nil {
			log.Printf("email retry dossier=%s err=%v", d.ID, err)
			continue
		}
		if err := sqlite.MarkDossierEmailSent(s.db, d.ID); err != nil {
			log.Printf("email retry tracking dossier=%s err=%v", d.ID, err)
			continue
		}
		log.Printf("email retry delivered dossier=%s conversation=%s", d.ID, d.ConversationID)
	}
}
