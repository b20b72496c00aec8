package ingest

import (
	"context"
	"fmt"
	"time"

	"helios_server/core/domain"
	"helios_server/core/port/out"
	"helios_server/pkg/logger"
)

// Sweeper drives batch ingestion over the configured triage labels. It is
// the in-process batch counterpart of the HTTP ingestion endpoint; both feed
// the same Service.
type Sweeper struct {
	mail out.MailProviderPort
	svc  *Service

	labels       []string
	lookbackDays int
	maxPerLabel  int
	dryRun       bool

	log *logger.Logger
}

// NewSweeper creates a sweep driver.
func NewSweeper(mail out.MailProviderPort, svc *Service, labels []string, lookbackDays, maxPerLabel int, dryRun bool) *Sweeper {
	return &Sweeper{
		mail:         mail,
		svc:          svc,
		labels:       labels,
		lookbackDays: lookbackDays,
		maxPerLabel:  maxPerLabel,
		dryRun:       dryRun,
		log:          logger.WithField("component", "sweep"),
	}
}

// Sweep pulls messages under the triage labels and ingests each one.
// Per-message failures are counted and logged, never aborting the sweep.
func (s *Sweeper) Sweep(ctx context.Context) (*domain.SweepReport, error) {
	started := time.Now()
	report := &domain.SweepReport{
		Labels:    s.labels,
		StartedAt: started.UTC(),
	}

	all, err := s.mail.ListLabels(ctx)
	if err != nil {
		return nil, err
	}

	selected := make(map[string]string, len(s.labels))
	for _, name := range s.labels {
		id, ok := all[name]
		if !ok {
			s.log.WithField("label", name).Warn("triage label not found, skipping")
			continue
		}
		selected[name] = id
	}
	if len(selected) == 0 {
		report.Elapsed = time.Since(started).Round(time.Millisecond).String()
		return report, nil
	}

	query := ""
	if s.lookbackDays > 0 {
		query = fmt.Sprintf("newer_than:%dd", s.lookbackDays)
	}

	err = s.mail.ForEachMessage(ctx, selected, query, s.maxPerLabel, func(msg *out.MailMessage) error {
		report.Scanned++

		inbound := inboundFromMessage(msg)
		inbound.DryRun = s.dryRun

		res, ierr := s.svc.Ingest(ctx, inbound)
		if ierr != nil {
			report.Failed++
			s.log.WithError(ierr).WithField("message_id", msg.ID).Error("ingest failed")
			return nil
		}
		switch res.Reason {
		case domain.ProcessedCreated:
			report.Created++
		case domain.ProcessedDuplicate:
			report.Duplicate++
		case domain.ProcessedRejected:
			report.Rejected++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	report.Elapsed = time.Since(started).Round(time.Millisecond).String()
	s.log.WithFields(map[string]any{
		"scanned":   report.Scanned,
		"created":   report.Created,
		"duplicate": report.Duplicate,
		"rejected":  report.Rejected,
		"failed":    report.Failed,
	}).Info("sweep complete")
	return report, nil
}

func inboundFromMessage(msg *out.MailMessage) *domain.InboundEmail {
	inbound := &domain.InboundEmail{
		MessageID:   msg.ID,
		Sender:      msg.Sender,
		Subject:     msg.Subject,
		Content:     msg.Body,
		GmailLink:   msg.Link,
		ThreadID:    msg.ThreadID,
		SourceLabel: msg.Label,
	}
	if !msg.ReceivedAt.IsZero() {
		t := msg.ReceivedAt.UTC()
		inbound.ReceivedAt = &t
	}
	return inbound
}
