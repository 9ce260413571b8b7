package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/localnewslab/newsingest/internal/extract"
	"github.com/localnewslab/newsingest/internal/ingest"
	"github.com/localnewslab/newsingest/internal/metrics"
)

// Discover fetches the source's index pages and records unseen article
// links as candidates. Discovery inserts are not claimed rows, so no batch
// transaction is needed here.
func (o *Orchestrator) Discover(ctx context.Context) error {
	for _, indexURL := range o.cfg.IndexURLs {
		resp, signal, err := o.pacedFetch(ctx, indexURL)
		if errors.Is(err, errSourceSuspended) {
			o.logger.Info("discovery deferred, suspension active")
			break
		}
		if err != nil && resp.StatusCode == 0 {
			o.logger.Warn("index fetch failed", zap.String("url", indexURL), zap.Error(err))
			continue
		}
		if signal != ingest.SignalOK {
			o.logger.Info("index fetch deferred", zap.String("url", indexURL), zap.String("signal", string(signal)))
			continue
		}

		links, err := extract.Links(resp.Body, indexURL)
		if err != nil {
			o.logger.Warn("index parse failed", zap.String("url", indexURL), zap.Error(err))
			continue
		}
		inserted := 0
		now := o.clock.Now()
		for _, link := range links {
			created, err := o.store.InsertCandidate(ctx, link, o.cfg.Source, now)
			if err != nil {
				o.logger.Warn("candidate insert failed", zap.String("url", link), zap.Error(err))
				continue
			}
			if created {
				inserted++
			}
		}
		o.emit("discover", indexURL, 0, fmt.Sprintf("links=%d inserted=%d", len(links), inserted))
		o.logger.Debug("index discovered",
			zap.String("url", indexURL),
			zap.Int("links", len(links)),
			zap.Int("inserted", inserted),
		)
	}
	return nil
}

// Verify claims a batch of discovered candidates and probes each URL. Rows
// that fetched cleanly advance to verified; permanently missing pages are
// rejected; soft-blocked or transiently failing rows stay claimed-but-
// untouched so a later batch retries them.
func (o *Orchestrator) Verify(ctx context.Context) error {
	tx, err := o.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	links, err := o.store.ClaimCandidates(ctx, tx, o.cfg.Source, ingest.CandidateDiscovered, o.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, link := range links {
		resp, signal, fetchErr := o.pacedFetch(ctx, link.URL)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(fetchErr, errSourceSuspended) {
			// Stop consuming the batch; commit what is decided so far and
			// unlock the rest for a cycle after the window.
			o.logger.Info("verify batch deferred, suspension active", zap.Int64("candidate_id", link.ID))
			break
		}
		switch {
		case fetchErr != nil && resp.StatusCode == 0:
			// Transient network failure: leave the row for a later retry.
			metrics.ObserveBatchRow("verify", "retry")
			o.logger.Warn("verify fetch failed", zap.Int64("candidate_id", link.ID), zap.Error(fetchErr))
		case signal == ingest.SignalSoftBlock:
			metrics.ObserveBatchRow("verify", "deferred")
			o.emit("verify", link.URL, link.ID, "soft_block")
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
			if err := o.store.UpdateCandidateStatus(ctx, tx, link.ID, ingest.CandidateRejected); err != nil {
				return err
			}
			metrics.ObserveBatchRow("verify", "rejected")
		case resp.StatusCode == http.StatusOK:
			if err := o.store.UpdateCandidateStatus(ctx, tx, link.ID, ingest.CandidateVerified); err != nil {
				return err
			}
			metrics.ObserveBatchRow("verify", "ok")
		default:
			metrics.ObserveBatchRow("verify", "retry")
			o.logger.Info("verify status deferred",
				zap.Int64("candidate_id", link.ID),
				zap.Int("status", resp.StatusCode),
			)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit verify batch: %w", err)
	}
	return nil
}

// Extract claims verified candidates, fetches each article, archives the
// raw page, and hands the parsed document to the dedup gatekeeper. The
// gatekeeper runs outside the batch transaction: if the batch rolls back
// after a row's content insert, the retry simply lands on
// skipped_duplicate, which is exactly the race the gatekeeper absorbs.
func (o *Orchestrator) Extract(ctx context.Context) error {
	tx, err := o.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	links, err := o.store.ClaimCandidates(ctx, tx, o.cfg.Source, ingest.CandidateVerified, o.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, link := range links {
		if err := o.extractOne(ctx, tx, link); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, errSourceSuspended) {
				o.logger.Info("extract batch deferred, suspension active", zap.Int64("candidate_id", link.ID))
				break
			}
			// Row-level failure: log with the row id, keep the batch going.
			metrics.ObserveBatchRow("extract", "failed")
			o.logger.Warn("extract row failed", zap.Int64("candidate_id", link.ID), zap.Error(err))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit extract batch: %w", err)
	}
	return nil
}

func (o *Orchestrator) extractOne(ctx context.Context, tx pgx.Tx, link ingest.CandidateLink) error {
	resp, signal, fetchErr := o.pacedFetch(ctx, link.URL)
	if fetchErr != nil && resp.StatusCode == 0 {
		return fmt.Errorf("fetch: %w", fetchErr)
	}
	if signal != ingest.SignalOK {
		metrics.ObserveBatchRow("extract", "deferred")
		o.emit("extract", link.URL, link.ID, "soft_block")
		return nil
	}

	hash, err := o.hasher.Hash(resp.Body)
	if err != nil {
		return fmt.Errorf("hash body: %w", err)
	}
	o.snapshot(ctx, link, hash, resp.Body)

	doc, err := extract.Parse(resp.Body)
	if err != nil {
		return fmt.Errorf("parse article: %w", err)
	}
	text := doc.Text()
	if strings.TrimSpace(text) == "" {
		metrics.ObserveBatchRow("extract", "empty")
		return o.store.UpdateCandidateStatus(ctx, tx, link.ID, ingest.CandidateRejected)
	}

	textHash, err := o.hasher.Hash([]byte(text))
	if err != nil {
		return fmt.Errorf("hash text: %w", err)
	}
	outcome, err := o.gate.InsertContent(ctx, ingest.ContentRecord{
		CandidateLinkID: link.ID,
		URL:             link.URL,
		Title:           doc.Title,
		Text:            text,
		TextHash:        textHash,
		Status:          ingest.ContentExtracted,
		ExtractedAt:     o.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("insert content: %w", err)
	}
	metrics.ObserveDedup(string(outcome))
	metrics.ObserveBatchRow("extract", "ok")
	o.emit("extract", link.URL, link.ID, string(outcome))
	return o.store.UpdateCandidateStatus(ctx, tx, link.ID, ingest.CandidateExtracted)
}

// snapshot archives the raw page; archival failure never blocks extraction.
func (o *Orchestrator) snapshot(ctx context.Context, link ingest.CandidateLink, hash string, body []byte) {
	if o.blobs == nil {
		return
	}
	path := fmt.Sprintf("%s/%s.html", o.cfg.Source, hash)
	if prefix := strings.Trim(o.cfg.BlobPrefix, "/"); prefix != "" {
		path = prefix + "/" + path
	}
	if _, err := o.blobs.PutObject(ctx, path, o.cfg.ContentType, bytes.NewReader(body)); err != nil {
		o.logger.Warn("snapshot archive failed", zap.Int64("candidate_id", link.ID), zap.Error(err))
	}
}

// Clean claims extracted content and strips boilerplate segments. Segments
// under the length floor are discarded unless they are real text kept by a
// longer record; the floor plus the high-confidence categories decide.
func (o *Orchestrator) Clean(ctx context.Context) error {
	tx, err := o.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	records, err := o.store.ClaimContent(ctx, tx, o.cfg.Source, ingest.ContentExtracted, o.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, rec := range records {
		kept := o.cleanSegments(ctx, rec.Text)
		text := strings.Join(kept, "\n\n")
		textHash, err := o.hasher.Hash([]byte(text))
		if err != nil {
			metrics.ObserveBatchRow("clean", "failed")
			o.logger.Warn("clean row failed", zap.Int64("content_id", rec.ID), zap.Error(err))
			continue
		}
		if err := o.store.UpdateContentText(ctx, tx, rec.ID, text, textHash, ingest.ContentCleaned); err != nil {
			return err
		}
		metrics.ObserveBatchRow("clean", "ok")
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit clean batch: %w", err)
	}
	return nil
}

func (o *Orchestrator) cleanSegments(ctx context.Context, text string) []string {
	var kept []string
	for _, segment := range strings.Split(text, "\n\n") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		if o.boiler.IsBoilerplate(ctx, o.cfg.Source, segment) {
			continue
		}
		// The length floor applies at the caller: short segments that
		// matched no high-confidence category are still too short to keep.
		if len(segment) < o.boiler.MinSegment() {
			continue
		}
		kept = append(kept, segment)
	}
	return kept
}

// Label claims cleaned content, classifies its origin, and feeds locally
// authored articles to the labeling workflow.
func (o *Orchestrator) Label(ctx context.Context) error {
	tx, err := o.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	records, err := o.store.ClaimContent(ctx, tx, o.cfg.Source, ingest.ContentCleaned, o.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, rec := range records {
		origin := o.classifier.ClassifyOrigin(ctx, rec.Text, rec.URL, o.cfg.Source)
		if origin == ingest.OriginLocal && o.publisher != nil && rec.Text != "" {
			sample := ingest.CuratedSample{
				ContentID: rec.ID,
				URL:       rec.URL,
				Source:    o.cfg.Source,
				Title:     rec.Title,
				TextHash:  rec.TextHash,
				Origin:    origin,
				QueuedAt:  o.clock.Now(),
			}
			if _, err := o.publisher.Publish(ctx, o.cfg.Topic, sample); err != nil {
				metrics.ObserveBatchRow("label", "failed")
				o.logger.Warn("sample publish failed", zap.Int64("content_id", rec.ID), zap.Error(err))
				continue // row stays cleaned; a later batch republishes
			}
		}
		if err := o.store.UpdateContentStatus(ctx, tx, rec.ID, ingest.ContentLabeled); err != nil {
			return err
		}
		metrics.ObserveBatchRow("label", "ok")
		o.emit("label", rec.URL, rec.ID, string(origin))
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit label batch: %w", err)
	}
	return nil
}
