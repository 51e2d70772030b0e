package usecase

import (
	"context"
	"errors"
	"fmt"

	"conversion-relay/internal/domain"
)

// ErrUnknownCampaign marks an attempt whose campaign id has no conversion
// action in the directory. The attempt is recorded but never uploaded.
var ErrUnknownCampaign = errors.New("unknown campaign id")

// ErrInvalidTransition is returned when a status change would leave the
// success state or return to new.
var ErrInvalidTransition = errors.New("invalid status transition")

type ConversionStore interface {
	PutConversion(ctx context.Context, doc domain.ConversionDocument) error
}

type CampaignDirectory interface {
	ConversionAction(ctx context.Context, campaignID string) (string, error)
}

type Uploader interface {
	UploadClickConversions(ctx context.Context, conversions []domain.ClickConversion, opts domain.UploadOptions) ([]domain.UploadResult, error)
}

// Conversion is one click-to-conversion record. Every status mutation is
// written through to the store before the method returns.
//
// A Conversion is not safe for concurrent use. Two Conversions with the same
// click id (a duplicate webhook racing a retry) overwrite each other's
// document; the last write wins.
type Conversion struct {
	doc      domain.ConversionDocument
	response []domain.UploadResult
	rec      *Recorder
}

func (c *Conversion) GCLID() string { return c.doc.Detail.GCLID }

func (c *Conversion) Detail() domain.Detail { return c.doc.Detail }

func (c *Conversion) Status() domain.Status { return c.doc.Status }

func (c *Conversion) Meta() domain.Meta { return c.doc.Meta }

// Response is the last raw upload result held by this instance only.
func (c *Conversion) Response() []domain.UploadResult { return c.response }

// Build resolves the conversion action from the campaign id and persists the
// result. An unknown campaign returns an error wrapping ErrUnknownCampaign and
// leaves the conversion action empty.
func (c *Conversion) Build(ctx context.Context) (*Conversion, error) {
	campaignID := c.doc.Meta.CampaignID
	action, err := c.rec.campaigns.ConversionAction(ctx, campaignID)
	if err != nil {
		if errors.Is(err, domain.ErrCampaignNotFound) {
			c.rec.logger.Error("unknown campaign id", "campaign_id", campaignID, "gclid", c.GCLID())
			return c, fmt.Errorf("%w: %q", ErrUnknownCampaign, campaignID)
		}
		return c, newError(ErrorInternal, "campaign_lookup_error", err)
	}

	c.doc.Detail.ConversionAction = action
	if err := c.Persist(ctx); err != nil {
		return c, err
	}
	return c, nil
}

// UpdateStatus sets the current status and message and persists.
func (c *Conversion) UpdateStatus(ctx context.Context, status domain.StatusCode, message string) (*Conversion, error) {
	if err := checkTransition(c.doc.Status.Current, status); err != nil {
		return c, newError(ErrorInternal, "invalid_status_transition", err)
	}
	c.doc.Status.Current = status
	c.doc.Status.Message = message
	if err := c.Persist(ctx); err != nil {
		return c, err
	}
	return c, nil
}

func checkTransition(from, to domain.StatusCode) error {
	switch {
	case to != domain.StatusSuccess && to != domain.StatusError:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	case from == domain.StatusSuccess && to != domain.StatusSuccess:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// LogAttempt stamps lastAttempt, increments attempts and persists. It runs
// before any network call of an attempt so a crash still counts.
func (c *Conversion) LogAttempt(ctx context.Context) (*Conversion, error) {
	ts := domain.FormatTimestamp(c.rec.now())
	c.doc.Status.LastAttempt = &ts
	c.doc.Status.Attempts++
	if err := c.Persist(ctx); err != nil {
		return c, err
	}
	return c, nil
}

// UploadPayload projects the detail block onto the upload shape.
func (c *Conversion) UploadPayload() domain.ClickConversion {
	d := c.doc.Detail
	out := domain.ClickConversion{
		GCLID:              d.GCLID,
		ConversionAction:   d.ConversionAction,
		ConversionDateTime: d.ConversionDateTime,
	}
	if d.OrderID != nil {
		out.OrderID = *d.OrderID
	}
	if d.ConversionValue != nil {
		out.ConversionValue = *d.ConversionValue
	}
	return out
}

// Fire runs one delivery attempt. Business rejections end in the error
// status with a nil error; transport and storage failures are returned.
func (c *Conversion) Fire(ctx context.Context) (*Conversion, error) {
	if _, err := c.LogAttempt(ctx); err != nil {
		return c, err
	}

	if _, err := c.Build(ctx); err != nil {
		if errors.Is(err, ErrUnknownCampaign) {
			return c.UpdateStatus(ctx, domain.StatusError, err.Error())
		}
		return c, err
	}

	results, err := c.rec.uploader.UploadClickConversions(ctx,
		[]domain.ClickConversion{c.UploadPayload()},
		domain.UploadOptions{
			ValidateOnly:   c.doc.Status.TestMode,
			PartialFailure: true,
		},
	)
	if err != nil {
		return c, newError(ErrorUpstream, "upload_error", err)
	}

	if _, err := c.ParseUploadResult(ctx, results); err != nil {
		return c, err
	}
	if err := c.Persist(ctx); err != nil {
		return c, err
	}
	return c, nil
}

// ParseUploadResult moves the conversion to success or error from the first
// upload result. An empty result set is reported as an upstream error and
// leaves the status untouched.
func (c *Conversion) ParseUploadResult(ctx context.Context, results []domain.UploadResult) (*Conversion, error) {
	c.response = results
	if len(results) == 0 {
		return c, newError(ErrorUpstream, "empty_upload_result", nil)
	}

	if pf := results[0].PartialFailureError; pf != nil {
		return c.UpdateStatus(ctx, domain.StatusError, pf.Message)
	}
	return c.UpdateStatus(ctx, domain.StatusSuccess,
		fmt.Sprintf("Conversion posted at %s", domain.FormatTimestamp(c.rec.now())))
}

// Snapshot returns the persisted document shape. The upload response is not
// part of it.
func (c *Conversion) Snapshot() domain.ConversionDocument {
	return c.doc
}

// Persist upserts the snapshot keyed by click id.
func (c *Conversion) Persist(ctx context.Context) error {
	if err := c.rec.store.PutConversion(ctx, c.Snapshot()); err != nil {
		return newError(ErrorInternal, "dynamodb_write_error", err)
	}
	return nil
}
