package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"conversion-relay/internal/domain"
)

// failureMessage is stored on a conversion whose attempt ended in a transport
// or storage failure. The full error only goes to the logs.
const failureMessage = "the request failed to complete, see logs for details"

// Recorder creates conversions bound to their store, campaign directory and
// uploader.
type Recorder struct {
	store     ConversionStore
	campaigns CampaignDirectory
	uploader  Uploader
	logger    *slog.Logger
	now       func() time.Time
	testMode  bool
}

type RecorderOption func(*Recorder)

func WithLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// WithTestMode makes new conversions validate-only uploads.
func WithTestMode(testMode bool) RecorderOption {
	return func(r *Recorder) {
		r.testMode = testMode
	}
}

func NewRecorder(store ConversionStore, campaigns CampaignDirectory, uploader Uploader, opts ...RecorderOption) (*Recorder, error) {
	if store == nil {
		return nil, errors.New("usecase: conversion store must not be nil")
	}
	if campaigns == nil {
		return nil, errors.New("usecase: campaign directory must not be nil")
	}
	if uploader == nil {
		return nil, errors.New("usecase: uploader must not be nil")
	}
	r := &Recorder{
		store:     store,
		campaigns: campaigns,
		uploader:  uploader,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Load rebinds a stored document, keeping its status and attempt count.
func (r *Recorder) Load(doc domain.ConversionDocument) *Conversion {
	return &Conversion{doc: doc, rec: r}
}

// New starts a conversion from inbound request parameters.
func (r *Recorder) New(p RequestParams) *Conversion {
	return r.Load(NewConversionFromRequest(p, r.now(), r.testMode))
}

// Record creates and fires a conversion for an inbound request. When the
// attempt fails outright the conversion is marked as errored with a generic
// message and the failure is returned.
func (r *Recorder) Record(ctx context.Context, p RequestParams) (*Conversion, error) {
	c := r.New(p)
	if _, err := c.Fire(ctx); err != nil {
		r.logger.Error("conversion upload failed", "gclid", c.GCLID(), "campaign_id", p.CampaignID, "err", err)
		if _, uerr := c.UpdateStatus(ctx, domain.StatusError, failureMessage); uerr != nil {
			r.logger.Error("failed to record conversion failure", "gclid", c.GCLID(), "err", uerr)
		}
		return c, err
	}
	r.logger.Info("conversion recorded",
		"gclid", c.GCLID(),
		"status", c.Status().Current,
		"attempts", c.Status().Attempts,
	)
	return c, nil
}
