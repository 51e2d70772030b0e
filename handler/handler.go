package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"conversion-relay/internal/domain"
	"conversion-relay/internal/usecase"
)

// Plain-text acknowledgments returned to callers.
const (
	ackSuccess       = "success"
	ackSilentError   = "error - request silently errored"
	ackFailure       = "error - getConversionAction"
	ackMissingParam  = "error - missing required parameter"
	ackDone          = "success."
	ackFailed        = "error."
	ackInvalidEvent  = "error - invalid event"
	ackNotFound      = "error - not found"
	ackMethodInvalid = "error - method not allowed"
)

const (
	routeUpload    = "uploadConversion"
	routeRetry     = "retryConversions"
	routeCampaigns = "campaigns"

	paramCampaignName = "name"
	scheduledSource   = "aws.events"
	correlationHeader = "X-Correlation-Id"
)

type ConversionRecorder interface {
	Record(ctx context.Context, p usecase.RequestParams) (*usecase.Conversion, error)
}

type RetryRunner interface {
	Scan(ctx context.Context) (usecase.ScanReport, error)
}

type CampaignSeeder interface {
	PutCampaign(ctx context.Context, c domain.Campaign) error
}

// Handler dispatches API Gateway requests and scheduled EventBridge events.
type Handler struct {
	recorder  ConversionRecorder
	retries   RetryRunner
	campaigns CampaignSeeder
	logger    *slog.Logger
}

// NewHandler builds a Handler. A nil campaigns seeder disables the /campaigns
// route.
func NewHandler(recorder ConversionRecorder, retries RetryRunner, campaigns CampaignSeeder, logger *slog.Logger) (*Handler, error) {
	if recorder == nil {
		return nil, errors.New("handler: recorder must not be nil")
	}
	if retries == nil {
		return nil, errors.New("handler: retry runner must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{recorder: recorder, retries: retries, campaigns: campaigns, logger: logger}, nil
}

// scheduledProbe holds the fields that tell an EventBridge event apart from
// an API Gateway request.
type scheduledProbe struct {
	Source     string `json:"source"`
	DetailType string `json:"detail-type"`
}

func (h *Handler) Handle(ctx context.Context, raw json.RawMessage) (events.APIGatewayProxyResponse, error) {
	var probe scheduledProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		h.logger.Warn("undecodable event", "err", err)
		return textResponse(http.StatusBadRequest, "", ackInvalidEvent), nil
	}
	if probe.Source == scheduledSource {
		return h.handleScheduled(ctx, probe), nil
	}

	var req events.APIGatewayProxyRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		h.logger.Warn("undecodable request", "err", err)
		return textResponse(http.StatusBadRequest, "", ackInvalidEvent), nil
	}
	return h.HandleRequest(ctx, req), nil
}

func (h *Handler) HandleRequest(ctx context.Context, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := h.logger.With("correlation_id", correlationID, "path", req.Path)

	switch path.Base(req.Path) {
	case routeUpload:
		if !allowMethod(req.HTTPMethod, http.MethodGet, http.MethodPost) {
			return textResponse(http.StatusMethodNotAllowed, correlationID, ackMethodInvalid)
		}
		return h.uploadConversion(ctx, logger, correlationID, req)
	case routeRetry:
		if !allowMethod(req.HTTPMethod, http.MethodGet, http.MethodPost) {
			return textResponse(http.StatusMethodNotAllowed, correlationID, ackMethodInvalid)
		}
		return h.retryConversions(ctx, logger, correlationID)
	case routeCampaigns:
		if h.campaigns == nil {
			return textResponse(http.StatusNotFound, correlationID, ackNotFound)
		}
		if !allowMethod(req.HTTPMethod, http.MethodPost) {
			return textResponse(http.StatusMethodNotAllowed, correlationID, ackMethodInvalid)
		}
		return h.seedCampaign(ctx, logger, correlationID, req)
	default:
		return textResponse(http.StatusNotFound, correlationID, ackNotFound)
	}
}

func (h *Handler) uploadConversion(ctx context.Context, logger *slog.Logger, correlationID string, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	p := usecase.ParamsFromQuery(originURL(req), req.QueryStringParameters)
	if err := p.Validate(); err != nil {
		logger.Warn("rejected conversion request", "err", err)
		return textResponse(http.StatusBadRequest, correlationID, ackMissingParam)
	}

	c, err := h.recorder.Record(ctx, p)
	if err != nil {
		logger.Error("conversion request failed", "gclid", p.GCLID, "campaign_id", p.CampaignID, "err", err)
		return textResponse(statusForError(err), correlationID, ackFailure)
	}
	if c.Status().Current == domain.StatusError {
		return textResponse(http.StatusOK, correlationID, ackSilentError)
	}
	return textResponse(http.StatusOK, correlationID, ackSuccess)
}

func (h *Handler) retryConversions(ctx context.Context, logger *slog.Logger, correlationID string) events.APIGatewayProxyResponse {
	report, err := h.retries.Scan(ctx)
	if err != nil {
		logger.Error("retry scan failed", "err", err)
		return textResponse(statusForError(err), correlationID, ackFailed)
	}
	logProcessed(logger, report)
	return textResponse(http.StatusOK, correlationID, ackDone)
}

func (h *Handler) handleScheduled(ctx context.Context, probe scheduledProbe) events.APIGatewayProxyResponse {
	logger := h.logger.With("source", probe.Source, "detail_type", probe.DetailType)
	report, err := h.retries.Scan(ctx)
	if err != nil {
		logger.Error("scheduled retry scan failed", "err", err)
		return textResponse(http.StatusInternalServerError, "", ackFailed)
	}
	logProcessed(logger, report)
	return textResponse(http.StatusOK, "", ackDone)
}

func (h *Handler) seedCampaign(ctx context.Context, logger *slog.Logger, correlationID string, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	campaign := domain.Campaign{
		CampaignID: strings.TrimSpace(req.QueryStringParameters[usecase.ParamCampaignID]),
		Name:       strings.TrimSpace(req.QueryStringParameters[paramCampaignName]),
	}
	if campaign.CampaignID == "" || campaign.Name == "" {
		return textResponse(http.StatusBadRequest, correlationID, ackMissingParam)
	}
	if err := h.campaigns.PutCampaign(ctx, campaign); err != nil {
		logger.Error("campaign seed failed", "campaign_id", campaign.CampaignID, "err", err)
		return textResponse(http.StatusInternalServerError, correlationID, ackFailed)
	}
	logger.Info("campaign seeded", "campaign_id", campaign.CampaignID)
	return textResponse(http.StatusOK, correlationID, ackDone)
}

func logProcessed(logger *slog.Logger, report usecase.ScanReport) {
	logger.Info(fmt.Sprintf("processed %d conversions", report.Attempted),
		"count", report.Attempted,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"skipped", report.Skipped,
	)
}

func statusForError(err error) int {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError
	}
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// originURL rebuilds the URL the webhook was called with.
func originURL(req events.APIGatewayProxyRequest) string {
	u := url.URL{
		Scheme: "https",
		Host:   headerValue(req.Headers, "Host"),
		Path:   req.Path,
	}
	if len(req.MultiValueQueryStringParameters) > 0 {
		u.RawQuery = url.Values(req.MultiValueQueryStringParameters).Encode()
	} else if len(req.QueryStringParameters) > 0 {
		q := url.Values{}
		for k, v := range req.QueryStringParameters {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func allowMethod(method string, allowed ...string) bool {
	for _, m := range allowed {
		if strings.EqualFold(method, m) {
			return true
		}
	}
	return false
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func textResponse(status int, correlationID, body string) events.APIGatewayProxyResponse {
	headers := map[string]string{"Content-Type": "text/plain; charset=utf-8"}
	if correlationID != "" {
		headers[correlationHeader] = correlationID
	}
	return events.APIGatewayProxyResponse{StatusCode: status, Headers: headers, Body: body}
}
