package usecase

import (
	"maps"
	"strings"
	"time"

	"conversion-relay/internal/domain"
)

// Inbound query parameter names of the conversion webhook.
const (
	ParamCampaignID      = "cid"
	ParamGCLID           = "gclid"
	ParamOrderID         = "oid"
	ParamConversionValue = "v"
)

// RequestParams are the inbound values a new conversion is built from.
// OrderID and ConversionValue are nil when the parameter was absent.
type RequestParams struct {
	CampaignID      string
	GCLID           string
	OrderID         *string
	ConversionValue *string
	URL             string
	Query           map[string]string
}

// ParamsFromQuery maps the webhook query onto RequestParams. The query is
// kept verbatim for diagnostics.
func ParamsFromQuery(url string, query map[string]string) RequestParams {
	p := RequestParams{
		CampaignID: query[ParamCampaignID],
		GCLID:      query[ParamGCLID],
		URL:        url,
		Query:      maps.Clone(query),
	}
	if v, ok := query[ParamOrderID]; ok {
		p.OrderID = &v
	}
	if v, ok := query[ParamConversionValue]; ok {
		p.ConversionValue = &v
	}
	if p.Query == nil {
		p.Query = map[string]string{}
	}
	return p
}

// Validate reports a missing campaign id or click id.
func (p RequestParams) Validate() error {
	if strings.TrimSpace(p.CampaignID) == "" {
		return newError(ErrorInvalidInput, "missing_cid", nil)
	}
	if strings.TrimSpace(p.GCLID) == "" {
		return newError(ErrorInvalidInput, "missing_gclid", nil)
	}
	return nil
}

// NewConversionFromRequest builds the initial document of a conversion. It
// does not validate p; see RequestParams.Validate.
func NewConversionFromRequest(p RequestParams, now time.Time, testMode bool) domain.ConversionDocument {
	stamp := domain.FormatTimestamp(now)
	return domain.ConversionDocument{
		Detail: domain.Detail{
			GCLID:              p.GCLID,
			ConversionDateTime: stamp,
			OrderID:            p.OrderID,
			ConversionValue:    p.ConversionValue,
		},
		Status: domain.Status{
			Current:  domain.StatusNew,
			TestMode: testMode,
		},
		Meta: domain.Meta{
			CampaignID: p.CampaignID,
			URL:        p.URL,
			Date:       stamp,
			Query:      p.Query,
		},
	}
}
