package googleads

import (
	"encoding/json"
	"strings"

	"conversion-relay/internal/domain"
)

type uploadRequest struct {
	Conversions    []clickConversion `json:"conversions"`
	PartialFailure bool              `json:"partialFailure"`
	ValidateOnly   bool              `json:"validateOnly"`
}

// clickConversion mirrors the REST ClickConversion message. The value is
// forwarded as a raw JSON number so the caller's string is not reformatted.
type clickConversion struct {
	GCLID              string      `json:"gclid"`
	ConversionAction   string      `json:"conversionAction"`
	ConversionDateTime string      `json:"conversionDateTime"`
	ConversionValue    json.Number `json:"conversionValue,omitempty"`
	OrderID            string      `json:"orderId,omitempty"`
}

type uploadResponse struct {
	PartialFailureError *rpcStatus `json:"partialFailureError"`
	Results             []struct {
		GCLID              string `json:"gclid"`
		ConversionAction   string `json:"conversionAction"`
		ConversionDateTime string `json:"conversionDateTime"`
	} `json:"results"`
}

type rpcStatus struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details []struct {
		Errors []struct {
			Location struct {
				FieldPathElements []fieldPathElement `json:"fieldPathElements"`
			} `json:"location"`
		} `json:"errors"`
	} `json:"details"`
}

type fieldPathElement struct {
	FieldName string `json:"fieldName"`
	Index     *int   `json:"index"`
}

func newUploadRequest(conversions []domain.ClickConversion, opts domain.UploadOptions) uploadRequest {
	out := uploadRequest{
		Conversions:    make([]clickConversion, 0, len(conversions)),
		PartialFailure: opts.PartialFailure,
		ValidateOnly:   opts.ValidateOnly,
	}
	for _, c := range conversions {
		out.Conversions = append(out.Conversions, clickConversion{
			GCLID:              c.GCLID,
			ConversionAction:   c.ConversionAction,
			ConversionDateTime: c.ConversionDateTime,
			ConversionValue:    json.Number(strings.TrimSpace(c.ConversionValue)),
			OrderID:            c.OrderID,
		})
	}
	return out
}

// toResults spreads the response over the submitted items. Item locations in
// the error details only decide which items failed; every failed item carries
// the top-level partial failure message. A partial failure without any item
// location is attached to every item.
func (r uploadResponse) toResults(submitted []domain.ClickConversion) []domain.UploadResult {
	results := make([]domain.UploadResult, len(submitted))
	for i := range results {
		if i < len(r.Results) && r.Results[i].GCLID != "" {
			results[i].GCLID = r.Results[i].GCLID
			results[i].ConversionAction = r.Results[i].ConversionAction
			results[i].ConversionDateTime = r.Results[i].ConversionDateTime
		} else {
			results[i].GCLID = submitted[i].GCLID
		}
	}

	pf := r.PartialFailureError
	if pf == nil || (pf.Code == 0 && pf.Message == "") {
		return results
	}

	located := false
	for _, d := range pf.Details {
		for _, e := range d.Errors {
			idx, ok := conversionIndex(e.Location.FieldPathElements)
			if !ok || idx < 0 || idx >= len(results) {
				continue
			}
			located = true
			if results[idx].PartialFailureError == nil {
				results[idx].PartialFailureError = &domain.PartialFailure{Code: pf.Code, Message: pf.Message}
			}
		}
	}
	if !located {
		for i := range results {
			results[i].PartialFailureError = &domain.PartialFailure{Code: pf.Code, Message: pf.Message}
		}
	}
	return results
}

func conversionIndex(path []fieldPathElement) (int, bool) {
	for _, el := range path {
		if el.FieldName == "conversions" && el.Index != nil {
			return *el.Index, true
		}
	}
	return 0, false
}
