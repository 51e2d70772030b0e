package domain

// ClickConversion is the platform representation of a conversion submitted
// for upload. Fields are projected from Detail without transformation.
type ClickConversion struct {
	GCLID              string
	ConversionAction   string
	ConversionDateTime string
	OrderID            string
	ConversionValue    string
}

// UploadOptions are the per-call flags of a click conversion upload.
type UploadOptions struct {
	// ValidateOnly asks the platform to validate without recording.
	ValidateOnly bool
	// PartialFailure makes the platform report per-item rejections in the
	// response instead of failing the whole call.
	PartialFailure bool
}

// PartialFailure is a per-item business rejection reported by the platform.
type PartialFailure struct {
	Code    int
	Message string
}

// UploadResult is the outcome of one submitted conversion. A nil
// PartialFailureError means the platform accepted the item.
type UploadResult struct {
	GCLID               string
	ConversionAction    string
	ConversionDateTime  string
	PartialFailureError *PartialFailure
}
