package backend

type GenerateRequest struct {
	Selfie      string // data URI or URL
	Prompt      string
	ReferenceID string
}

type EditRequest struct {
	Image       string // the current generated image, data URI or URL
	Instruction string
	ReferenceID string
}

// Result is a generated or edited image plus its optional download artifact.
type Result struct {
	Image    string
	Artifact string
}

// TransientReason explains why a video job is still not done when the
// backend is under strain. It never ends a poll loop on its own.
type TransientReason string

const (
	TransientNone          TransientReason = ""
	TransientRateLimited   TransientReason = "rate-limited"
	TransientJobNotVisible TransientReason = "job-not-visible"
	TransientBackendError  TransientReason = "backend-error"
	TransientUnavailable   TransientReason = "backend-unavailable"
)

// VideoStatus is one classified poll answer:
//
//	{Done: false}                      still processing
//	{Done: false, Transient: r}        still processing, degraded
//	{Done: true, Video: v}             finished
//	{Done: true, FailureReason: r}     failed for good
type VideoStatus struct {
	Done          bool
	Transient     TransientReason
	Video         string
	Artifact      string
	FailureReason string
}

type imageResponse struct {
	ImageData string `json:"imageData"`
	QRCode    string `json:"qrCode"`
}

type submitVideoRequest struct {
	ImageDataURI string `json:"imageDataUri,omitempty"`
	ImageURL     string `json:"imageUrl,omitempty"`
}

type submitVideoResponse struct {
	JobID string `json:"jobId"`
}

type videoStatusResponse struct {
	Status   string `json:"status"`
	VideoURL string `json:"videoUrl"`
	QRCode   string `json:"qrCode"`
	Error    string `json:"error"`
}

type suggestResponse struct {
	Prompts []string `json:"prompts"`
}
