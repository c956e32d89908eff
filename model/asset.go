package model

// DefaultContentType is sent when an asset does not declare its own type.
const DefaultContentType = "application/octet-stream"

// Asset is a captured file ready for upload. It is not modified after capture.
type Asset struct {
	Filename    string
	ContentType string
	Data        []byte
	Preview     string // preview reference handed back to the view layer
}

// PresignedTarget is the single-use upload destination issued by the API
type PresignedTarget struct {
	PutURL     string `json:"put_object_url"`
	ResultsURL string `json:"results_url"`
}

// Size returns the asset length in bytes
func (a *Asset) Size() int64 {
	if a == nil {
		return 0
	}
	return int64(len(a.Data))
}

// UploadContentType returns the declared content type or DefaultContentType.
func (a *Asset) UploadContentType() string {
	if a == nil || a.ContentType == "" {
		return DefaultContentType
	}
	return a.ContentType
}
