package model

// DefaultLanguage is used when feedback arrives without a language code
const DefaultLanguage = "en"

// FeedbackBody is the free-text comment a user sends about a result
type FeedbackBody struct {
	Language string `json:"lang"`
	Comment  string `json:"comment"`
}

// FeedbackDocument is the analyzed comment returned by the feedback endpoint
type FeedbackDocument struct {
	Sentiment *Sentiment `json:"sentiment"`
	Comment   string     `json:"comment"`
}
