package model

import "sort"

// Label is a single detected label
type Label struct {
	Name       string  `json:"Name"`
	Confidence float64 `json:"Confidence"`
}

// LabelSet is the label detection artifact written by the pipeline
type LabelSet struct {
	Labels            []Label `json:"Labels"`
	LabelModelVersion string  `json:"LabelModelVersion,omitempty"`
}

// SentimentScore holds fractional sentiment values in [0, 1]
type SentimentScore struct {
	Mixed    float64 `json:"Mixed"`
	Negative float64 `json:"Negative"`
	Neutral  float64 `json:"Neutral"`
	Positive float64 `json:"Positive"`
}

// Sentiment is a sentiment classification with its score breakdown
type Sentiment struct {
	Sentiment      string         `json:"Sentiment"` // POSITIVE, NEGATIVE, NEUTRAL, MIXED
	SentimentScore SentimentScore `json:"SentimentScore"`
}

// ResultDocument is the consolidated analysis output the client polls for.
// Polly is base64 encoded on the wire since it is a []byte.
type ResultDocument struct {
	Rekognition *LabelSet       `json:"rekognition"`
	Sentiment   *SentimentScore `json:"sentiment,omitempty"`
	Polly       []byte          `json:"polly"`
}

// Labels returns the detected labels ordered by descending confidence
func (d *ResultDocument) Labels() []Label {
	if d == nil || d.Rekognition == nil {
		return nil
	}
	labels := make([]Label, len(d.Rekognition.Labels))
	copy(labels, d.Rekognition.Labels)
	sort.SliceStable(labels, func(i, j int) bool {
		return labels[i].Confidence > labels[j].Confidence
	})
	return labels
}

// TopLabel returns the most confident label. Ties go to the later label.
func (s *LabelSet) TopLabel() (Label, bool) {
	var (
		best  Label
		found bool
	)
	if s == nil {
		return best, false
	}
	for _, l := range s.Labels {
		if !found || l.Confidence >= best.Confidence {
			best = l
			found = true
		}
	}
	return best, found
}
