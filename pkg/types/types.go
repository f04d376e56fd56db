package types

import "time"

// Sample is one timestamped observation of the tracked holder count.
type Sample struct {
	ObservedAt time.Time `json:"observedAt"`
	Value      int64     `json:"value"`
	// Delta is Value minus the value of the preceding stored sample, 0 for the first.
	Delta int64 `json:"delta"`
	// Synthetic marks baseline points created by seeding, not by an upstream reading.
	Synthetic bool `json:"synthetic,omitempty"`
}

// Activity levels derived from short-window changes.
const (
	ActivityHigh     = "High"
	ActivityModerate = "Moderate"
	ActivityStable   = "Stable"
)

// Stats is a point-in-time projection of the history.
type Stats struct {
	Current     int64     `json:"current"`
	Change1h    int64     `json:"change1h"`
	Change4h    int64     `json:"change4h"`
	Change24h   int64     `json:"change24h"`
	Change7d    int64     `json:"change7d"`
	ATH         int64     `json:"ath"`
	Activity    string    `json:"activity"`
	SampleCount int       `json:"sampleCount"`
	AsOf        time.Time `json:"asOf"`
}

// Report sentiments.
const (
	SentimentBullish = "Bullish"
	SentimentNeutral = "Neutral"
	SentimentBearish = "Bearish"
)

// Report is the structured output of the summarization collaborator.
type Report struct {
	Sentiment      string    `json:"sentiment"`
	Summary        string    `json:"summary"`
	Recommendation string    `json:"recommendation"`
	KeyObservation string    `json:"keyObservation"`
	GeneratedAt    time.Time `json:"generatedAt"`
	// Default is true when the report is the fixed fallback, not a real summary.
	Default bool `json:"default"`
}

// DefaultReport returns the neutral report used whenever summarization fails.
func DefaultReport(now time.Time) Report {
	return Report{
		Sentiment:      SentimentNeutral,
		Summary:        "Market analysis is currently recalibrating due to high demand.",
		Recommendation: "Observe the holder count trend manually.",
		KeyObservation: "System is protecting API quotas.",
		GeneratedAt:    now,
		Default:        true,
	}
}
