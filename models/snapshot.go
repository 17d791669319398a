package models

import "time"

type Anomaly struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Level   string `json:"level"`
}

type Forecast struct {
	Predicted  int     `json:"predicted"`
	Confidence float64 `json:"confidence"`
}

type Safety struct {
	Score  int      `json:"score"`
	Rating string   `json:"rating"`
	Notes  []string `json:"notes"`
}

type Headway struct {
	Meters  *float64 `json:"headwayMeters"`
	AheadID *string  `json:"headwayAheadId"`
	Seconds *float64 `json:"headwaySeconds"`
	Text    string   `json:"headwayText"`
}

// EnrichedBus is the read-only projection of one bus inside a snapshot.
type EnrichedBus struct {
	ID            string   `json:"id"`
	Lat           float64  `json:"lat"`
	Lng           float64  `json:"lng"`
	Passengers    int      `json:"passengers"`
	Capacity      int      `json:"capacity"`
	TargetStation *string  `json:"targetStation"`
	TargetLat     *float64 `json:"targetLat,omitempty"`
	TargetLng     *float64 `json:"targetLng,omitempty"`
	Route         []LatLng `json:"route"`
	ETASeconds    *float64 `json:"etaSeconds"`
	ETAText       *string  `json:"etaText"`

	IsAtStation    bool    `json:"isAtStation"`
	CurrentStation *string `json:"currentStation"`

	Movement         string    `json:"movement"`
	CrowdFlow        string    `json:"crowdFlow"`
	CrowdExplanation string    `json:"crowdExplanation"`
	Anomalies        []Anomaly `json:"anomalies"`
	AlertLevel       string    `json:"alertLevel"`
	AlertMessage     string    `json:"alertMessage"`

	Predicted          int     `json:"predicted"`
	Predicted5Min      int     `json:"predicted5min"`
	Predicted10Min     int     `json:"predicted10min"`
	Risk5Min           string  `json:"risk5min"`
	Risk10Min          string  `json:"risk10min"`
	ForecastConfidence float64 `json:"forecastConfidence"`

	DelayState   string `json:"delayState"`
	DelayReason  string `json:"delayReason"`
	DrivePattern string `json:"drivePattern"`

	SafetyScore  int      `json:"safetyScore"`
	SafetyRating string   `json:"safetyRating"`
	SafetyNotes  []string `json:"safetyNotes"`

	Headway

	UpdatedAt time.Time `json:"updatedAt"`
}

type Snapshot struct {
	GeneratedAt time.Time     `json:"generatedAt"`
	Buses       []EnrichedBus `json:"buses"`
}
