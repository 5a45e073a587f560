package experiment

import (
	"encoding/json"
	"os"
	"time"
)

// Stage is the lifecycle position of a participant session.
type Stage string

const (
	StageConsent      Stage = "consent"
	StageDemographics Stage = "demographics"
	StageVideo        Stage = "video"
	StageQuestions    Stage = "questions"
	StageComplete     Stage = "complete"
	StageExit         Stage = "exit"
)

// Terminal reports whether no further transitions are possible.
func (s Stage) Terminal() bool { return s == StageComplete || s == StageExit }

// ConsentState is tri-state: a session starts with no recorded choice.
type ConsentState int

const (
	ConsentUnset ConsentState = iota
	ConsentGranted
	ConsentDeclined
)

// Arm is one advertisement treatment variant.
type Arm struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	VideoURL    string `json:"video_url"`
	MoreInfoURL string `json:"more_info_url"`
}

// Assignment is the arm drawn for a session. Drawn once, immutable after.
type Assignment struct {
	ArmCode     string
	VideoRef    string
	MoreInfoRef string
}

// WatchMetrics captures the instrumented exposure window. EndedAt is set if
// and only if the playback component reported its terminal ended event.
// WatchSeconds is nil when the provider could not report a playhead position.
type WatchMetrics struct {
	StartedAt    time.Time
	EndedAt      time.Time
	WatchSeconds *int
}

// LikertPoints is the fixed number of points on the agreement scale.
const LikertPoints = 5

// LikertLabels maps value v (1-based) to LikertLabels[v-1].
var LikertLabels = [LikertPoints]string{
	"Strongly disagree",
	"Disagree",
	"Neutral",
	"Agree",
	"Strongly agree",
}

// LikertLabel returns the agreement label for a scale value.
func LikertLabel(value int) (string, error) {
	if value < 1 || value > LikertPoints {
		return "", ErrValueOutOfScale
	}
	return LikertLabels[value-1], nil
}

// LikertValue reverses LikertLabel.
func LikertValue(label string) (int, error) {
	for i, l := range LikertLabels {
		if l == label {
			return i + 1, nil
		}
	}
	return 0, ErrValueOutOfScale
}

// ResponseEntry is the denormalized form of one answered question. Carrying
// the label makes the stored record self-describing without the sink knowing
// the scale.
type ResponseEntry struct {
	Numeric int    `json:"numeric"`
	Label   string `json:"label"`
}

// SubmissionPayload is the single write-once record a completed session emits.
// Field names follow the wire format the study's collection endpoint accepts.
type SubmissionPayload struct {
	ParticipantID   string                   `json:"participantId"`
	Consent         bool                     `json:"consent"`
	AgeGroup        string                   `json:"ageGroup"`
	Gender          string                   `json:"gender"`
	AssignedAdCode  string                   `json:"assignedAdCode"`
	AssignedAdURL   string                   `json:"assignedAdURL"`
	StartTime       time.Time                `json:"startTime"`
	EndTime         time.Time                `json:"endTime"`
	WatchSeconds    *int                     `json:"watchSeconds"`
	ClickedMoreInfo bool                     `json:"clickedMoreInfo"`
	MoreInfoURL     string                   `json:"moreInfoURL"`
	Responses       map[string]ResponseEntry `json:"responses"`
	Timestamp       time.Time                `json:"timestamp"`
	CompletionCode  string                   `json:"completionCode"`
}

// DefaultArms is the study's built-in advertisement catalogue.
func DefaultArms() []Arm {
	return []Arm{
		{Code: "CE", Name: "Celebrity Endorsement", VideoURL: "https://www.youtube.com/watch?v=CsCqkkjF-8E", MoreInfoURL: "https://www.sansaar.co.in/products"},
		{Code: "AC", Name: "Ad Creativity", VideoURL: "http://youtube.com/shorts/cixvzLa0d1c", MoreInfoURL: "https://www.amazon.in/stores/BIC-Cello/page/A84B777B-6C4A-43D2-9A96-0C8FF334DA33"},
		{Code: "PP", Name: "Price Perception", VideoURL: "https://www.youtube.com/watch?v=1ihGeitBI_4&t=42s", MoreInfoURL: "https://www.mi.com/in/product-list/tv/"},
		{Code: "BT", Name: "Brand Trust", VideoURL: "https://www.youtube.com/watch?v=LcGPI2tV2yY", MoreInfoURL: "https://www.apple.com/in/"},
		{Code: "ST", Name: "Storytelling", VideoURL: "https://www.youtube.com/watch?v=JDk3GQkTyN4", MoreInfoURL: "https://havells.com/home-electricals/flexible-cables.html"},
	}
}

// LoadArmsFile reads an arm catalogue from a JSON file. An unreadable or
// empty catalogue is a configuration fault, fatal at startup.
func LoadArmsFile(path string) ([]Arm, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var arms []Arm
	if err := json.Unmarshal(b, &arms); err != nil {
		return nil, err
	}
	if len(arms) == 0 {
		return nil, ErrEmptyArmSet
	}
	return arms, nil
}
