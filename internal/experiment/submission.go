package experiment

import (
	"strings"
	"time"
)

const completionCodePrefix = "C-"
const completionCodeChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const completionCodeLen = 8

// NewCompletionCode mints a participant-facing receipt token. It carries no
// cryptographic guarantee and has no relationship to the payload content.
func NewCompletionCode(intn func(n int) int) string {
	if intn == nil {
		intn = CryptoIntn
	}
	var b strings.Builder
	b.WriteString(completionCodePrefix)
	for i := 0; i < completionCodeLen; i++ {
		b.WriteByte(completionCodeChars[intn(len(completionCodeChars))])
	}
	return b.String()
}

// SubmissionBuilder assembles the final payload from session, assignment,
// timing and answer state. It is a pure transform apart from the clock and
// the completion-code source, both injectable for tests.
type SubmissionBuilder struct {
	now  func() time.Time
	intn func(n int) int
}

func NewSubmissionBuilder() *SubmissionBuilder {
	return &SubmissionBuilder{
		now:  func() time.Time { return time.Now().UTC() },
		intn: CryptoIntn,
	}
}

// Build expands each raw numeric answer into a {numeric, label} pair keyed by
// question text, and mints the completion code.
func (b *SubmissionBuilder) Build(
	participantID string,
	consent ConsentState,
	ageGroup, gender string,
	assignment Assignment,
	metrics WatchMetrics,
	questions []string,
	answers map[int]int,
	clickedMoreInfo bool,
) (*SubmissionPayload, error) {
	responses := make(map[string]ResponseEntry, len(questions))
	for i, text := range questions {
		v, ok := answers[i]
		if !ok {
			return nil, ErrIncompleteResponses
		}
		label, err := LikertLabel(v)
		if err != nil {
			return nil, err
		}
		responses[text] = ResponseEntry{Numeric: v, Label: label}
	}

	return &SubmissionPayload{
		ParticipantID:   participantID,
		Consent:         consent == ConsentGranted,
		AgeGroup:        ageGroup,
		Gender:          gender,
		AssignedAdCode:  assignment.ArmCode,
		AssignedAdURL:   assignment.VideoRef,
		StartTime:       metrics.StartedAt,
		EndTime:         metrics.EndedAt,
		WatchSeconds:    metrics.WatchSeconds,
		ClickedMoreInfo: clickedMoreInfo,
		MoreInfoURL:     assignment.MoreInfoRef,
		Responses:       responses,
		Timestamp:       b.now(),
		CompletionCode:  NewCompletionCode(b.intn),
	}, nil
}
