package experiment

// Questionnaire holds the ordered question sequence for the assigned arm and
// the in-progress answer map. It enforces answer-before-advance and
// full-completion-before-submit.
type Questionnaire struct {
	questions []string
	answers   map[int]int
	pos       int
}

func NewQuestionnaire(questions []string) *Questionnaire {
	qs := make([]string, len(questions))
	copy(qs, questions)
	return &Questionnaire{questions: qs, answers: map[int]int{}}
}

// Answer records a Likert value for a question index. Overwriting a prior
// answer is allowed; participants may change their mind.
func (q *Questionnaire) Answer(index, value int) error {
	if index < 0 || index >= len(q.questions) {
		return NewInvalidError("question index out of range")
	}
	if value < 1 || value > LikertPoints {
		return ErrValueOutOfScale
	}
	q.answers[index] = value
	return nil
}

// AnswerCurrent records a value for the question at the pointer.
func (q *Questionnaire) AnswerCurrent(value int) error {
	return q.Answer(q.pos, value)
}

// Advance moves the pointer forward one position. The current question must
// be answered first; the pointer never passes the last question.
func (q *Questionnaire) Advance() error {
	if _, ok := q.answers[q.pos]; !ok {
		return ErrUnansweredQuestion
	}
	if q.pos < len(q.questions)-1 {
		q.pos++
	}
	return nil
}

// Retreat moves the pointer back one position. Going back never requires an
// answer; at position zero it is a no-op.
func (q *Questionnaire) Retreat() {
	if q.pos > 0 {
		q.pos--
	}
}

// IsComplete reports whether every question holds an answer. An empty
// sequence is trivially complete.
func (q *Questionnaire) IsComplete() bool {
	for i := range q.questions {
		if _, ok := q.answers[i]; !ok {
			return false
		}
	}
	return true
}

func (q *Questionnaire) Pos() int { return q.pos }

func (q *Questionnaire) Len() int { return len(q.questions) }

// Current returns the question at the pointer, or false for an empty sequence.
func (q *Questionnaire) Current() (string, bool) {
	if len(q.questions) == 0 {
		return "", false
	}
	return q.questions[q.pos], true
}

// CurrentAnswer returns the recorded value at the pointer, if any.
func (q *Questionnaire) CurrentAnswer() (int, bool) {
	v, ok := q.answers[q.pos]
	return v, ok
}

// Questions returns a copy of the ordered sequence.
func (q *Questionnaire) Questions() []string {
	out := make([]string, len(q.questions))
	copy(out, q.questions)
	return out
}

// Answers returns a copy of the answer map.
func (q *Questionnaire) Answers() map[int]int {
	out := make(map[int]int, len(q.answers))
	for k, v := range q.answers {
		out[k] = v
	}
	return out
}
