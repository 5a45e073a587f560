package experiment

// ArmView is the participant-visible slice of an assignment.
type ArmView struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	VideoURL    string `json:"video_url"`
	MoreInfoURL string `json:"more_info_url"`
}

// QuestionView is the question currently under the pointer.
type QuestionView struct {
	Index  int    `json:"index"`
	Total  int    `json:"total"`
	Text   string `json:"text"`
	Answer *int   `json:"answer,omitempty"`
}

// Snapshot is the controller's boundary towards the rendering layer.
type Snapshot struct {
	ParticipantID   string        `json:"participant_id"`
	Stage           Stage         `json:"stage"`
	Progress        int           `json:"progress"`
	AgeGroup        string        `json:"age_group,omitempty"`
	Gender          string        `json:"gender,omitempty"`
	Arm             *ArmView      `json:"arm,omitempty"`
	Question        *QuestionView `json:"question,omitempty"`
	ClickedMoreInfo bool          `json:"clicked_more_info"`
	CompletionCode  string        `json:"completion_code,omitempty"`
	PlayerFault     bool          `json:"player_fault,omitempty"`
}

// Snapshot returns the current participant-visible state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ParticipantID:   s.id,
		Stage:           s.stage,
		AgeGroup:        s.ageGroup,
		Gender:          s.gender,
		ClickedMoreInfo: s.clickedMoreInfo,
		CompletionCode:  s.completionCode,
		PlayerFault:     s.playerFault,
	}
	if s.assignment != nil {
		name := s.assignment.ArmCode
		for _, a := range s.cfg.Arms {
			if a.Code == s.assignment.ArmCode {
				name = a.Name
				break
			}
		}
		snap.Arm = &ArmView{
			Code:        s.assignment.ArmCode,
			Name:        name,
			VideoURL:    s.assignment.VideoRef,
			MoreInfoURL: s.assignment.MoreInfoRef,
		}
	}
	if s.stage == StageQuestions && s.questionnaire != nil {
		if text, ok := s.questionnaire.Current(); ok {
			q := &QuestionView{Index: s.questionnaire.Pos(), Total: s.questionnaire.Len(), Text: text}
			if v, answered := s.questionnaire.CurrentAnswer(); answered {
				q.Answer = &v
			}
			snap.Question = q
		}
	}
	snap.Progress = s.progressLocked()
	return snap
}

// progressLocked mirrors the study UI's progress bar semantics.
func (s *Session) progressLocked() int {
	switch s.stage {
	case StageConsent:
		return 10
	case StageDemographics:
		return 30
	case StageVideo:
		return 60
	case StageQuestions:
		if s.questionnaire == nil || s.questionnaire.Len() == 0 {
			return 80
		}
		return 80 + (s.questionnaire.Pos()*20)/s.questionnaire.Len()
	case StageComplete, StageExit:
		return 100
	}
	return 0
}
