package research

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/adresearch/adtrial/internal/experiment"
)

// TokenSigner mints a bearer token for an authenticated operator.
type TokenSigner func(subject string, ttl time.Duration) (string, error)

// OperatorService gates the research endpoints behind a single shared
// operator credential. Participants never authenticate; only the researcher
// pulling exports does.
type OperatorService struct {
	passHash  []byte
	signToken TokenSigner
	tokenTTL  time.Duration
}

// NewOperatorService builds the gate from a bcrypt hash of the operator
// password. An empty hash disables login entirely, which is the right
// default for deployments that never export over HTTP.
func NewOperatorService(passHash string, signer TokenSigner) *OperatorService {
	return &OperatorService{
		passHash:  []byte(strings.TrimSpace(passHash)),
		signToken: signer,
		tokenTTL:  12 * time.Hour,
	}
}

// Enabled reports whether an operator credential is configured.
func (s *OperatorService) Enabled() bool { return len(s.passHash) > 0 }

// Login verifies the password and returns a signed token.
func (s *OperatorService) Login(password string) (string, error) {
	if !s.Enabled() {
		return "", experiment.NewConfigurationError("operator access is not configured")
	}
	if strings.TrimSpace(password) == "" {
		return "", experiment.NewInvalidError("password required")
	}
	if err := bcrypt.CompareHashAndPassword(s.passHash, []byte(password)); err != nil {
		return "", experiment.NewUnauthorizedError("invalid credentials")
	}
	if s.signToken == nil {
		return "", experiment.NewConfigurationError("token signer not configured")
	}
	token, err := s.signToken("operator", s.tokenTTL)
	if err != nil {
		return "", err
	}
	return token, nil
}

func (s *OperatorService) TokenTTL() time.Duration { return s.tokenTTL }
