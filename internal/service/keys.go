package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/juniordebug/internal/errs"
	"github.com/and161185/juniordebug/internal/model"
	"github.com/and161185/juniordebug/internal/repository"
)

// ErrKeyRejected is returned for keys the stub treats as compromised.
var ErrKeyRejected = errors.New("your API key was reported as leaked, please use another API key")

// KeyService stores provider keys and only ever hands back masked forms.
type KeyService interface {
	// Save validates and stores raw, returning its masked form.
	Save(ctx context.Context, userID uuid.UUID, raw string) (string, error)
	// Masked returns the masked stored key or errs.ErrNotFound.
	Masked(ctx context.Context, userID uuid.UUID) (string, error)
	// Delete removes the stored key.
	Delete(ctx context.Context, userID uuid.UUID) error
	// Provider detects the provider of the stored key; "" when none.
	Provider(ctx context.Context, userID uuid.UUID) (string, error)
}

// KeyServiceImpl is the KeyService over a KeyRepository.
type KeyServiceImpl struct {
	repo repository.KeyRepository
	now  func() time.Time
}

// NewKeyService constructs KeyService.
func NewKeyService(repo repository.KeyRepository) *KeyServiceImpl {
	return &KeyServiceImpl{repo: repo, now: time.Now}
}

// Save stores raw after basic validation.
func (s *KeyServiceImpl) Save(ctx context.Context, userID uuid.UUID, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if userID == uuid.Nil {
		return "", fmt.Errorf("%w: empty userID", errs.ErrValidation)
	}
	if len(raw) < 8 || strings.ContainsAny(raw, " \t\r\n") {
		return "", fmt.Errorf("%w: invalid API key format", errs.ErrValidation)
	}
	if strings.Contains(strings.ToLower(raw), "leak") {
		return "", ErrKeyRejected
	}
	if err := s.repo.PutKey(ctx, &model.StoredKey{UserID: userID, Raw: raw, UpdatedAt: s.now()}); err != nil {
		return "", err
	}
	return Mask(raw), nil
}

// Masked returns the masked stored key.
func (s *KeyServiceImpl) Masked(ctx context.Context, userID uuid.UUID) (string, error) {
	k, err := s.repo.GetKey(ctx, userID)
	if err != nil {
		return "", err
	}
	return Mask(k.Raw), nil
}

// Delete removes the stored key.
func (s *KeyServiceImpl) Delete(ctx context.Context, userID uuid.UUID) error {
	return s.repo.DeleteKey(ctx, userID)
}

// Provider reports the provider family of the stored key.
func (s *KeyServiceImpl) Provider(ctx context.Context, userID uuid.UUID) (string, error) {
	k, err := s.repo.GetKey(ctx, userID)
	if errors.Is(err, errs.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return DetectProvider(k.Raw), nil
}

var knownPrefixes = []string{"sk-", "AIza", "ya29.", "gcp-"}

// Mask keeps a recognized prefix (or the first 3 characters) and the last
// 4 characters.
func Mask(raw string) string {
	head := ""
	for _, p := range knownPrefixes {
		if strings.HasPrefix(raw, p) {
			head = p
			break
		}
	}
	if head == "" {
		if len(raw) <= 7 {
			return "..."
		}
		head = raw[:3]
	}
	tail := ""
	if len(raw)-len(head) > 4 {
		tail = raw[len(raw)-4:]
	}
	return head + "..." + tail
}

// DetectProvider names the provider family of a raw key.
func DetectProvider(raw string) string {
	switch {
	case strings.HasPrefix(raw, "sk-"):
		return string(model.ProviderOpenAI)
	case strings.HasPrefix(raw, "AIza"), strings.HasPrefix(raw, "ya29."), strings.HasPrefix(raw, "gcp-"):
		return string(model.ProviderGemini)
	default:
		return ""
	}
}
