package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/LCodingX/influence-dashboard/internal/logger"
	"github.com/LCodingX/influence-dashboard/internal/repos"
	"github.com/LCodingX/influence-dashboard/internal/types"
	"github.com/LCodingX/influence-dashboard/internal/vault"
)

// CredentialStatus is what the API exposes about a stored credential:
// whether one exists and its last four characters, never the secret.
type CredentialStatus struct {
	Configured bool   `json:"configured"`
	Last4      string `json:"last4,omitempty"`
}

// CredentialService stores, removes and reports user backend credentials.
// Plaintext keys exist only transiently inside Store and are validated
// against the backend before anything is persisted.
type CredentialService interface {
	Store(ctx context.Context, ownerUserID uuid.UUID, apiKey string) (CredentialStatus, error)
	Remove(ctx context.Context, ownerUserID uuid.UUID) error
	Status(ctx context.Context, ownerUserID uuid.UUID) (CredentialStatus, error)
}

type credentialService struct {
	db           *gorm.DB
	log          *logger.Logger
	vault        *vault.Vault
	selector     BackendResolver
	credRepo     repos.CredentialRepo
	endpointRepo repos.EndpointRepo
}

func NewCredentialService(
	db *gorm.DB,
	baseLog *logger.Logger,
	v *vault.Vault,
	selector BackendResolver,
	credRepo repos.CredentialRepo,
	endpointRepo repos.EndpointRepo,
) CredentialService {
	return &credentialService{
		db:           db,
		log:          baseLog.With("service", "CredentialService"),
		vault:        v,
		selector:     selector,
		credRepo:     credRepo,
		endpointRepo: endpointRepo,
	}
}

// Store validates the key against the backend, encrypts it, and upserts it
// for the owner. Rotation is the same operation with a new key.
func (s *credentialService) Store(ctx context.Context, ownerUserID uuid.UUID, apiKey string) (CredentialStatus, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return CredentialStatus{}, &ValidationError{Message: "api_key is required"}
	}

	if err := s.selector.ValidateKey(ctx, apiKey); err != nil {
		return CredentialStatus{}, err
	}

	ciphertext, err := s.vault.Encrypt(apiKey)
	if err != nil {
		return CredentialStatus{}, err
	}
	last4 := vault.LastFour(apiKey)

	if _, err := s.credRepo.Upsert(ctx, nil, &types.BackendCredential{
		ID:          uuid.New(),
		OwnerUserID: ownerUserID,
		Ciphertext:  ciphertext,
		Last4:       last4,
	}); err != nil {
		return CredentialStatus{}, err
	}

	s.log.Info("Stored backend credential", "owner_user_id", ownerUserID, "last4", last4)
	return CredentialStatus{Configured: true, Last4: last4}, nil
}

// Remove deletes the credential and the endpoint records provisioned under
// it. Jobs already stamped user-backed keep their history; only new
// submissions fall back to the hosted backend.
func (s *credentialService) Remove(ctx context.Context, ownerUserID uuid.UUID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.credRepo.DeleteByOwner(ctx, tx, ownerUserID); err != nil {
			return err
		}
		return s.endpointRepo.DeleteByOwner(ctx, tx, ownerUserID)
	})
	if err != nil {
		return err
	}
	s.log.Info("Removed backend credential", "owner_user_id", ownerUserID)
	return nil
}

func (s *credentialService) Status(ctx context.Context, ownerUserID uuid.UUID) (CredentialStatus, error) {
	cred, err := s.credRepo.GetByOwner(ctx, nil, ownerUserID)
	if err != nil {
		return CredentialStatus{}, err
	}
	if cred == nil {
		return CredentialStatus{}, nil
	}
	return CredentialStatus{Configured: true, Last4: cred.Last4}, nil
}
