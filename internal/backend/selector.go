package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/LCodingX/influence-dashboard/internal/logger"
	"github.com/LCodingX/influence-dashboard/internal/repos"
	"github.com/LCodingX/influence-dashboard/internal/types"
	"github.com/LCodingX/influence-dashboard/internal/utils"
	"github.com/LCodingX/influence-dashboard/internal/vault"
)

// ErrHostedNotConfigured means the operator deployment carries no default
// backend and the user has not supplied a credential either.
var ErrHostedNotConfigured = errors.New("backend: hosted backend not configured")

// Resolved is the adapter chosen for one request, tagged with which variant
// it is so the orchestrator can stamp the job record.
type Resolved struct {
	Adapter    Adapter
	Kind       string
	EndpointID *uuid.UUID
}

// Selector picks the backend variant for a user: the user-supplied one when
// a credential is stored, the operator-hosted default otherwise. Both sides
// of the choice satisfy the same Adapter contract.
type Selector struct {
	log          *logger.Logger
	client       *Client
	vault        *vault.Vault
	credRepo     repos.CredentialRepo
	endpointRepo repos.EndpointRepo

	hostedAPIKey     string
	hostedEndpointID string
	gpuClass         string
	templateID       string
	maxWorkers       int
}

func NewSelector(
	baseLog *logger.Logger,
	client *Client,
	v *vault.Vault,
	credRepo repos.CredentialRepo,
	endpointRepo repos.EndpointRepo,
) *Selector {
	log := baseLog.With("service", "BackendSelector")
	return &Selector{
		log:              log,
		client:           client,
		vault:            v,
		credRepo:         credRepo,
		endpointRepo:     endpointRepo,
		hostedAPIKey:     utils.GetEnv("RUNPOD_API_KEY", "", baseLog),
		hostedEndpointID: utils.GetEnv("RUNPOD_ENDPOINT_ID", "", baseLog),
		gpuClass:         utils.GetEnv("RUNPOD_GPU_CLASS", "NVIDIA RTX A5000", baseLog),
		templateID:       utils.GetEnv("RUNPOD_TEMPLATE_ID", "", baseLog),
		maxWorkers:       utils.GetEnvAsInt("RUNPOD_MAX_WORKERS", 1, baseLog),
	}
}

// ForUser resolves the adapter for one request. For a user-supplied
// credential it decrypts the key and resolves the user's endpoint, lazily
// creating and persisting one on first use. Decrypted key material stays
// inside the returned adapter for the duration of this request only.
func (s *Selector) ForUser(ctx context.Context, tx *gorm.DB, ownerUserID uuid.UUID) (Resolved, error) {
	cred, err := s.credRepo.GetByOwner(ctx, tx, ownerUserID)
	if err != nil {
		return Resolved{}, fmt.Errorf("load credential: %w", err)
	}
	if cred == nil {
		if s.hostedAPIKey == "" || s.hostedEndpointID == "" {
			return Resolved{}, ErrHostedNotConfigured
		}
		return Resolved{
			Adapter: &runpodAdapter{
				client:     s.client,
				log:        s.log,
				apiKey:     s.hostedAPIKey,
				endpointID: s.hostedEndpointID,
			},
			Kind: types.BackendKindHosted,
		}, nil
	}

	apiKey, err := s.vault.Decrypt(cred.Ciphertext)
	if err != nil {
		return Resolved{}, err
	}

	ep, err := s.endpointRepo.GetDefaultByOwner(ctx, tx, ownerUserID)
	if err != nil {
		return Resolved{}, fmt.Errorf("load endpoint: %w", err)
	}
	if ep == nil {
		name := "influence-dashboard-" + shortID(ownerUserID)
		remoteID, cErr := s.client.CreateEndpoint(ctx, apiKey, name, s.gpuClass, s.templateID, s.maxWorkers)
		if cErr != nil {
			return Resolved{}, cErr
		}
		ep = &types.BackendEndpoint{
			ID:               uuid.New(),
			OwnerUserID:      ownerUserID,
			RemoteEndpointID: remoteID,
			GPUClass:         s.gpuClass,
			MaxWorkers:       s.maxWorkers,
			IsDefault:        true,
		}
		if _, cErr := s.endpointRepo.Create(ctx, tx, []*types.BackendEndpoint{ep}); cErr != nil {
			return Resolved{}, fmt.Errorf("persist endpoint: %w", cErr)
		}
		s.log.Info("Created backend endpoint for user", "owner_user_id", ownerUserID, "gpu_class", s.gpuClass)
	}

	epID := ep.ID
	return Resolved{
		Adapter: &runpodAdapter{
			client:     s.client,
			log:        s.log,
			apiKey:     apiKey,
			endpointID: ep.RemoteEndpointID,
		},
		Kind:       types.BackendKindUser,
		EndpointID: &epID,
	}, nil
}

// ForJob resolves the adapter for a job already stamped with its backend
// variant. A credential stored after submission must not reroute an
// in-flight hosted job, so the job record, not the current credential
// state, decides.
func (s *Selector) ForJob(ctx context.Context, tx *gorm.DB, job *types.Job) (Resolved, error) {
	if job.BackendKind != types.BackendKindUser {
		if s.hostedAPIKey == "" || s.hostedEndpointID == "" {
			return Resolved{}, ErrHostedNotConfigured
		}
		return Resolved{
			Adapter: &runpodAdapter{
				client:     s.client,
				log:        s.log,
				apiKey:     s.hostedAPIKey,
				endpointID: s.hostedEndpointID,
			},
			Kind: types.BackendKindHosted,
		}, nil
	}

	cred, err := s.credRepo.GetByOwner(ctx, tx, job.OwnerUserID)
	if err != nil {
		return Resolved{}, fmt.Errorf("load credential: %w", err)
	}
	if cred == nil {
		return Resolved{}, fmt.Errorf("%w: credential removed", ErrAuthentication)
	}
	apiKey, err := s.vault.Decrypt(cred.Ciphertext)
	if err != nil {
		return Resolved{}, err
	}

	if job.EndpointID == nil {
		return Resolved{}, fmt.Errorf("job %s has user backend but no endpoint", job.ID)
	}
	eps, err := s.endpointRepo.GetByIDs(ctx, tx, []uuid.UUID{*job.EndpointID})
	if err != nil {
		return Resolved{}, fmt.Errorf("load endpoint: %w", err)
	}
	if len(eps) == 0 {
		return Resolved{}, fmt.Errorf("endpoint %s not found", *job.EndpointID)
	}
	return Resolved{
		Adapter: &runpodAdapter{
			client:     s.client,
			log:        s.log,
			apiKey:     apiKey,
			endpointID: eps[0].RemoteEndpointID,
		},
		Kind:       types.BackendKindUser,
		EndpointID: job.EndpointID,
	}, nil
}

// ValidateKey checks a candidate API key against the backend before it is
// encrypted and stored.
func (s *Selector) ValidateKey(ctx context.Context, apiKey string) error {
	return s.client.Verify(ctx, apiKey)
}

func shortID(id uuid.UUID) string {
	str := id.String()
	if len(str) > 8 {
		return str[:8]
	}
	return str
}
