package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gosimple/slug"
	"github.com/smallbiznis/provisioning/internal/clock"
	"github.com/smallbiznis/provisioning/internal/provisioning/domain"
	"github.com/smallbiznis/provisioning/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Clock clock.Clock
	Log   *zap.Logger
}

// ResultStore keeps one row per provisioning id. Saving again overwrites,
// so queue redelivery of the same job converges on the latest result.
type ResultStore struct {
	repo  repository.Repository[ResultRecord]
	clock clock.Clock
	log   *zap.Logger
}

func NewResultStore(p Params) *ResultStore {
	return &ResultStore{
		repo:  repository.ProvideStore[ResultRecord](p.DB),
		clock: p.Clock,
		log:   p.Log.Named("provisioning.repository"),
	}
}

// BlobKey is the storage key for a result document.
func BlobKey(provisioningID string) string {
	return "results/" + slug.Make(provisioningID) + ".json"
}

func (s *ResultStore) Save(ctx context.Context, result domain.ProvisioningResult) error {
	id := strings.TrimSpace(result.ProvisioningID)
	if id == "" {
		return fmt.Errorf("save result: empty provisioning id")
	}
	doc, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	now := s.clock.Now().UTC()
	record := &ResultRecord{
		ProvisioningID: id,
		BlobKey:        BlobKey(id),
		PurchaseID:     result.PurchaseID,
		Status:         string(result.Status),
		Error:          result.Error,
		Document:       datatypes.JSON(doc),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Upsert(ctx, record, "provisioning_id"); err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	s.log.Debug("provisioning result saved",
		zap.String("provisioning_id", id),
		zap.String("blob_key", record.BlobKey),
		zap.String("status", record.Status),
	)
	return nil
}

func (s *ResultStore) Get(ctx context.Context, provisioningID string) (*domain.ProvisioningResult, error) {
	record, err := s.repo.FindOne(ctx, &ResultRecord{ProvisioningID: strings.TrimSpace(provisioningID)})
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrResultNotFound
	}
	var result domain.ProvisioningResult
	if err := json.Unmarshal(record.Document, &result); err != nil {
		return nil, fmt.Errorf("decode result %s: %w", record.BlobKey, err)
	}
	return &result, nil
}

var _ domain.ResultStore = (*ResultStore)(nil)
