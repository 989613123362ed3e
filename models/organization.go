package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/lunchops_backend/config"
	"github.com/mmdatafocus/lunchops_backend/utils"
	"gorm.io/gorm"
)

// Organization is the tenant root. One row per external chat workspace;
// created on the first verified webhook from a new team and never
// hard-deleted.
type Organization struct {
	ID             uuid.UUID `gorm:"primary_key" json:"id"`
	Provider       string    `gorm:"size:50;not null;uniqueIndex:uniq_provider_team" json:"provider"`
	ProviderTeamId string    `gorm:"size:100;not null;uniqueIndex:uniq_provider_team" json:"provider_team_id"`
	Name           string    `gorm:"size:100;not null" json:"name"`
	Timezone       string    `gorm:"size:50" json:"timezone"`
	Settings       string    `gorm:"type:text" json:"settings"`
	IsActive       *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (org *Organization) BeforeCreate(tx *gorm.DB) error {
	if org.ID == uuid.Nil {
		org.ID = uuid.New()
	}
	return nil
}

func (org *Organization) StoreRedis() error {
	return config.SetRedisObject("Organization:"+org.Provider+":"+org.ProviderTeamId, org, 0)
}

func (org *Organization) RemoveRedis() error {
	return config.RemoveRedisKey("Organization:" + org.Provider + ":" + org.ProviderTeamId)
}

// FindOrCreateOrganization resolves the tenant for an external team,
// creating it on first contact. The organizations table itself is not
// tenant-owned, so lookups run unscoped.
func FindOrCreateOrganization(ctx context.Context, provider, providerTeamId, name string) (*Organization, error) {
	if provider == "" || providerTeamId == "" {
		return nil, errors.New("provider and provider team id are required")
	}

	var cached Organization
	exists, err := config.GetRedisObject("Organization:"+provider+":"+providerTeamId, &cached)
	if err != nil {
		return nil, err
	}
	if exists {
		return &cached, nil
	}

	db := config.GetDB()
	var org Organization
	err = db.WithContext(ctx).
		Where("provider = ? AND provider_team_id = ?", provider, providerTeamId).
		First(&org).Error
	if err == nil {
		if err := org.StoreRedis(); err != nil {
			return nil, err
		}
		return &org, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	org = Organization{
		Provider:       provider,
		ProviderTeamId: providerTeamId,
		Name:           name,
		Timezone:       utils.DefaultTimezone,
	}
	if err := db.WithContext(ctx).Create(&org).Error; err != nil {
		// Two first-contact webhooks racing: the unique pair decides, the
		// loser re-reads the winner's row.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			if ferr := db.WithContext(ctx).
				Where("provider = ? AND provider_team_id = ?", provider, providerTeamId).
				First(&org).Error; ferr != nil {
				return nil, ferr
			}
		} else {
			return nil, err
		}
	}
	if err := org.StoreRedis(); err != nil {
		return nil, err
	}
	return &org, nil
}

// GetOrganization fetches a tenant by id, unscoped.
func GetOrganization(ctx context.Context, id string) (*Organization, error) {
	db := config.GetDB()
	var org Organization
	err := db.WithContext(ctx).Where("id = ?", id).First(&org).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &org, nil
}

// UpdateOrganizationSettings replaces the settings blob and timezone.
func UpdateOrganizationSettings(ctx context.Context, id string, timezone string, settings string) (*Organization, error) {
	db := config.GetDB()
	var org Organization
	if err := db.WithContext(ctx).Where("id = ?", id).First(&org).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	updates := map[string]interface{}{}
	if timezone != "" {
		if _, err := time.LoadLocation(timezone); err != nil {
			return nil, fmt.Errorf("invalid timezone %q", timezone)
		}
		updates["timezone"] = timezone
	}
	if settings != "" {
		updates["settings"] = settings
	}
	if len(updates) == 0 {
		return &org, nil
	}
	if err := db.WithContext(ctx).Model(&org).Updates(updates).Error; err != nil {
		return nil, err
	}
	if err := org.RemoveRedis(); err != nil {
		return nil, err
	}
	return &org, nil
}
