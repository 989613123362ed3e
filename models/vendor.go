package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/lunchops_backend/config"
	"github.com/mmdatafocus/lunchops_backend/utils"
	"gorm.io/gorm"
)

// Vendor is a restaurant or shop a tenant orders from.
type Vendor struct {
	ID          int       `gorm:"primary_key" json:"id"`
	TenantId    string    `gorm:"size:36;not null;index" json:"tenant_id"`
	Name        string    `gorm:"size:100;not null" json:"name"`
	CuisineType string    `gorm:"size:50" json:"cuisine_type"`
	Website     string    `gorm:"size:255" json:"website"`
	MenuUrl     string    `gorm:"size:255" json:"menu_url"`
	CreatedBy   string    `gorm:"size:50;not null" json:"created_by"`
	IsActive    *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewVendor struct {
	Name        string `json:"name" binding:"required"`
	CuisineType string `json:"cuisine_type"`
	Website     string `json:"website"`
	MenuUrl     string `json:"menu_url"`
}

// FindOrCreateVendor matches by case-insensitive name within the tenant.
// When an existing vendor matches, missing optional fields are backfilled
// from the input without overwriting already-populated ones.
func FindOrCreateVendor(ctx context.Context, input *NewVendor, actorId string) (*Vendor, error) {
	db := config.GetDB()
	if input.Name == "" {
		return nil, errors.New("vendor name is required")
	}

	var vendor Vendor
	err := db.WithContext(ctx).Where("LOWER(name) = LOWER(?)", input.Name).First(&vendor).Error
	if err == nil {
		backfill := map[string]interface{}{}
		if vendor.CuisineType == "" && input.CuisineType != "" {
			backfill["cuisine_type"] = input.CuisineType
		}
		if vendor.Website == "" && input.Website != "" {
			backfill["website"] = input.Website
		}
		if vendor.MenuUrl == "" && input.MenuUrl != "" {
			backfill["menu_url"] = input.MenuUrl
		}
		if len(backfill) > 0 {
			if err := db.WithContext(ctx).Model(&vendor).Updates(backfill).Error; err != nil {
				return nil, err
			}
		}
		return &vendor, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	vendor = Vendor{
		Name:        input.Name,
		CuisineType: input.CuisineType,
		Website:     input.Website,
		MenuUrl:     input.MenuUrl,
		CreatedBy:   actorId,
	}
	if err := db.WithContext(ctx).Create(&vendor).Error; err != nil {
		return nil, err
	}
	return &vendor, nil
}

func GetVendor(ctx context.Context, id int) (*Vendor, error) {
	db := config.GetDB()
	var vendor Vendor
	err := db.WithContext(ctx).First(&vendor, id).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &vendor, nil
}

func GetVendors(ctx context.Context) ([]*Vendor, error) {
	db := config.GetDB()
	var vendors []*Vendor
	err := db.WithContext(ctx).Order("name ASC").Find(&vendors).Error
	if err != nil {
		return nil, err
	}
	return vendors, nil
}

// UpdateVendor edits optional vendor attributes. Admin or creator only.
func UpdateVendor(ctx context.Context, id int, input *NewVendor, actor Actor) (*Vendor, error) {
	vendor, err := GetVendor(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanEditVendor(actor, vendor) {
		return nil, utils.NotAuthorizedError("vendor %d", id)
	}
	db := config.GetDB()
	updates := map[string]interface{}{
		"name":         input.Name,
		"cuisine_type": input.CuisineType,
		"website":      input.Website,
		"menu_url":     input.MenuUrl,
	}
	if err := db.WithContext(ctx).Model(vendor).Updates(updates).Error; err != nil {
		return nil, err
	}
	return vendor, nil
}

// ToggleVendorActive deactivates or reactivates a vendor. Admin or creator
// only.
func ToggleVendorActive(ctx context.Context, id int, isActive bool, actor Actor) (*Vendor, error) {
	vendor, err := GetVendor(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanEditVendor(actor, vendor) {
		return nil, utils.NotAuthorizedError("vendor %d", id)
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Model(vendor).Update("is_active", isActive).Error; err != nil {
		return nil, err
	}
	return vendor, nil
}
