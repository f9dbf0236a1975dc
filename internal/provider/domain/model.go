package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ProviderType string

const (
	ProviderTypeChatCompletion  ProviderType = "chat_completion"
	ProviderTypeMessages        ProviderType = "messages"
	ProviderTypeGenerateContent ProviderType = "generate_content"
	ProviderTypeCustom          ProviderType = "custom"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusTesting  Status = "testing"
	StatusError    Status = "error"
)

// Provider is a configured connection to one vendor family.
type Provider struct {
	ID             snowflake.ID      `gorm:"primaryKey"`
	Name           string            `gorm:"type:text;not null"`
	Type           ProviderType      `gorm:"column:provider_type;type:text;not null"`
	Endpoint       *string           `gorm:"type:text"`
	Credential     *string           `gorm:"type:text"`
	DefaultModel   *string           `gorm:"column:default_model;type:text"`
	SupportsVision bool              `gorm:"column:supports_vision;not null;default:false"`
	Status         Status            `gorm:"type:text;not null"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb"`
	LastCheckedAt  *time.Time        `gorm:"column:last_checked_at"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Provider) TableName() string { return "providers" }

func (p Provider) IsActive() bool { return p.Status == StatusActive }

// EndpointValue returns the trimmed endpoint, or "".
func (p Provider) EndpointValue() string {
	if p.Endpoint == nil {
		return ""
	}
	return strings.TrimSpace(*p.Endpoint)
}

func (p Provider) CredentialValue() string {
	if p.Credential == nil {
		return ""
	}
	return strings.TrimSpace(*p.Credential)
}

func (p Provider) DefaultModelValue() string {
	if p.DefaultModel == nil {
		return ""
	}
	return strings.TrimSpace(*p.DefaultModel)
}
