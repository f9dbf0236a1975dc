package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/lib/pq"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusDraft      Status = "draft"
	StatusTesting    Status = "testing"
	StatusPublished  Status = "published"
	StatusDeprecated Status = "deprecated"
	StatusArchived   Status = "archived"
)

// NormalizeCode is the canonical form of a feature code: "Summarize Text!"
// and "summarize-text" both become "summarize-text". Lookups, the catalog
// cache and in-flight locks all key on it.
func NormalizeCode(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	return slug.Make(value)
}

// Feature is an AI capability exposed under an internal code and backed by one provider.
type Feature struct {
	ID             snowflake.ID      `gorm:"primaryKey"`
	Code           string            `gorm:"type:text;not null;uniqueIndex:ux_features_code"`
	Name           string            `gorm:"type:text;not null"`
	Description    *string           `gorm:"type:text"`
	Category       string            `gorm:"type:text;not null"`
	Tags           pq.StringArray    `gorm:"type:text[]"`
	Status         Status            `gorm:"type:text;not null"`
	CreditsPerUse  *int64            `gorm:"column:credits_per_use"`
	ProviderID     snowflake.ID      `gorm:"column:provider_id;not null"`
	Model          *string           `gorm:"type:text"`
	SystemPrompt   *string           `gorm:"column:system_prompt;type:text"`
	PromptTemplate *string           `gorm:"column:prompt_template;type:text"`
	MaxTokens      *int              `gorm:"column:max_tokens"`
	Temperature    *float64          `gorm:"column:temperature"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Feature) TableName() string { return "features" }

func (f Feature) IsInvokable() bool { return f.Status == StatusPublished }

var transitions = map[Status][]Status{
	StatusDraft:      {StatusTesting, StatusPublished, StatusArchived},
	StatusTesting:    {StatusPublished, StatusArchived},
	StatusPublished:  {StatusDeprecated, StatusArchived},
	StatusDeprecated: {StatusPublished, StatusArchived},
}

// CanTransition reports whether the lifecycle allows moving from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
