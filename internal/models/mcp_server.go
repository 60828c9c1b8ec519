package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	MCPAuthNone  = "none"
	MCPAuthToken = "token"
	MCPAuthOAuth = "oauth"
)

// MCPServer is a user-configured remote tool server. Only enabled servers are
// consulted during orchestration. AuthConfig is an opaque credential payload
// whose shape depends on AuthType (e.g. {"token": "..."} for bearer auth).
type MCPServer struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID      `gorm:"type:uuid;index;not null" json:"user_id"`
	Name       string         `gorm:"not null" json:"name"`
	URL        string         `gorm:"not null" json:"url"`
	Enabled    bool           `gorm:"default:true" json:"enabled"`
	AuthType   string         `gorm:"default:'none'" json:"auth_type"`
	AuthConfig datatypes.JSON `gorm:"type:jsonb" json:"-"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (s *MCPServer) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// BearerToken extracts the token from AuthConfig for token-authenticated
// servers. Empty string when no usable token is configured.
func (s *MCPServer) BearerToken() string {
	if s.AuthType != MCPAuthToken || len(s.AuthConfig) == 0 {
		return ""
	}
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(s.AuthConfig, &payload); err != nil {
		return ""
	}
	return payload.Token
}
