// services/agent_service.go
package services

import (
	"context"
	"fmt"
	"mime/multipart"
	"path/filepath"
	"strings"

	"endgame-arena/models"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const maxAvatarBytes = 2 << 20

var avatarTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
}

// FileStore uploads a multipart file and returns its public URL.
type FileStore interface {
	UploadFile(ctx context.Context, fh *multipart.FileHeader, key string) (string, error)
}

type AgentService struct {
	DB    *gorm.DB
	Files FileStore
}

func NewAgentService(db *gorm.DB, files FileStore) *AgentService {
	return &AgentService{DB: db, Files: files}
}

func (s *AgentService) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	var a models.Agent
	if err := s.DB.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, lookupErr(err, "agent")
	}
	return &a, nil
}

// GetAgentByHandle looks up an agent by platform and handle.
func (s *AgentService) GetAgentByHandle(ctx context.Context, platform, handle string) (*models.Agent, error) {
	var a models.Agent
	if err := s.DB.WithContext(ctx).
		First(&a, "platform = ? AND handle = ?", strings.ToLower(platform), AgentHandle(handle)).Error; err != nil {
		return nil, lookupErr(err, "agent")
	}
	return &a, nil
}

// SetAvatar stores an image in object storage and points the agent at it.
func (s *AgentService) SetAvatar(ctx context.Context, agentID string, fh *multipart.FileHeader) (*models.Agent, error) {
	if s.Files == nil {
		return nil, invalidState("avatar uploads are not configured")
	}
	if fh == nil {
		return nil, invalidInput("avatar file is required")
	}
	if fh.Size <= 0 || fh.Size > maxAvatarBytes {
		return nil, invalidInput("avatar must be between 1 byte and %d bytes", maxAvatarBytes)
	}
	ext, ok := avatarTypes[fh.Header.Get("Content-Type")]
	if !ok {
		return nil, invalidInput("avatar must be png, jpeg or webp")
	}
	if e := strings.ToLower(filepath.Ext(fh.Filename)); e == ".jpeg" && ext == ".jpg" {
		ext = e
	}

	agent, err := s.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("avatars/%s%s", agent.ID, ext)
	url, err := s.Files.UploadFile(ctx, fh, key)
	if err != nil {
		return nil, internal(err, "failed to upload avatar")
	}
	if err := s.DB.WithContext(ctx).Model(&models.Agent{}).
		Where("id = ?", agent.ID).
		Update("avatar_url", url).Error; err != nil {
		return nil, internal(err, "failed to save avatar url")
	}
	agent.AvatarURL = url
	log.Info().Str("agent_id", agent.ID).Str("url", url).Msg("[AGENT] avatar updated")
	return agent, nil
}
