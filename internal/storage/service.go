package storage

import (
	"anonchat/backend/internal/models"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Service implements Storage on PostgreSQL (gorm) with Redis for the queue
// mirrors and the operator event channel. Redis is optional.
type Service struct {
	DB     *gorm.DB
	Redis  *redis.Client
	Logger *zap.Logger

	local *broadcaster
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB, rdb *redis.Client, logger *zap.Logger) *Service {
	return &Service{
		DB:     db,
		Redis:  rdb,
		Logger: logger,
		local:  newBroadcaster(),
	}
}

// OpenPostgres connects to PostgreSQL and migrates the schema.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect PostgreSQL: %w", err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates every table the service uses.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.ChatLog{},
		&models.MessageLink{},
		&models.Report{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// GetUser returns the user or nil if none exists.
func (s *Service) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := s.DB.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return &user, nil
}

// UpsertUser inserts or fully overwrites the user record.
func (s *Service) UpsertUser(ctx context.Context, user *models.User) error {
	if err := s.DB.WithContext(ctx).Save(user).Error; err != nil {
		return fmt.Errorf("upsert user %d: %w", user.ID, err)
	}
	return nil
}

// ListUsers returns every registered user ordered by id.
func (s *Service) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := s.DB.WithContext(ctx).Order("id asc").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// FindUserByUsername looks a user up by public handle.
func (s *Service) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := s.DB.WithContext(ctx).
		Where("username = ?", strings.TrimPrefix(username, "@")).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user @%s: %w", username, err)
	}
	return &user, nil
}

// ResetChatStatuses clears every pairing left over from a previous run.
func (s *Service) ResetChatStatuses(ctx context.Context) (int64, error) {
	result := s.DB.WithContext(ctx).Model(&models.User{}).
		Where("chat_status IN ?", []models.ChatStatus{models.StatusWaiting, models.StatusChatting}).
		Updates(map[string]interface{}{
			"chat_status": models.StatusIdle,
			"partner_id":  nil,
			"session_id":  nil,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("reset chat statuses: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// AppendChatLog stores one relayed message.
func (s *Service) AppendChatLog(ctx context.Context, entry *models.ChatLog) error {
	if err := s.DB.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("append chat log for %s: %w", entry.SessionID, err)
	}
	return nil
}

// UpdateChatLogText rewrites the logged text after an edit.
func (s *Service) UpdateChatLogText(ctx context.Context, senderID, messageID int64, text string) error {
	err := s.DB.WithContext(ctx).Model(&models.ChatLog{}).
		Where("sender_id = ? AND message_id = ?", senderID, messageID).
		Update("text", text).Error
	if err != nil {
		return fmt.Errorf("update chat log %d/%d: %w", senderID, messageID, err)
	}
	return nil
}

// InsertMessageLink stores the link unless its source key already exists.
func (s *Service) InsertMessageLink(ctx context.Context, link *models.MessageLink) error {
	err := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(link).Error
	if err != nil {
		return fmt.Errorf("insert message link %d/%d: %w", link.SourceChatID, link.SourceMessageID, err)
	}
	return nil
}

// LookupMessageLink resolves the counterpart of source.
func (s *Service) LookupMessageLink(ctx context.Context, source models.MessageRef) (*models.MessageRef, error) {
	var link models.MessageLink
	err := s.DB.WithContext(ctx).
		Where("source_chat_id = ? AND source_message_id = ?", source.ChatID, source.MessageID).
		First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup message link %d/%d: %w", source.ChatID, source.MessageID, err)
	}
	dest := link.Dest()
	return &dest, nil
}

// SaveReport stores a new report.
func (s *Service) SaveReport(ctx context.Context, report *models.Report) error {
	if report.Status == "" {
		report.Status = models.ReportNew
	}
	if err := s.DB.WithContext(ctx).Create(report).Error; err != nil {
		return fmt.Errorf("save report on %d: %w", report.TargetID, err)
	}
	return nil
}

// ListReports returns reports with the given status, newest first.
func (s *Service) ListReports(ctx context.Context, status models.ReportStatus) ([]models.Report, error) {
	var reports []models.Report
	err := s.DB.WithContext(ctx).Where("status = ?", status).Order("created_at desc").Find(&reports).Error
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return reports, nil
}

// GetStats aggregates user and history counters.
func (s *Service) GetStats(ctx context.Context) (*models.Stats, error) {
	var stats models.Stats
	db := s.DB.WithContext(ctx)

	err := db.Model(&models.User{}).Select(`
		COUNT(id) AS total_users,
		COUNT(CASE WHEN last_active_at > ? THEN 1 END) AS active_today,
		COUNT(CASE WHEN banned THEN 1 END) AS banned,
		COUNT(CASE WHEN unreachable THEN 1 END) AS unreachable,
		COUNT(CASE WHEN chat_status = ? THEN 1 END) AS chatting`,
		time.Now().Add(-24*time.Hour), models.StatusChatting).
		Scan(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("user stats: %w", err)
	}

	err = db.Model(&models.ChatLog{}).
		Select("COUNT(DISTINCT session_id) AS total_sessions, COUNT(id) AS total_messages").
		Scan(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("chat stats: %w", err)
	}
	return &stats, nil
}

// ChatPartners lists everyone the user has exchanged messages with.
func (s *Service) ChatPartners(ctx context.Context, userID int64) ([]int64, error) {
	var partners []int64
	err := s.DB.WithContext(ctx).Raw(`
		SELECT DISTINCT partner_id FROM chat_logs WHERE sender_id = ?
		UNION
		SELECT DISTINCT sender_id FROM chat_logs WHERE partner_id = ?`,
		userID, userID).Scan(&partners).Error
	if err != nil {
		return nil, fmt.Errorf("chat partners of %d: %w", userID, err)
	}
	return partners, nil
}

// ListSessions returns the sessions between two users, newest first.
func (s *Service) ListSessions(ctx context.Context, userA, userB int64) ([]models.SessionSummary, error) {
	var sessions []models.SessionSummary
	err := s.DB.WithContext(ctx).Raw(`
		SELECT session_id, MIN(created_at) AS started_at FROM chat_logs
		WHERE (sender_id = ? AND partner_id = ?) OR (sender_id = ? AND partner_id = ?)
		GROUP BY session_id ORDER BY started_at DESC`,
		userA, userB, userB, userA).Scan(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("sessions of %d and %d: %w", userA, userB, err)
	}
	return sessions, nil
}

// SessionLog returns the messages of one session in order.
func (s *Service) SessionLog(ctx context.Context, sessionID string) ([]models.ChatLog, error) {
	var entries []models.ChatLog
	err := s.DB.WithContext(ctx).Where("session_id = ?", sessionID).Order("id asc").Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("session log %s: %w", sessionID, err)
	}
	return entries, nil
}

// ClearHistory truncates the chat logs and the message link graph.
func (s *Service) ClearHistory(ctx context.Context) error {
	if err := s.DB.WithContext(ctx).Exec("TRUNCATE TABLE chat_logs, message_links").Error; err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}
