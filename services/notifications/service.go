package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"classplanner_go/config"
	"classplanner_go/database"
	"classplanner_go/models"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

const (
	queueKey     = "notifications:queue"
	pollInterval = 2 * time.Second
	batchSize    = 200
	// maxBatchesPerTick bounds how long one tick can hold the worker.
	maxBatchesPerTick = 5
)

// envelope is the queue payload stored in Redis. One payload may fan out to
// many user IDs. The DB write is the source of truth; when Redis is down we
// insert directly instead.
type envelope struct {
	UserIDs   []uint    `json:"user_ids"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Service creates notifications, queueing through Redis when enabled and
// falling back to direct inserts otherwise.
type Service struct {
	db       *gorm.DB
	redis    *redis.Client
	useRedis bool
	wsHub    WSHub
}

// WSHub pushes real-time messages to connected clients.
type WSHub interface {
	BroadcastToUser(userID uint, message interface{})
}

// defaultHub lets services created in different parts of the app (e.g. the
// cron jobs) broadcast over the same WebSocket hub without manual wiring.
var defaultHub WSHub

// SetDefaultWSHub sets the hub new Service instances pick up.
func SetDefaultWSHub(h WSHub) {
	defaultHub = h
}

func NewService() *Service {
	r := database.GetRedisClient()
	return &Service{
		db:       database.GetDB(),
		redis:    r,
		useRedis: r != nil && config.AppConfig != nil && config.AppConfig.UseRedisNotifications,
		wsHub:    defaultHub,
	}
}

// SetWebSocketHub overrides the hub for this instance.
func (s *Service) SetWebSocketHub(hub WSHub) {
	s.wsHub = hub
}

// Queued builds a plain notification payload.
func Queued(title, message, typ string) envelope {
	return envelope{Title: title, Message: message, Type: typ}
}

// QueuedWithData attaches a structured payload (deep links, related ids).
func QueuedWithData(title, message, typ string, data any) envelope {
	return envelope{Title: title, Message: message, Type: typ, Data: data}
}

// EnqueueOrCreate delivers the notification to every user in userIDs, via the
// Redis queue when enabled or a direct insert otherwise.
func (s *Service) EnqueueOrCreate(userIDs []uint, n envelope) error {
	if len(userIDs) == 0 {
		return errors.New("no user ids")
	}
	n.UserIDs = userIDs
	n.CreatedAt = time.Now().UTC()

	if s.useRedis {
		raw, err := json.Marshal(n)
		if err != nil {
			return err
		}
		if err = s.redis.RPush(context.Background(), queueKey, raw).Err(); err == nil {
			return nil
		}
		log.Printf("notifications: queue push failed, inserting directly: %v", err)
	}

	return s.createDirect(userIDs, n)
}

// createDirect writes rows and pushes them over the WebSocket hub when wired.
func (s *Service) createDirect(userIDs []uint, n envelope) error {
	if len(userIDs) == 0 {
		return nil
	}

	rows := make([]models.Notification, 0, len(userIDs))
	for _, uid := range userIDs {
		rows = append(rows, models.Notification{
			UserID:  uid,
			Title:   n.Title,
			Message: n.Message,
			Type:    n.Type,
			Read:    false,
		})
	}
	if err := s.db.Create(&rows).Error; err != nil {
		return err
	}

	if s.wsHub == nil {
		return nil
	}
	for _, row := range rows {
		s.wsHub.BroadcastToUser(row.UserID, map[string]interface{}{
			"type": "notification",
			"data": map[string]interface{}{
				"id":         row.ID,
				"title":      row.Title,
				"message":    row.Message,
				"notif_type": row.Type,
				"extra":      n.Data,
			},
		})
	}
	return nil
}

// StartWorker launches the background goroutine that drains the Redis queue
// into the database. Stops when the stop channel closes.
func (s *Service) StartWorker(stop <-chan struct{}) {
	if !s.useRedis {
		log.Println("notifications: queue disabled, worker not started")
		return
	}
	go func() {
		log.Println("notifications: queue worker started")
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				log.Println("notifications: queue worker stopping")
				return
			case <-ticker.C:
				s.drainQueue(context.Background())
			}
		}
	}()
}

// drainQueue pops queued payloads in batches and inserts them. LRange then
// LTrim is safe for a single worker; duplicates are tolerable on crash.
func (s *Service) drainQueue(ctx context.Context) {
	if s.redis == nil {
		return
	}
	for i := 0; i < maxBatchesPerTick; i++ {
		vals, err := s.redis.LRange(ctx, queueKey, 0, int64(batchSize-1)).Result()
		if err != nil || len(vals) == 0 {
			return
		}
		if err = s.redis.LTrim(ctx, queueKey, int64(len(vals)), -1).Err(); err != nil {
			log.Printf("notifications: queue trim failed: %v", err)
		}
		for _, raw := range vals {
			var n envelope
			if err := json.Unmarshal([]byte(raw), &n); err != nil {
				continue
			}
			if err := s.createDirect(n.UserIDs, n); err != nil {
				log.Printf("notifications: insert failed for queued payload: %v", err)
			}
		}
		if len(vals) < batchSize {
			return
		}
	}
}
