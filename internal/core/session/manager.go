package session

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/OrbitaAI/call-orchestrator/pkg/logger"
	"github.com/OrbitaAI/call-orchestrator/pkg/redis"
)

const (
	CleanupChannel = "orchestrator:call:cleanup"
	CallSessionTTL = 1 * time.Hour
)

// CallSession mirrors an active call into redis so operators can see which
// instance owns which call across a multi-pod deployment.
type CallSession struct {
	CallID     string    `json:"callId"`
	PodID      string    `json:"podId"`
	CustomerID string    `json:"customerId"`
	StartTime  time.Time `json:"startTime"`
}

// CleanupMessage is the payload for cleanup broadcast
type CleanupMessage struct {
	CallID string `json:"callId"`
}

type Manager struct {
	redisSvc redis.RedisServiceInterface
	podID    string
}

func NewManager(redisSvc redis.RedisServiceInterface, podID string) *Manager {
	return &Manager{
		redisSvc: redisSvc,
		podID:    podID,
	}
}

// Register mirrors a tracked call into redis. The TTL guards against
// entries orphaned by an instance that died mid-call.
func (m *Manager) Register(ctx context.Context, info CallSession) error {
	info.PodID = m.podID
	if info.StartTime.IsZero() {
		info.StartTime = time.Now()
	}

	data, _ := json.Marshal(info)
	key := m.redisSvc.GenerateKey(redis.CALL_SESSION, info.CallID)

	err := m.redisSvc.SetValue(ctx, key, string(data), CallSessionTTL)
	if err == nil {
		logger.Base().Info("Call session registered in Redis", zap.String("call_id", info.CallID), zap.String("pod_id", m.podID))
	}
	return err
}

// Unregister removes the mirrored entry for a finished call.
func (m *Manager) Unregister(ctx context.Context, callID string) error {
	key := m.redisSvc.GenerateKey(redis.CALL_SESSION, callID)
	return m.redisSvc.DelValue(ctx, key)
}

// NotifyCleanup broadcasts a cleanup request to all pods
func (m *Manager) NotifyCleanup(ctx context.Context, callID string) error {
	logger.Base().Info("Broadcasting cleanup request", zap.String("call_id", callID))
	return m.redisSvc.Publish(ctx, CleanupChannel, CleanupMessage{CallID: callID})
}

// SubscribeToCleanup listens for cleanup broadcasts
func (m *Manager) SubscribeToCleanup(ctx context.Context, handler func(callID string)) error {
	return m.redisSvc.Subscribe(ctx, CleanupChannel, func(payload string) {
		var msg CleanupMessage
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			logger.Base().Error("Failed to unmarshal cleanup message", zap.Error(err))
			return
		}
		handler(msg.CallID)
	})
}
