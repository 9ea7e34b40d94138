package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/streampilot/streampilot-server/internal/config"
	"github.com/streampilot/streampilot-server/internal/models"
)

// sessionEvent is the wire form of a lifecycle notification.
type sessionEvent struct {
	EventID          string     `json:"event_id"`
	Type             string     `json:"type"`
	SessionID        int64      `json:"session_id"`
	DeviceID         string     `json:"device_id"`
	DeviceHost       string     `json:"device_host"`
	InputKey         string     `json:"input_key"`
	InputIdentifier  *string    `json:"input_identifier,omitempty"`
	InputDisplayName *string    `json:"input_display_name,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
}

// NATSPublisher publishes session lifecycle events on the bus so external
// consumers (dashboards, alerting) can react without polling the store.
type NATSPublisher struct {
	nc *nats.Conn
}

// Connect dials NATS with the configured options and returns a publisher.
func Connect(cfg *config.NATSConfig, serverName string) (*NATSPublisher, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(serverName),
		nats.UserInfo(cfg.Username, cfg.Password),
		nats.ReconnectWait(cfg.ReconnectInterval),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("Disconnected from NATS")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Msg("Reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSPublisher{nc: nc}, nil
}

// Close drains the connection.
func (p *NATSPublisher) Close() {
	p.nc.Close()
}

// SessionStarted publishes a session-started event.
func (p *NATSPublisher) SessionStarted(session *models.Session) {
	p.publish("started", session)
}

// SessionEnded publishes a session-ended event.
func (p *NATSPublisher) SessionEnded(session *models.Session) {
	p.publish("ended", session)
}

func (p *NATSPublisher) publish(kind string, session *models.Session) {
	event := sessionEvent{
		EventID:          uuid.New().String(),
		Type:             kind,
		SessionID:        session.ID,
		DeviceID:         session.DeviceID,
		DeviceHost:       session.DeviceHost,
		InputKey:         session.InputKey,
		InputIdentifier:  session.InputIdentifier,
		InputDisplayName: session.InputDisplayName,
		StartedAt:        session.StartedAt,
		EndedAt:          session.EndedAt,
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal session event")
		return
	}

	subject := fmt.Sprintf("live.session.%s.%s", subjectToken(session.DeviceID), kind)
	if err := p.nc.Publish(subject, data); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Failed to publish session event")
		return
	}

	log.Debug().Str("subject", subject).Int64("session", session.ID).Msg("Session event published")
}

// subjectToken makes an identifier safe for use as a NATS subject token.
func subjectToken(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, s)
}
