package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/streampilot/streampilot-server/internal/models"
)

// ========== Session Methods ==========

// CreateSession inserts an open session and fills in its assigned id
func (s *SQLiteStore) CreateSession(ctx context.Context, session *models.Session) error {
	session.StartedAt = session.StartedAt.UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO live_session(device_id, device_host, input_key, input_index,
			input_identifier, input_display_name, started_at, title)
		 VALUES(?,?,?,?,?,?,?,?)`,
		session.DeviceID, session.DeviceHost, session.InputKey, session.InputIndex,
		session.InputIdentifier, session.InputDisplayName, session.StartedAt, session.Title,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrDuplicateKey
		}
		return err
	}
	session.ID, err = res.LastInsertId()
	return err
}

// GetSession gets a session by id
func (s *SQLiteStore) GetSession(ctx context.Context, id int64) (*models.Session, error) {
	session := &models.Session{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, device_id, device_host, input_key, input_index, input_identifier,
			input_display_name, started_at, ended_at, title
		 FROM live_session WHERE id = ?`, id,
	).Scan(&session.ID, &session.DeviceID, &session.DeviceHost, &session.InputKey,
		&session.InputIndex, &session.InputIdentifier, &session.InputDisplayName,
		&session.StartedAt, &session.EndedAt, &session.Title)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// EndSession stamps ended_at on an open session. Closing is monotone: a
// session that already carries ended_at is left untouched.
func (s *SQLiteStore) EndSession(ctx context.Context, id int64, endedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE live_session SET ended_at = ? WHERE id = ? AND ended_at IS NULL`,
		endedAt.UTC(), id)
	return err
}

// SetSessionTitle sets the user-assigned title of a session
func (s *SQLiteStore) SetSessionTitle(ctx context.Context, id int64, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE live_session SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSessions lists all sessions, most recent first
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, device_id, device_host, input_key, input_index, input_identifier,
			input_display_name, started_at, ended_at, title
		 FROM live_session ORDER BY started_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session := &models.Session{}
		if err := rows.Scan(&session.ID, &session.DeviceID, &session.DeviceHost,
			&session.InputKey, &session.InputIndex, &session.InputIdentifier,
			&session.InputDisplayName, &session.StartedAt, &session.EndedAt,
			&session.Title); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// DeleteSession purges a session; its samples cascade
func (s *SQLiteStore) DeleteSession(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM live_session WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ========== Sample Methods ==========

// InsertSamples appends a batch of samples in one transaction, preserving
// slice order.
func (s *SQLiteStore) InsertSamples(ctx context.Context, samples []*models.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO live_sample(session_id, ts, year, month, day, hour, minute, second,
			latitude, longitude, drops_video, drops_ts,
			link_name, owdR, rx_bitrate, rx_percent_lost, rx_lost_nb_packets)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, sample := range samples {
		res, err := stmt.ExecContext(ctx,
			sample.SessionID, sample.TS.UTC(), sample.Year, sample.Month, sample.Day,
			sample.Hour, sample.Minute, sample.Second,
			sample.Latitude, sample.Longitude, sample.DropsVideo, sample.DropsTS,
			sample.LinkName, sample.OwdR, sample.RxBitrate,
			sample.RxPercentLost, sample.RxLostNbPackets)
		if err != nil {
			return err
		}
		sample.ID, _ = res.LastInsertId()
	}

	return tx.Commit()
}

// ListSamples lists the samples of a session ordered by insertion
func (s *SQLiteStore) ListSamples(ctx context.Context, sessionID int64) ([]*models.Sample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, ts, year, month, day, hour, minute, second,
			latitude, longitude, drops_video, drops_ts,
			link_name, owdR, rx_bitrate, rx_percent_lost, rx_lost_nb_packets
		 FROM live_sample WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []*models.Sample
	for rows.Next() {
		sample := &models.Sample{}
		if err := rows.Scan(&sample.ID, &sample.SessionID, &sample.TS,
			&sample.Year, &sample.Month, &sample.Day,
			&sample.Hour, &sample.Minute, &sample.Second,
			&sample.Latitude, &sample.Longitude, &sample.DropsVideo, &sample.DropsTS,
			&sample.LinkName, &sample.OwdR, &sample.RxBitrate,
			&sample.RxPercentLost, &sample.RxLostNbPackets); err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

// LastSampleTime returns the timestamp of the most recent sample recorded
// for any session of the given host, nil when none exists.
func (s *SQLiteStore) LastSampleTime(ctx context.Context, host string) (*time.Time, error) {
	var ts time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT ts FROM live_sample
		 WHERE session_id IN (SELECT id FROM live_session WHERE device_host = ?)
		 ORDER BY ts DESC LIMIT 1`, host).Scan(&ts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

// ActiveSessionCount counts the open sessions of a host
func (s *SQLiteStore) ActiveSessionCount(ctx context.Context, host string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM live_session WHERE device_host = ? AND ended_at IS NULL`,
		host).Scan(&n)
	return n, err
}
