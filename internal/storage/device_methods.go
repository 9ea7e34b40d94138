package storage

import (
	"context"
	"database/sql"

	"github.com/streampilot/streampilot-server/internal/models"
)

// ========== Device Methods ==========

// CreateDevice creates a new device and fills in its assigned id
func (s *SQLiteStore) CreateDevice(ctx context.Context, device *models.Device) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO devices(name, protocol, host, port, api_path, token) VALUES(?,?,?,?,?,?)`,
		device.Name, device.Protocol, device.Host, device.Port, device.APIPath, device.Token,
	)
	if err != nil {
		return err
	}
	device.ID, err = res.LastInsertId()
	return err
}

// GetDevice gets a device by id
func (s *SQLiteStore) GetDevice(ctx context.Context, id int64) (*models.Device, error) {
	device := &models.Device{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, protocol, host, port, api_path, token FROM devices WHERE id = ?`, id,
	).Scan(&device.ID, &device.Name, &device.Protocol, &device.Host,
		&device.Port, &device.APIPath, &device.Token)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return device, nil
}

// ListDevices lists all configured devices
func (s *SQLiteStore) ListDevices(ctx context.Context) ([]*models.Device, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, protocol, host, port, api_path, token FROM devices ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []*models.Device
	for rows.Next() {
		device := &models.Device{}
		if err := rows.Scan(&device.ID, &device.Name, &device.Protocol, &device.Host,
			&device.Port, &device.APIPath, &device.Token); err != nil {
			return nil, err
		}
		devices = append(devices, device)
	}
	return devices, rows.Err()
}

// DeleteDevice deletes a device by id
func (s *SQLiteStore) DeleteDevice(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
