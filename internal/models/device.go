package models

import (
	"fmt"
	"strings"
)

// Default StreamHub API ports. The device REST API listens on 8893 (HTTP)
// and 8896 (HTTPS); generic web ports configured by the user are overridden.
const (
	DefaultAPIPortHTTP  = 8893
	DefaultAPIPortHTTPS = 8896
)

// Device represents a configured StreamHub device. Rows are owned by the
// presentation layer's CRUD; the collector only reads them to poll.
type Device struct {
	ID       int64  `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	Protocol string `json:"protocol" db:"protocol"`
	Host     string `json:"host" db:"host"`
	Port     int    `json:"port" db:"port"`
	APIPath  string `json:"api_path" db:"api_path"`
	Token    string `json:"token" db:"token"`
}

// EffectiveAPIPort returns the port used to reach the device API. Generic
// web ports (0/80/443) map to the protocol-specific API port.
func (d *Device) EffectiveAPIPort() int {
	switch d.Port {
	case 0, 80, 443:
		if d.Protocol == "https" {
			return DefaultAPIPortHTTPS
		}
		return DefaultAPIPortHTTP
	default:
		return d.Port
	}
}

// BaseURL returns the device API base URL without a trailing slash.
func (d *Device) BaseURL() string {
	base := fmt.Sprintf("%s://%s:%d", d.Protocol, d.Host, d.EffectiveAPIPort())
	if p := strings.Trim(d.APIPath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
