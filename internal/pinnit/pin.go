package pinnit

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultPinName is used when a pin is created without a name.
const DefaultPinName = "Location name"

// Owner labels attached to pins at read time.
const (
	DeviceOwnerLabel  = "this device"
	AccountOwnerLabel = "My account"
)

// Pin is a named geographic coordinate saved by the user.
//
// Latitude, Longitude and Timestamp are fixed at creation. Only Name is ever
// edited. CreatedAt and OwnerLabel are display fields recomputed on read.
type Pin struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Timestamp  int64   `json:"timestamp"` // milliseconds since epoch
	CreatedAt  string  `json:"createdAt"`
	OwnerLabel string  `json:"ownerLabel,omitempty"`
}

// NewPin builds a Pin, rejecting names that are blank after trimming.
func NewPin(id, name string, latitude, longitude float64, timestamp int64) (Pin, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Pin{}, fmt.Errorf("%w: name must not be empty", ErrValidation)
	}
	return Pin{
		ID:        id,
		Name:      name,
		Latitude:  latitude,
		Longitude: longitude,
		Timestamp: timestamp,
	}, nil
}

// ValidateCoordinates rejects NaN and infinite values, a latitude outside
// [-90, 90] and a longitude outside [-180, 180].
func ValidateCoordinates(latitude, longitude float64) error {
	if math.IsNaN(latitude) || math.IsInf(latitude, 0) {
		return fmt.Errorf("%w: latitude %v is not a finite number", ErrValidation, latitude)
	}
	if math.IsNaN(longitude) || math.IsInf(longitude, 0) {
		return fmt.Errorf("%w: longitude %v is not a finite number", ErrValidation, longitude)
	}
	if latitude < -90 || latitude > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrValidation, latitude)
	}
	if longitude < -180 || longitude > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrValidation, longitude)
	}
	return nil
}

// NewPinID returns the client-side identifier for a pin created at timestamp.
// Uniqueness is advisory: nothing checks for collisions.
func NewPinID(timestamp int64, suffix string) string {
	return "pin_" + strconv.FormatInt(timestamp, 10) + "_" + suffix
}

// SortKey returns the value pins are ordered by (descending).
func (p Pin) SortKey() int64 {
	return p.Timestamp
}

// DedupKey identifies a pin for deduplication. Two pins with the same
// coordinates and timestamp are treated as the same pin regardless of ID.
func (p Pin) DedupKey() string {
	return formatCoordinate(p.Latitude) + "|" +
		formatCoordinate(p.Longitude) + "|" +
		strconv.FormatInt(p.Timestamp, 10)
}

// formatCoordinate folds -0 into 0, which compare equal but format apart.
func formatCoordinate(v float64) string {
	if v == 0 {
		v = 0
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Identity is an authenticated account. A nil *Identity means anonymous.
type Identity struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
	// Token authenticates remote calls made on behalf of this identity.
	Token string `json:"-"`
}

// OwnerLabel returns the label attached to pins owned by this identity.
func (i *Identity) OwnerLabel() string {
	if i == nil {
		return DeviceOwnerLabel
	}
	if i.DisplayName != "" {
		return i.DisplayName
	}
	if i.Username != "" {
		return i.Username
	}
	return AccountOwnerLabel
}
