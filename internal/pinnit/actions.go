package pinnit

import (
	"context"
	"fmt"
	"strings"
)

// AddPin drops a new pin at the given coordinates and saves it ahead of the
// existing collection. A blank name falls back to DefaultPinName.
func (r *Reconciler) AddPin(ctx context.Context, who *Identity, online bool, name string, latitude, longitude float64) (Pin, error) {
	if err := ValidateCoordinates(latitude, longitude); err != nil {
		return Pin{}, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultPinName
	}

	now := r.clock.Now()
	ts := now.UnixMilli()
	pin, err := NewPin(NewPinID(ts, r.idgen.New()), name, latitude, longitude, ts)
	if err != nil {
		return Pin{}, err
	}
	pin.CreatedAt = FormatTimeAgo(ts, now)
	pin.OwnerLabel = who.OwnerLabel()

	existing, err := r.LoadPins(ctx, who, online)
	if err != nil {
		return Pin{}, fmt.Errorf("loading pins: %w", err)
	}

	if err := r.SavePins(ctx, who, online, append([]Pin{pin}, existing...)); err != nil {
		return Pin{}, fmt.Errorf("saving pins: %w", err)
	}

	r.logger.Info("pin added", "id", pin.ID)
	return pin, nil
}

// RenamePin changes the name of the pin with the given id. The new name
// must not be blank.
func (r *Reconciler) RenamePin(ctx context.Context, who *Identity, online bool, id, name string) (Pin, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Pin{}, fmt.Errorf("%w: name must not be empty", ErrValidation)
	}

	pins, err := r.LoadPins(ctx, who, online)
	if err != nil {
		return Pin{}, fmt.Errorf("loading pins: %w", err)
	}

	idx := indexOf(pins, id)
	if idx < 0 {
		return Pin{}, fmt.Errorf("%w: %s", ErrPinNotFound, id)
	}
	pins[idx].Name = name

	if err := r.SavePins(ctx, who, online, pins); err != nil {
		return Pin{}, fmt.Errorf("saving pins: %w", err)
	}

	r.logger.Info("pin renamed", "id", id)
	return pins[idx], nil
}

// DeletePin permanently removes the pin with the given id from whichever
// store is authoritative for who.
func (r *Reconciler) DeletePin(ctx context.Context, who *Identity, online bool, id string) error {
	pins, err := r.LoadPins(ctx, who, online)
	if err != nil {
		return fmt.Errorf("loading pins: %w", err)
	}

	idx := indexOf(pins, id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrPinNotFound, id)
	}
	remaining := append(pins[:idx:idx], pins[idx+1:]...)

	if err := r.SavePins(ctx, who, online, remaining); err != nil {
		return fmt.Errorf("saving pins: %w", err)
	}

	r.logger.Info("pin deleted", "id", id)
	return nil
}

func indexOf(pins []Pin, id string) int {
	for i, p := range pins {
		if p.ID == id {
			return i
		}
	}
	return -1
}
