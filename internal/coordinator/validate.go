package coordinator

import (
	"math"
	"strings"

	"realtime-board/internal/model"
)

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func validatePosition(in *PositionInput) (model.Position, error) {
	if in == nil || in.X == nil || in.Y == nil {
		return model.Position{}, model.NewValidationError("position", "x and y are required")
	}
	if !finite(*in.X) || !finite(*in.Y) {
		return model.Position{}, model.NewValidationError("position", "x and y must be finite numbers")
	}
	return model.Position{X: *in.X, Y: *in.Y}, nil
}

func validateLayer(layer *float64) (int, error) {
	if layer == nil {
		return 0, model.NewValidationError("layer", "is required")
	}
	v := *layer
	if !finite(v) || v != math.Trunc(v) {
		return 0, model.NewValidationError("layer", "must be an integer")
	}
	if v < model.MinLayer || v > model.MaxLayer {
		return 0, model.NewValidationError("layer", "must be between 0 and 4")
	}
	return int(v), nil
}

func validateMarker(in AddMarkerPayload) (model.Marker, error) {
	if strings.TrimSpace(in.Type) == "" {
		return model.Marker{}, model.NewValidationError("type", "is required")
	}
	pos, err := validatePosition(in.Position)
	if err != nil {
		return model.Marker{}, err
	}
	layer, err := validateLayer(in.Layer)
	if err != nil {
		return model.Marker{}, err
	}
	return model.Marker{
		Type:     model.MarkerType(in.Type),
		Position: pos,
		Layer:    layer,
		Content:  in.Content,
		ImageURL: in.ImageURL,
	}, nil
}

func validateStroke(s model.Stroke) error {
	if len(s.Points)%2 != 0 {
		return model.NewValidationError("points", "must hold x,y pairs")
	}
	for _, p := range s.Points {
		if !finite(p) {
			return model.NewValidationError("points", "must be finite numbers")
		}
	}
	if !finite(s.StrokeWidth) {
		return model.NewValidationError("strokeWidth", "must be a finite number")
	}
	return nil
}

func validateLayerChange(layer string) error {
	if layer == "" {
		return model.NewValidationError("layer", "is required")
	}
	return nil
}

func requireID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return model.NewValidationError(field, "is required")
	}
	return nil
}
