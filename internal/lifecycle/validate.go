package lifecycle

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fieldops/tripsync/internal/domain"
)

// plateRe accepts both the legacy plate format (ABC1234, with optional dash)
// and the Mercosur format (ABC1D23).
var plateRe = regexp.MustCompile(`^[A-Z]{3}-?[0-9][A-Z0-9][0-9]{2}$`)

func validateStart(in StartInput) error {
	if in.DriverID == "" {
		return fmt.Errorf("%w: driver is required", domain.ErrValidation)
	}
	if in.DriverPhoto == nil || (len(in.DriverPhoto.Data) == 0 && in.DriverPhoto.URL == "") {
		return fmt.Errorf("%w: driver photo is required", domain.ErrValidation)
	}
	if in.InitialKm < 0 {
		return fmt.Errorf("%w: initial odometer must not be negative", domain.ErrValidation)
	}

	switch {
	case in.VehicleID == "" && in.Rented == nil:
		return fmt.Errorf("%w: a vehicle or a rented-vehicle descriptor is required", domain.ErrValidation)
	case in.VehicleID != "" && in.Rented != nil:
		return fmt.Errorf("%w: vehicle and rented-vehicle descriptor are mutually exclusive", domain.ErrValidation)
	case in.Rented != nil:
		plate := strings.ToUpper(strings.TrimSpace(in.Rented.Plate))
		if !plateRe.MatchString(plate) {
			return fmt.Errorf("%w: rented vehicle plate %q is malformed", domain.ErrValidation, in.Rented.Plate)
		}
		if in.Rented.Model == "" {
			return fmt.Errorf("%w: rented vehicle model is required", domain.ErrValidation)
		}
	}
	return nil
}
