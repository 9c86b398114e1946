package validation

import (
	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// purges are operator-initiated; an owner must not purge itself, and
	// dry-run is not implemented yet.
	v.RegisterStructValidation(purgeRequestStructValidation, PurgeRequest{})

	return v
}

func purgeRequestStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(PurgeRequest)

	if req.OwnerRef != "" && req.OwnerRef == req.RequestedBy {
		sl.ReportError(req.RequestedBy, "requested_by", "RequestedBy", "self_purge", "")
	}
	if req.DryRun {
		sl.ReportError(req.DryRun, "dry_run", "DryRun", "unsupported", "")
	}
}
