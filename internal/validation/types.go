package validation

// PurgeRequest is the payload for POST /purges: a request to delete all data
// owned by owner_ref.
type PurgeRequest struct {
	OwnerRef    string `json:"owner_ref" validate:"required"`    // entity whose data is purged
	RequestedBy string `json:"requested_by" validate:"required"` // operator identity, for audit
	Reason      string `json:"reason" validate:"required,min=3"` // free-form justification
	DryRun      bool   `json:"dry_run,omitempty"`                // reserved; rejected for now
}
