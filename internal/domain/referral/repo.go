package referral

import "context"

// Repository persists sample requests.
//
// Create may replace the advisory ID and RequestDate with values assigned by
// the store; the returned record is what the store echoed back and is not
// guaranteed to be authoritative. UpdateStatus writes the status together
// with the lifecycle fields that accompany it (arrival, promise, result).
type Repository interface {
	List(ctx context.Context) ([]*SampleRequest, error)
	Create(ctx context.Context, sr *SampleRequest) (*SampleRequest, error)
	UpdateStatus(ctx context.Context, sr *SampleRequest) error
}
