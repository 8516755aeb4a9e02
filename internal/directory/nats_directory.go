// Package directory provides clients for the external driver directory, the
// service that knows which phone number each tenant has on file per driver.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/sawafleet/collection-reconciler/internal/interfaces"
)

type lookupRequest struct {
	TenantID string `json:"tenant_id"`
	DriverID string `json:"driver_id"`
}

type lookupResponse struct {
	Found bool   `json:"found"`
	Phone string `json:"phone"`
}

// NATSDirectory resolves driver phones over NATS request/reply. The subject
// is driver.lookup.<tenant>, answered by the fleet directory service.
type NATSDirectory struct {
	nc      *nats.Conn
	timeout time.Duration
}

func NewNATSDirectory(nc *nats.Conn, timeout time.Duration) *NATSDirectory {
	return &NATSDirectory{nc: nc, timeout: timeout}
}

func (d *NATSDirectory) PhoneForDriver(ctx context.Context, tenantID, driverID string) (string, error) {
	payload, err := json.Marshal(lookupRequest{TenantID: tenantID, DriverID: driverID})
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	msg, err := d.nc.RequestWithContext(ctx, "driver.lookup."+tenantID, payload)
	if err != nil {
		// Timeouts and transport failures must surface as an error outcome,
		// not as a silent "no match".
		return "", fmt.Errorf("driver directory request: %w", err)
	}

	var resp lookupResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return "", fmt.Errorf("driver directory response: %w", err)
	}
	if !resp.Found || resp.Phone == "" {
		return "", interfaces.ErrDriverNotFound
	}
	return resp.Phone, nil
}
