// Package dnsregistrar provides the internal/node.DNS implementation used by
// cmd/controlplaned. No example in the reference corpus wires a DNS provider
// SDK (route53, Cloudflare) for this narrow record-per-node need, so this
// logs every create/delete and hands back a random UUID record id instead
// of reaching for an unrelated ecosystem client.
package dnsregistrar

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/blockjoy/controlplane/infrastructure/logging"
)

// Registrar is a no-op DNS registrar that logs every record change. It
// satisfies internal/node.DNS.
type Registrar struct {
	zone string
	log  *logging.Logger
}

// New builds a Registrar that would publish records under the given zone
// (e.g. "nodes.blockjoy.internal").
func New(zone string, log *logging.Logger) *Registrar {
	return &Registrar{zone: zone, log: log}
}

func (r *Registrar) CreateRecord(ctx context.Context, name, ip string) (string, error) {
	recordID := uuid.NewString()
	fqdn := fmt.Sprintf("%s.%s", name, r.zone)
	r.log.Info(ctx, "dns record created", map[string]interface{}{
		"record_id": recordID,
		"fqdn":      fqdn,
		"ip":        ip,
	})
	return recordID, nil
}

func (r *Registrar) DeleteRecord(ctx context.Context, recordID string) error {
	r.log.Info(ctx, "dns record deleted", map[string]interface{}{"record_id": recordID})
	return nil
}
