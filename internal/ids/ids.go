// Package ids provides strongly typed opaque identifiers for every domain
// entity. Each type wraps a uuid string and only converts to/from string
// through Parse/String, so a HostID can never be assigned where a NodeID is
// expected without an explicit, visible conversion.
package ids

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// typedID is the shared representation behind every concrete id type below.
type typedID string

func newTypedID() typedID {
	return typedID(uuid.NewString())
}

func parseTypedID(kind, s string) (typedID, error) {
	if s == "" {
		return "", fmt.Errorf("%s: empty id", kind)
	}
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("%s: invalid id %q: %w", kind, s, err)
	}
	return typedID(s), nil
}

// Each concrete type repeats the same four methods (String, IsZero, Value,
// Scan) rather than sharing a generic base, so each remains its own Go type
// and the compiler rejects cross-type assignment.

type UserID typedID

func NewUserID() UserID                  { return UserID(newTypedID()) }
func ParseUserID(s string) (UserID, error) { id, err := parseTypedID("UserID", s); return UserID(id), err }
func (id UserID) String() string          { return string(id) }
func (id UserID) IsZero() bool            { return id == "" }
func (id UserID) Value() (driver.Value, error) { return string(id), nil }
func (id *UserID) Scan(src any) error      { return scanInto(src, (*string)(id)) }

type OrgID typedID

func NewOrgID() OrgID                    { return OrgID(newTypedID()) }
func ParseOrgID(s string) (OrgID, error) { id, err := parseTypedID("OrgID", s); return OrgID(id), err }
func (id OrgID) String() string           { return string(id) }
func (id OrgID) IsZero() bool             { return id == "" }
func (id OrgID) Value() (driver.Value, error) { return string(id), nil }
func (id *OrgID) Scan(src any) error       { return scanInto(src, (*string)(id)) }

type HostID typedID

func NewHostID() HostID                    { return HostID(newTypedID()) }
func ParseHostID(s string) (HostID, error) { id, err := parseTypedID("HostID", s); return HostID(id), err }
func (id HostID) String() string            { return string(id) }
func (id HostID) IsZero() bool              { return id == "" }
func (id HostID) Value() (driver.Value, error) { return string(id), nil }
func (id *HostID) Scan(src any) error        { return scanInto(src, (*string)(id)) }

type NodeID typedID

func NewNodeID() NodeID                    { return NodeID(newTypedID()) }
func ParseNodeID(s string) (NodeID, error) { id, err := parseTypedID("NodeID", s); return NodeID(id), err }
func (id NodeID) String() string            { return string(id) }
func (id NodeID) IsZero() bool              { return id == "" }
func (id NodeID) Value() (driver.Value, error) { return string(id), nil }
func (id *NodeID) Scan(src any) error        { return scanInto(src, (*string)(id)) }

type CommandID typedID

func NewCommandID() CommandID                    { return CommandID(newTypedID()) }
func ParseCommandID(s string) (CommandID, error) { id, err := parseTypedID("CommandID", s); return CommandID(id), err }
func (id CommandID) String() string               { return string(id) }
func (id CommandID) IsZero() bool                 { return id == "" }
func (id CommandID) Value() (driver.Value, error)  { return string(id), nil }
func (id *CommandID) Scan(src any) error           { return scanInto(src, (*string)(id)) }

type IPAddressID typedID

func NewIPAddressID() IPAddressID { return IPAddressID(newTypedID()) }
func ParseIPAddressID(s string) (IPAddressID, error) { id, err := parseTypedID("IPAddressID", s); return IPAddressID(id), err }
func (id IPAddressID) String() string { return string(id) }
func (id IPAddressID) IsZero() bool   { return id == "" }
func (id IPAddressID) Value() (driver.Value, error) { return string(id), nil }
func (id *IPAddressID) Scan(src any) error { return scanInto(src, (*string)(id)) }

type RegionID typedID

func NewRegionID() RegionID                    { return RegionID(newTypedID()) }
func ParseRegionID(s string) (RegionID, error) { id, err := parseTypedID("RegionID", s); return RegionID(id), err }
func (id RegionID) String() string              { return string(id) }
func (id RegionID) IsZero() bool                { return id == "" }
func (id RegionID) Value() (driver.Value, error) { return string(id), nil }
func (id *RegionID) Scan(src any) error         { return scanInto(src, (*string)(id)) }

type BlockchainID typedID

func NewBlockchainID() BlockchainID { return BlockchainID(newTypedID()) }
func ParseBlockchainID(s string) (BlockchainID, error) { id, err := parseTypedID("BlockchainID", s); return BlockchainID(id), err }
func (id BlockchainID) String() string { return string(id) }
func (id BlockchainID) IsZero() bool   { return id == "" }
func (id BlockchainID) Value() (driver.Value, error) { return string(id), nil }
func (id *BlockchainID) Scan(src any) error { return scanInto(src, (*string)(id)) }

type NodeTypeID typedID

func NewNodeTypeID() NodeTypeID { return NodeTypeID(newTypedID()) }
func ParseNodeTypeID(s string) (NodeTypeID, error) { id, err := parseTypedID("NodeTypeID", s); return NodeTypeID(id), err }
func (id NodeTypeID) String() string { return string(id) }
func (id NodeTypeID) IsZero() bool   { return id == "" }
func (id NodeTypeID) Value() (driver.Value, error) { return string(id), nil }
func (id *NodeTypeID) Scan(src any) error { return scanInto(src, (*string)(id)) }

type VersionID typedID

func NewVersionID() VersionID { return VersionID(newTypedID()) }
func ParseVersionID(s string) (VersionID, error) { id, err := parseTypedID("VersionID", s); return VersionID(id), err }
func (id VersionID) String() string { return string(id) }
func (id VersionID) IsZero() bool   { return id == "" }
func (id VersionID) Value() (driver.Value, error) { return string(id), nil }
func (id *VersionID) Scan(src any) error { return scanInto(src, (*string)(id)) }

type ConfigID typedID

func NewConfigID() ConfigID { return ConfigID(newTypedID()) }
func ParseConfigID(s string) (ConfigID, error) { id, err := parseTypedID("ConfigID", s); return ConfigID(id), err }
func (id ConfigID) String() string { return string(id) }
func (id ConfigID) IsZero() bool   { return id == "" }
func (id ConfigID) Value() (driver.Value, error) { return string(id), nil }
func (id *ConfigID) Scan(src any) error { return scanInto(src, (*string)(id)) }

type APIKeyID typedID

func NewAPIKeyID() APIKeyID { return APIKeyID(newTypedID()) }
func ParseAPIKeyID(s string) (APIKeyID, error) { id, err := parseTypedID("APIKeyID", s); return APIKeyID(id), err }
func (id APIKeyID) String() string { return string(id) }
func (id APIKeyID) IsZero() bool   { return id == "" }
func (id APIKeyID) Value() (driver.Value, error) { return string(id), nil }
func (id *APIKeyID) Scan(src any) error { return scanInto(src, (*string)(id)) }

type InvitationID typedID

func NewInvitationID() InvitationID { return InvitationID(newTypedID()) }
func ParseInvitationID(s string) (InvitationID, error) { id, err := parseTypedID("InvitationID", s); return InvitationID(id), err }
func (id InvitationID) String() string { return string(id) }
func (id InvitationID) IsZero() bool   { return id == "" }
func (id InvitationID) Value() (driver.Value, error) { return string(id), nil }
func (id *InvitationID) Scan(src any) error { return scanInto(src, (*string)(id)) }

type SubscriptionID typedID

func NewSubscriptionID() SubscriptionID { return SubscriptionID(newTypedID()) }
func ParseSubscriptionID(s string) (SubscriptionID, error) { id, err := parseTypedID("SubscriptionID", s); return SubscriptionID(id), err }
func (id SubscriptionID) String() string { return string(id) }
func (id SubscriptionID) IsZero() bool   { return id == "" }
func (id SubscriptionID) Value() (driver.Value, error) { return string(id), nil }
func (id *SubscriptionID) Scan(src any) error { return scanInto(src, (*string)(id)) }

func scanInto(src any, dst *string) error {
	switch v := src.(type) {
	case nil:
		*dst = ""
		return nil
	case string:
		*dst = v
		return nil
	case []byte:
		*dst = string(v)
		return nil
	default:
		return fmt.Errorf("unsupported scan source %T for typed id", src)
	}
}
