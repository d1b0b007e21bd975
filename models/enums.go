package models

// EntityKind names one of the synced record kinds. The string value is also
// the kind segment used in remote API paths and object-key prefixes.
type EntityKind string

const (
	KindCustomer     EntityKind = "customer"
	KindAgent        EntityKind = "agent"
	KindInvoice      EntityKind = "invoice"
	KindLineItem     EntityKind = "invoice_line_item"
	KindPayment      EntityKind = "payment"
	KindRegistration EntityKind = "registration"
)

// SyncKindOrder is the dependency order for a full run: parents before the
// rows that reference them, so the Relational Linker has less to repair.
var SyncKindOrder = []EntityKind{
	KindCustomer,
	KindAgent,
	KindInvoice,
	KindLineItem,
	KindPayment,
	KindRegistration,
}

var kindTables = map[EntityKind]string{
	KindCustomer:     "customers",
	KindAgent:        "agents",
	KindInvoice:      "invoices",
	KindLineItem:     "invoice_line_items",
	KindPayment:      "payments",
	KindRegistration: "regulatory_registrations",
}

// Table returns the storage table for the kind, or "" for unknown kinds.
func (k EntityKind) Table() string {
	return kindTables[k]
}

func (k EntityKind) Valid() bool {
	_, ok := kindTables[k]
	return ok
}

// AuditColumns are owned by the Upsert Engine and local bookkeeping; the
// Merge Resolver never considers them candidate fields.
var AuditColumns = map[string]bool{
	"id":             true,
	"external_id":    true,
	"created_at":     true,
	"updated_at":     true,
	"last_synced_at": true,
}

const (
	SyncRunStatusQueued  = "queued"
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusFailed  = "failed"
	SyncRunStatusPartial = "partial"
)

const (
	SyncTriggeredManual = "manual"
	SyncTriggeredPubSub = "pubsub"
	SyncTriggeredCLI    = "cli"
)
