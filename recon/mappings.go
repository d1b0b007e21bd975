package recon

import "bitbucket.org/mmdatafocus/regsync_backend/models"

// The upstream base exposes entities under drifting, human-readable field
// names. These tables are the single source of truth for the translation;
// keys absent here end up in the per-record Unmapped drift report rather
// than silently discarded. Alternate spellings observed upstream map to
// the same column on purpose.
var mappingTables = map[models.EntityKind][]FieldMap{
	models.KindCustomer: {
		{Remote: "_id", Column: "external_id", Kind: FieldString},
		{Remote: "Name", Column: "name", Kind: FieldString},
		{Remote: "Customer Name", Column: "name", Kind: FieldString},
		{Remote: "Email", Column: "email", Kind: FieldString},
		{Remote: "E-mail", Column: "email", Kind: FieldString},
		{Remote: "Phone", Column: "phone", Kind: FieldPhone},
		{Remote: "Phone Number", Column: "phone", Kind: FieldPhone},
		{Remote: "Mobile", Column: "mobile", Kind: FieldPhone},
		{Remote: "Address", Column: "address", Kind: FieldString},
		{Remote: "Tax Number", Column: "tax_number", Kind: FieldString},
		{Remote: "TIN", Column: "tax_number", Kind: FieldString},
		{Remote: "Agents", Column: "agent_ids", Kind: FieldString, IsArray: true},
		{Remote: "Linked Agents", Column: "agent_ids", Kind: FieldString, IsArray: true},
		{Remote: "Notes", Column: "notes", Kind: FieldString},
	},
	models.KindAgent: {
		{Remote: "_id", Column: "external_id", Kind: FieldString},
		{Remote: "Name", Column: "name", Kind: FieldString},
		{Remote: "Agent Name", Column: "name", Kind: FieldString},
		{Remote: "Email", Column: "email", Kind: FieldString},
		{Remote: "Phone", Column: "phone", Kind: FieldPhone},
		{Remote: "License Number", Column: "license_number", Kind: FieldString},
		{Remote: "License No.", Column: "license_number", Kind: FieldString},
		{Remote: "Region", Column: "region", Kind: FieldString},
	},
	models.KindInvoice: {
		{Remote: "_id", Column: "external_id", Kind: FieldString},
		{Remote: "Invoice Number", Column: "invoice_number", Kind: FieldString},
		{Remote: "Invoice No.", Column: "invoice_number", Kind: FieldString},
		{Remote: "Invoice Date", Column: "invoice_date", Kind: FieldTimestamp},
		{Remote: "Date", Column: "invoice_date", Kind: FieldTimestamp},
		{Remote: "Total Amount", Column: "total_amount", Kind: FieldNumeric},
		{Remote: "Total", Column: "total_amount", Kind: FieldNumeric},
		{Remote: "Currency", Column: "currency", Kind: FieldString},
		{Remote: "Status", Column: "status", Kind: FieldString},
		{Remote: "Linked Customer", Column: "customer_id", Kind: FieldString},
		{Remote: "Customer", Column: "customer_id", Kind: FieldString},
		{Remote: "Linked Agent", Column: "agent_id", Kind: FieldString},
		{Remote: "Registration", Column: "registration_id", Kind: FieldString},
		{Remote: "Linked Registration", Column: "registration_id", Kind: FieldString},
		{Remote: "Attachment", Column: "attachment_url", Kind: FieldString},
		{Remote: "Invoice PDF", Column: "attachment_url", Kind: FieldString},
		{Remote: "Notes", Column: "notes", Kind: FieldString},
	},
	models.KindLineItem: {
		{Remote: "_id", Column: "external_id", Kind: FieldString},
		{Remote: "Invoice", Column: "invoice_id", Kind: FieldString},
		{Remote: "Linked Invoice", Column: "invoice_id", Kind: FieldString},
		{Remote: "Description", Column: "description", Kind: FieldString},
		{Remote: "Item", Column: "description", Kind: FieldString},
		{Remote: "Quantity", Column: "quantity", Kind: FieldNumeric},
		{Remote: "Qty", Column: "quantity", Kind: FieldNumeric},
		{Remote: "Unit Price", Column: "unit_price", Kind: FieldNumeric},
		{Remote: "Amount", Column: "amount", Kind: FieldNumeric},
		{Remote: "Position", Column: "position", Kind: FieldInteger},
		{Remote: "Sort Order", Column: "position", Kind: FieldInteger},
	},
	models.KindPayment: {
		{Remote: "_id", Column: "external_id", Kind: FieldString},
		{Remote: "Invoice", Column: "invoice_id", Kind: FieldString},
		{Remote: "Linked Invoice", Column: "invoice_id", Kind: FieldString},
		{Remote: "Customer", Column: "customer_id", Kind: FieldString},
		{Remote: "Linked Customer", Column: "customer_id", Kind: FieldString},
		{Remote: "Amount", Column: "amount", Kind: FieldNumeric},
		{Remote: "Paid Amount", Column: "amount", Kind: FieldNumeric},
		{Remote: "Payment Date", Column: "payment_date", Kind: FieldTimestamp},
		{Remote: "Date", Column: "payment_date", Kind: FieldTimestamp},
		{Remote: "Method", Column: "method", Kind: FieldString},
		{Remote: "Payment Method", Column: "method", Kind: FieldString},
		{Remote: "Reference", Column: "reference_number", Kind: FieldString},
		{Remote: "Reference No.", Column: "reference_number", Kind: FieldString},
		{Remote: "Receipt", Column: "receipt_url", Kind: FieldString},
	},
	models.KindRegistration: {
		{Remote: "_id", Column: "external_id", Kind: FieldString},
		{Remote: "Registration Number", Column: "registration_number", Kind: FieldString},
		{Remote: "Reg No.", Column: "registration_number", Kind: FieldString},
		{Remote: "Invoice", Column: "invoice_id", Kind: FieldString},
		{Remote: "Linked Invoice", Column: "invoice_id", Kind: FieldString},
		{Remote: "Customer", Column: "customer_id", Kind: FieldString},
		{Remote: "Linked Customer", Column: "customer_id", Kind: FieldString},
		{Remote: "Status", Column: "status", Kind: FieldString},
		{Remote: "Submitted At", Column: "submitted_at", Kind: FieldTimestamp},
		{Remote: "Submission Date", Column: "submitted_at", Kind: FieldTimestamp},
		{Remote: "Certificate", Column: "certificate_url", Kind: FieldString},
		{Remote: "Documents", Column: "document_urls", Kind: FieldString, IsArray: true},
		{Remote: "Supporting Documents", Column: "document_urls", Kind: FieldString, IsArray: true},
		{Remote: "Notes", Column: "notes", Kind: FieldString},
	},
}

// MappingFor returns the declarative mapping table for a kind.
func MappingFor(kind models.EntityKind) []FieldMap {
	return mappingTables[kind]
}
