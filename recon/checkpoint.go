package recon

import (
	"context"
	"errors"
	"strings"

	"bitbucket.org/mmdatafocus/regsync_backend/models"
	"bitbucket.org/mmdatafocus/regsync_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PaymentCheckpointRatio is the contract threshold for the payment
// checkpoint: cumulative payments on the linked invoice must reach 5% of
// the invoice total.
var PaymentCheckpointRatio = decimal.NewFromFloat(0.05)

type Checkpoint struct {
	Name string `json:"name"`
	Done bool   `json:"done"`
}

type CheckpointResult struct {
	Checkpoints    []Checkpoint `json:"checkpoints"`
	CompletedCount int          `json:"completedCount"`
	Percentage     int          `json:"percentage"`
}

// ComputeCheckpoints derives the completeness score for a registration
// from the row plus its joined aggregates. Pure and unpersisted: inputs
// like cumulative payments move independently of the registration row, so
// the score is recomputed on every read.
//
// Checkpoint predicates, in fixed order:
//   - customer_linked:      customer_id is set
//   - invoice_linked:       invoice_id is set
//   - invoice_total_recorded: linked invoice exists with total > 0
//   - registration_number_assigned: registration_number is set
//   - submitted:            submitted_at is set
//   - certificate_archived: certificate_url points at local storage
//   - payment_received:     paid / invoice total >= 5%
//   - fully_paid:           paid >= invoice total (total > 0)
func ComputeCheckpoints(reg models.RegulatoryRegistration, invoice *models.Invoice, paidTotal decimal.Decimal) CheckpointResult {
	invoiceTotal := decimal.Zero
	if invoice != nil {
		invoiceTotal = invoice.TotalAmount
	}
	hasTotal := invoice != nil && invoiceTotal.IsPositive()

	paymentReceived := false
	fullyPaid := false
	if hasTotal {
		ratio := paidTotal.Div(invoiceTotal)
		paymentReceived = ratio.GreaterThanOrEqual(PaymentCheckpointRatio)
		fullyPaid = paidTotal.GreaterThanOrEqual(invoiceTotal)
	}

	checkpoints := []Checkpoint{
		{Name: "customer_linked", Done: strings.TrimSpace(reg.CustomerId) != ""},
		{Name: "invoice_linked", Done: strings.TrimSpace(reg.InvoiceId) != ""},
		{Name: "invoice_total_recorded", Done: hasTotal},
		{Name: "registration_number_assigned", Done: strings.TrimSpace(reg.RegistrationNumber) != ""},
		{Name: "submitted", Done: reg.SubmittedAt != nil},
		{Name: "certificate_archived", Done: isLocalReference(reg.CertificateUrl)},
		{Name: "payment_received", Done: paymentReceived},
		{Name: "fully_paid", Done: fullyPaid},
	}

	completed := 0
	for _, cp := range checkpoints {
		if cp.Done {
			completed++
		}
	}

	// completed / total * 100, rounded half up.
	pct := decimal.NewFromInt(int64(completed)).
		Div(decimal.NewFromInt(int64(len(checkpoints)))).
		Mul(decimal.NewFromInt(100)).
		Round(0).IntPart()

	return CheckpointResult{
		Checkpoints:    checkpoints,
		CompletedCount: completed,
		Percentage:     int(pct),
	}
}

func isLocalReference(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	for _, prefix := range utils.LocalServingPrefixes() {
		if strings.HasPrefix(raw, prefix+"/") {
			return true
		}
	}
	return false
}

// GetCheckpoints loads a registration with its joined invoice and summed
// payments, then computes the score.
func GetCheckpoints(ctx context.Context, db *gorm.DB, registrationId int) (CheckpointResult, error) {
	var reg models.RegulatoryRegistration
	err := db.WithContext(ctx).Where("id = ?", registrationId).Take(&reg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CheckpointResult{}, utils.ErrorRecordNotFound
	}
	if err != nil {
		return CheckpointResult{}, err
	}

	var invoice *models.Invoice
	paidTotal := decimal.Zero
	if strings.TrimSpace(reg.InvoiceId) != "" {
		var inv models.Invoice
		err := db.WithContext(ctx).Where("external_id = ?", reg.InvoiceId).Take(&inv).Error
		if err == nil {
			invoice = &inv
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return CheckpointResult{}, err
		}

		var total struct {
			Paid decimal.Decimal
		}
		err = db.WithContext(ctx).
			Model(&models.Payment{}).
			Select("COALESCE(SUM(amount), 0) AS paid").
			Where("invoice_id = ? AND is_deleted = false", reg.InvoiceId).
			Scan(&total).Error
		if err != nil {
			return CheckpointResult{}, err
		}
		paidTotal = total.Paid
	}

	return ComputeCheckpoints(reg, invoice, paidTotal), nil
}
