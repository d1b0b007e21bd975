package recon

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/regsync_backend/models"
	"github.com/shopspring/decimal"
)

func checkpointByName(t *testing.T, result CheckpointResult, name string) Checkpoint {
	t.Helper()
	for _, cp := range result.Checkpoints {
		if cp.Name == name {
			return cp
		}
	}
	t.Fatalf("checkpoint %q not found in %v", name, result.Checkpoints)
	return Checkpoint{}
}

func TestComputeCheckpoints_PaymentThreshold(t *testing.T) {
	reg := models.RegulatoryRegistration{InvoiceId: "I1"}
	invoice := &models.Invoice{TotalAmount: decimal.RequireFromString("10000.00")}

	// 500 / 10000 = 5.00% >= 5% → true.
	result := ComputeCheckpoints(reg, invoice, decimal.RequireFromString("500.00"))
	if !checkpointByName(t, result, "payment_received").Done {
		t.Fatal("payment checkpoint must be true at exactly 5%")
	}

	// 499.99 / 10000 = 4.9999% → false.
	result = ComputeCheckpoints(reg, invoice, decimal.RequireFromString("499.99"))
	if checkpointByName(t, result, "payment_received").Done {
		t.Fatal("payment checkpoint must be false below 5%")
	}
}

func TestComputeCheckpoints_FullyPaid(t *testing.T) {
	reg := models.RegulatoryRegistration{InvoiceId: "I1"}
	invoice := &models.Invoice{TotalAmount: decimal.NewFromInt(10000)}

	result := ComputeCheckpoints(reg, invoice, decimal.NewFromInt(10000))
	if !checkpointByName(t, result, "fully_paid").Done {
		t.Fatal("fully_paid must be true when paid >= total")
	}
	result = ComputeCheckpoints(reg, invoice, decimal.NewFromInt(9999))
	if checkpointByName(t, result, "fully_paid").Done {
		t.Fatal("fully_paid must be false when paid < total")
	}
}

func TestComputeCheckpoints_NoInvoice(t *testing.T) {
	// Payment checkpoints are undefined without an invoice total; both
	// must be false rather than a division by zero.
	reg := models.RegulatoryRegistration{CustomerId: "C1"}
	result := ComputeCheckpoints(reg, nil, decimal.NewFromInt(500))

	if checkpointByName(t, result, "payment_received").Done {
		t.Fatal("payment checkpoint must be false without an invoice")
	}
	if checkpointByName(t, result, "fully_paid").Done {
		t.Fatal("fully_paid must be false without an invoice")
	}
	if !checkpointByName(t, result, "customer_linked").Done {
		t.Fatal("customer_linked should hold independently of the invoice")
	}
}

func TestComputeCheckpoints_PercentageRounded(t *testing.T) {
	submitted := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	reg := models.RegulatoryRegistration{
		CustomerId:         "C1",
		InvoiceId:          "I1",
		RegistrationNumber: "REG-001",
		SubmittedAt:        &submitted,
	}
	invoice := &models.Invoice{TotalAmount: decimal.NewFromInt(10000)}

	result := ComputeCheckpoints(reg, invoice, decimal.NewFromInt(600))
	// customer_linked, invoice_linked, invoice_total_recorded,
	// registration_number_assigned, submitted, payment_received → 6 of 8.
	if result.CompletedCount != 6 {
		t.Fatalf("expected 6 completed, got %d (%v)", result.CompletedCount, result.Checkpoints)
	}
	if result.Percentage != 75 {
		t.Fatalf("expected 75%%, got %d", result.Percentage)
	}
}

func TestComputeCheckpoints_CertificateArchived(t *testing.T) {
	t.Setenv("STORAGE_ACCESS_BASE_URL", "https://cdn.regsync.example/files")

	reg := models.RegulatoryRegistration{
		CertificateUrl: "https://cdn.regsync.example/files/recon/regulatory_registration/certificate_url/7_cert_1709287200.pdf",
	}
	result := ComputeCheckpoints(reg, nil, decimal.Zero)
	if !checkpointByName(t, result, "certificate_archived").Done {
		t.Fatal("local certificate URL should count as archived")
	}

	reg.CertificateUrl = "https://fieldbookusercontent.com/att/cert.pdf"
	result = ComputeCheckpoints(reg, nil, decimal.Zero)
	if checkpointByName(t, result, "certificate_archived").Done {
		t.Fatal("remote certificate URL must not count as archived")
	}
}

func TestComputeCheckpoints_OrderIsFixed(t *testing.T) {
	want := []string{
		"customer_linked", "invoice_linked", "invoice_total_recorded",
		"registration_number_assigned", "submitted", "certificate_archived",
		"payment_received", "fully_paid",
	}
	result := ComputeCheckpoints(models.RegulatoryRegistration{}, nil, decimal.Zero)
	if len(result.Checkpoints) != len(want) {
		t.Fatalf("expected %d checkpoints, got %d", len(want), len(result.Checkpoints))
	}
	for i, cp := range result.Checkpoints {
		if cp.Name != want[i] {
			t.Fatalf("checkpoint %d: expected %q, got %q", i, want[i], cp.Name)
		}
	}
}
