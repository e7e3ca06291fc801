package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/allisson/kms/internal/audit"
	kmsDomain "github.com/allisson/kms/internal/kms/domain"
)

// AuditRecordLister reads persisted audit records, newest first.
type AuditRecordLister interface {
	List(ctx context.Context, limit int) ([]*kmsDomain.AuditRecord, error)
}

// AuditRecordVerifier checks the signature of one audit record.
type AuditRecordVerifier interface {
	Verify(record *kmsDomain.AuditRecord) error
}

// Verification statuses reported per record.
const (
	StatusValid    = "valid"
	StatusInvalid  = "invalid"
	StatusUnsigned = "unsigned"
)

// AuditVerification is the outcome for a single record.
type AuditVerification struct {
	ID        uuid.UUID         `json:"id"`
	Name      string            `json:"name"`
	Version   uint              `json:"version,omitempty"`
	Action    kmsDomain.Action  `json:"action"`
	Outcome   kmsDomain.Outcome `json:"outcome"`
	Timestamp time.Time         `json:"timestamp"`
	Status    string            `json:"status"`
}

// AuditVerificationReport summarizes a verification run.
type AuditVerificationReport struct {
	TotalChecked  int                 `json:"total_checked"`
	ValidCount    int                 `json:"valid_count"`
	InvalidCount  int                 `json:"invalid_count"`
	UnsignedCount int                 `json:"unsigned_count"`
	Records       []AuditVerification `json:"records"`
}

// RunVerifyAuditRecords checks the HMAC signatures of the newest limit persisted audit
// records. Records written before the signing key was installed are reported as
// unsigned. It returns an error when any signature does not match.
func RunVerifyAuditRecords(
	ctx context.Context,
	lister AuditRecordLister,
	verifier AuditRecordVerifier,
	logger *slog.Logger,
	writer io.Writer,
	limit int,
	format string,
) error {
	if err := validateFormat(format); err != nil {
		return err
	}
	if limit < 1 {
		return fmt.Errorf("limit must be positive, got %d", limit)
	}

	records, err := lister.List(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list audit records: %w", err)
	}

	report := &AuditVerificationReport{Records: make([]AuditVerification, 0, len(records))}
	for _, record := range records {
		status, err := verifyRecord(verifier, record)
		if err != nil {
			return err
		}
		switch status {
		case StatusValid:
			report.ValidCount++
		case StatusInvalid:
			report.InvalidCount++
		case StatusUnsigned:
			report.UnsignedCount++
		}
		report.TotalChecked++
		report.Records = append(report.Records, AuditVerification{
			ID:        record.ID,
			Name:      record.Name,
			Version:   record.Version,
			Action:    record.Action,
			Outcome:   record.Outcome,
			Timestamp: record.Timestamp,
			Status:    status,
		})
	}

	if format == FormatJSON {
		if err := writeJSON(writer, report); err != nil {
			return fmt.Errorf("failed to output JSON: %w", err)
		}
	} else if err := outputVerifyText(writer, report); err != nil {
		return err
	}

	logger.Info("verification completed",
		slog.Int("total_checked", report.TotalChecked),
		slog.Int("valid", report.ValidCount),
		slog.Int("invalid", report.InvalidCount),
		slog.Int("unsigned", report.UnsignedCount),
	)

	if report.InvalidCount > 0 {
		return fmt.Errorf("integrity check failed: %d invalid signature(s)", report.InvalidCount)
	}
	return nil
}

func verifyRecord(verifier AuditRecordVerifier, record *kmsDomain.AuditRecord) (string, error) {
	if len(record.Signature) == 0 {
		return StatusUnsigned, nil
	}

	err := verifier.Verify(record)
	switch {
	case err == nil:
		return StatusValid, nil
	case errors.Is(err, audit.ErrSignatureInvalid):
		return StatusInvalid, nil
	default:
		return "", fmt.Errorf("failed to verify audit record %s: %w", record.ID, err)
	}
}

func outputVerifyText(writer io.Writer, report *AuditVerificationReport) error {
	_, _ = fmt.Fprintf(writer, "Audit Record Integrity Verification\n")
	_, _ = fmt.Fprintf(writer, "===================================\n\n")

	tw := tabwriter.NewWriter(writer, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tTIMESTAMP\tACTION\tNAME\tVERSION\tOUTCOME\tSTATUS")
	for _, r := range report.Records {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.ID, formatTime(r.Timestamp), r.Action, r.Name, r.Version, r.Outcome, r.Status)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(writer, "\nTotal checked: %d\n", report.TotalChecked)
	_, _ = fmt.Fprintf(writer, "Valid:         %d\n", report.ValidCount)
	_, _ = fmt.Fprintf(writer, "Invalid:       %d\n", report.InvalidCount)
	_, _ = fmt.Fprintf(writer, "Unsigned:      %d\n", report.UnsignedCount)

	if report.InvalidCount > 0 {
		_, _ = fmt.Fprintf(writer, "\nStatus: FAILED\n")
	} else {
		_, _ = fmt.Fprintf(writer, "\nStatus: PASSED\n")
	}
	return nil
}
