// Package producer implements the artifact producer: a pure function of a
// job's type and parameters that synthesizes the bytes of its report.
package producer

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/fermano/report-orchestrator/internal/domain"
)

// Producer is the standard domain.ArtifactProducer implementation. It has
// no external dependencies and never touches the store.
type Producer struct{}

// New constructs a Producer.
func New() *Producer { return &Producer{} }

// Produce renders the report body for job and returns it alongside its
// MIME type and SHA-256 checksum. The MIME type is fully determined by
// job.Params.Format; the content itself embeds a generation timestamp and
// so is not bit-for-bit deterministic across calls.
func (p *Producer) Produce(ctx domain.Context, job domain.Job) ([]byte, string, string, error) {
	var content []byte
	var contentType string
	var err error

	switch job.Params.Format {
	case domain.FormatCSV:
		content, err = renderCSV(job)
		contentType = "text/csv"
	case domain.FormatJSON:
		content, err = renderJSON(job)
		contentType = "application/json"
	default:
		return nil, "", "", fmt.Errorf("%w: unsupported output format %q", domain.ErrInvalidArgument, job.Params.Format)
	}
	if err != nil {
		return nil, "", "", fmt.Errorf("op=producer.produce: %w", err)
	}

	sum := sha256.Sum256(content)
	return content, contentType, hex.EncodeToString(sum[:]), nil
}

// reportRows yields the synthetic line items a report body is built from,
// varying by job type. This stands in for whatever a real deployment would
// compute from its own data sources.
func reportRows(job domain.Job) [][]string {
	switch job.Type {
	case domain.JobTypeUsageSummary:
		return [][]string{
			{"metric", "value"},
			{"tenant", job.Tenant},
			{"period_from", job.Params.From},
			{"period_to", job.Params.To},
			{"active_units", "0"},
			{"total_requests", "0"},
		}
	case domain.JobTypeBillingExport:
		return [][]string{
			{"line_item", "amount_cents"},
			{"tenant", job.Tenant},
			{"period_from", job.Params.From},
			{"period_to", job.Params.To},
			{"subtotal", "0"},
			{"tax", "0"},
			{"total", "0"},
		}
	case domain.JobTypeAuditSnapshot:
		return [][]string{
			{"event", "timestamp"},
			{"tenant", job.Tenant},
			{"snapshot_from", job.Params.From},
			{"snapshot_to", job.Params.To},
		}
	default:
		return [][]string{{"tenant", job.Tenant}}
	}
}

func renderCSV(job domain.Job) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	rows := reportRows(job)
	rows = append(rows, []string{"generated_at", time.Now().UTC().Format(time.RFC3339Nano)})
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type jsonReport struct {
	Tenant      string            `json:"tenant"`
	Type        domain.JobType    `json:"type"`
	From        string            `json:"from"`
	To          string            `json:"to"`
	GeneratedAt string            `json:"generatedAt"`
	Fields      map[string]string `json:"fields"`
}

func renderJSON(job domain.Job) ([]byte, error) {
	rows := reportRows(job)
	fields := make(map[string]string, len(rows))
	for i, row := range rows {
		if len(row) != 2 {
			continue
		}
		fields[row[0]+"_"+strconv.Itoa(i)] = row[1]
	}
	report := jsonReport{
		Tenant:      job.Tenant,
		Type:        job.Type,
		From:        job.Params.From,
		To:          job.Params.To,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Fields:      fields,
	}
	return json.Marshal(report)
}
