package referral

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ conn queryable }

// NewRepoPG returns a Repository backed by the sample_request table.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{conn: pool}
}

const srCols = `id, dni, patient_name, age, sex, sample_type, urine_culture_method,
	presumptive_diagnosis, background, observations,
	request_date, status, arrival_date, promised_date, result_url, result_upload_date`

func scanSR(row pgx.Row) (*SampleRequest, error) {
	var sr SampleRequest
	var sex, status string
	var resultURL *string
	err := row.Scan(&sr.ID, &sr.Patient.DNI, &sr.Patient.Name, &sr.Patient.Age, &sex,
		&sr.Patient.SampleType, &sr.Patient.UrineCultureMethod,
		&sr.Patient.PresumptiveDiagnosis, &sr.Patient.Background, &sr.Patient.Observations,
		&sr.RequestDate, &status, &sr.ArrivalDate, &sr.PromisedDate, &resultURL, &sr.ResultUploadDate)
	if err != nil {
		return nil, err
	}
	sr.Patient.Sex = ParseSex(sex)
	sr.Status = ParseStatus(status)
	if resultURL != nil {
		sr.ResultURL = *resultURL
	}
	return &sr, nil
}

func (r *repoPG) List(ctx context.Context) ([]*SampleRequest, error) {
	rows, err := r.conn.Query(ctx, `SELECT `+srCols+` FROM sample_request ORDER BY request_date DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sample requests: %w", err)
	}
	defer rows.Close()

	var items []*SampleRequest
	for rows.Next() {
		sr, err := scanSR(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sample request: %w", err)
		}
		items = append(items, sr)
	}
	return items, rows.Err()
}

func (r *repoPG) Create(ctx context.Context, sr *SampleRequest) (*SampleRequest, error) {
	row := r.conn.QueryRow(ctx, `
		INSERT INTO sample_request (id, dni, patient_name, age, sex, sample_type, urine_culture_method,
			presumptive_diagnosis, background, observations, request_date, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING `+srCols,
		sr.ID, sr.Patient.DNI, sr.Patient.Name, sr.Patient.Age, string(sr.Patient.Sex),
		sr.Patient.SampleType, sr.Patient.UrineCultureMethod,
		sr.Patient.PresumptiveDiagnosis, sr.Patient.Background, sr.Patient.Observations,
		sr.RequestDate, string(sr.Status))
	created, err := scanSR(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("%w: duplicate id %s", ErrInvalidState, sr.ID)
		}
		return nil, fmt.Errorf("insert sample request: %w", err)
	}
	return created, nil
}

func (r *repoPG) UpdateStatus(ctx context.Context, sr *SampleRequest) error {
	var resultURL *string
	if sr.ResultURL != "" {
		resultURL = &sr.ResultURL
	}
	tag, err := r.conn.Exec(ctx, `
		UPDATE sample_request SET status=$2, arrival_date=$3, promised_date=$4,
			result_url=$5, result_upload_date=$6, updated_at=NOW()
		WHERE id = $1`,
		sr.ID, string(sr.Status), sr.ArrivalDate, sr.PromisedDate, resultURL, sr.ResultUploadDate)
	if err != nil {
		return fmt.Errorf("update sample request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, sr.ID)
	}
	return nil
}

// LoadScheduleOverrides merges the sample_type_schedule rows over base.
func LoadScheduleOverrides(ctx context.Context, pool *pgxpool.Pool, base ScheduleTable) (ScheduleTable, error) {
	return loadScheduleOverrides(ctx, pool, base)
}

func loadScheduleOverrides(ctx context.Context, conn queryable, base ScheduleTable) (ScheduleTable, error) {
	rows, err := conn.Query(ctx, `SELECT sample_type, days FROM sample_type_schedule`)
	if err != nil {
		return ScheduleTable{}, fmt.Errorf("load schedule overrides: %w", err)
	}
	defer rows.Close()

	entries := base.Entries()
	for rows.Next() {
		var name string
		var days int
		if err := rows.Scan(&name, &days); err != nil {
			return ScheduleTable{}, fmt.Errorf("scan schedule override: %w", err)
		}
		entries = overrideEntry(entries, name, days)
	}
	if err := rows.Err(); err != nil {
		return ScheduleTable{}, err
	}
	return NewScheduleTable(entries)
}
