package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Diagnostics is the log-only view of an error. It never reaches API clients.
type Diagnostics struct {
	Message   string
	Code      Code
	Retryable bool
	Chain     []string
	Postgres  *PostgresDetail
}

// PostgresDetail carries the driver fields of a Postgres error, whichever
// driver produced it.
type PostgresDetail struct {
	SQLState   string
	Constraint string
	Table      string
	Column     string
	Detail     string
	Message    string
}

func Diagnose(err error) Diagnostics {
	if err == nil {
		return Diagnostics{}
	}

	code := CodeOf(err)
	d := Diagnostics{
		Message:   err.Error(),
		Code:      code,
		Retryable: MetadataFor(code).Retryable,
		Postgres:  postgresDetail(err),
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}
	return d
}

// Fields flattens the diagnostics into structured log fields, leaving out
// anything empty.
func (d Diagnostics) Fields() map[string]any {
	fields := map[string]any{
		"error_code":      d.Code,
		"error_retryable": d.Retryable,
	}
	if len(d.Chain) > 1 {
		fields["error_chain"] = d.Chain
	}
	if pg := d.Postgres; pg != nil {
		for key, value := range map[string]string{
			"pg_code":       pg.SQLState,
			"pg_constraint": pg.Constraint,
			"pg_table":      pg.Table,
			"pg_column":     pg.Column,
			"pg_detail":     pg.Detail,
			"pg_message":    pg.Message,
		} {
			if value != "" {
				fields[key] = value
			}
		}
	}
	return fields
}

func postgresDetail(err error) *PostgresDetail {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return &PostgresDetail{
			SQLState:   pgxErr.Code,
			Constraint: pgxErr.ConstraintName,
			Table:      pgxErr.TableName,
			Column:     pgxErr.ColumnName,
			Detail:     pgxErr.Detail,
			Message:    pgxErr.Message,
		}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &PostgresDetail{
			SQLState:   string(pqErr.Code),
			Constraint: pqErr.Constraint,
			Table:      pqErr.Table,
			Column:     pqErr.Column,
			Detail:     pqErr.Detail,
			Message:    pqErr.Message,
		}
	}
	return nil
}
