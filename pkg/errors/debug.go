package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stripe/stripe-go/v84"
)

// ErrorDump flattens an error chain for logs. It is never sent to clients.
type ErrorDump struct {
	TopMessage string   `json:"top_message"`
	Code       Code     `json:"code,omitempty"`
	Chain      []string `json:"chain,omitempty"`

	DB      *DBDetail      `json:"db,omitempty"`
	Gateway *GatewayDetail `json:"gateway,omitempty"`
}

// DBDetail carries the Postgres fields that explain constraint failures,
// e.g. a duplicate (environment, stripe_*_id) pair.
type DBDetail struct {
	Code       string `json:"code,omitempty"`
	Constraint string `json:"constraint,omitempty"`
	Table      string `json:"table,omitempty"`
	Column     string `json:"column,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Message    string `json:"message,omitempty"`
}

// GatewayDetail carries what the payment gateway said about a failed call.
type GatewayDetail struct {
	Type        string `json:"type,omitempty"`
	Code        string `json:"code,omitempty"`
	DeclineCode string `json:"decline_code,omitempty"`
	Param       string `json:"param,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
	HTTPStatus  int    `json:"http_status,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}

	d := ErrorDump{TopMessage: err.Error()}
	if te := As(err); te != nil {
		d.Code = te.Code()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}
	d.DB = dbDetail(err)
	d.Gateway = gatewayDetail(err)
	return d
}

// Fields returns the dump as flat log fields, skipping empty sections.
func (d ErrorDump) Fields() map[string]any {
	fields := map[string]any{
		"error_code":  d.Code,
		"error_chain": d.Chain,
	}
	if d.DB != nil {
		fields["pg_code"] = d.DB.Code
		fields["pg_constraint"] = d.DB.Constraint
		fields["pg_table"] = d.DB.Table
	}
	if d.Gateway != nil {
		fields["gateway_error_type"] = d.Gateway.Type
		fields["gateway_error_code"] = d.Gateway.Code
		fields["gateway_request_id"] = d.Gateway.RequestID
		if d.Gateway.DeclineCode != "" {
			fields["gateway_decline_code"] = d.Gateway.DeclineCode
		}
	}
	return fields
}

func dbDetail(err error) *DBDetail {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return &DBDetail{
			Code:       pgxErr.Code,
			Constraint: pgxErr.ConstraintName,
			Table:      pgxErr.TableName,
			Column:     pgxErr.ColumnName,
			Detail:     pgxErr.Detail,
			Message:    pgxErr.Message,
		}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &DBDetail{
			Code:       string(pqErr.Code),
			Constraint: pqErr.Constraint,
			Table:      pqErr.Table,
			Column:     pqErr.Column,
			Detail:     pqErr.Detail,
			Message:    pqErr.Message,
		}
	}
	return nil
}

func gatewayDetail(err error) *GatewayDetail {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return nil
	}
	return &GatewayDetail{
		Type:        string(stripeErr.Type),
		Code:        string(stripeErr.Code),
		DeclineCode: string(stripeErr.DeclineCode),
		Param:       stripeErr.Param,
		RequestID:   stripeErr.RequestID,
		HTTPStatus:  stripeErr.HTTPStatusCode,
	}
}
