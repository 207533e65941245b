package mysql

import (
	"context"
	"encoding/json"
	"fmt"

	domain "github.com/webber-shop/api/internal/domain"
)

// ShipmentRepository stores carrier shipments; the tracking timeline travels
// as a JSON column and is rewritten whenever new events are merged in.
type ShipmentRepository struct {
	run *runner
}

const shipmentColumns = `id, order_id, tracking_number, carrier, service_name, label_url, status, events, created_at, updated_at`

func (r *ShipmentRepository) Insert(ctx context.Context, shipment domain.Shipment) error {
	const op = "shipments: insert"
	events, err := json.Marshal(shipment.Events)
	if err != nil {
		return wrapQueryError(op, fmt.Errorf("encode tracking events: %w", err))
	}
	_, err = r.run.exec(ctx).ExecContext(ctx,
		`INSERT INTO shipments (`+shipmentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		shipment.ID, shipment.OrderID, shipment.TrackingNumber, shipment.Carrier,
		shipment.ServiceName, shipment.LabelURL, shipment.Status, events,
		shipment.CreatedAt, shipment.UpdatedAt,
	)
	return wrapQueryError(op, err)
}

func (r *ShipmentRepository) Update(ctx context.Context, shipment domain.Shipment) error {
	const op = "shipments: update"
	events, err := json.Marshal(shipment.Events)
	if err != nil {
		return wrapQueryError(op, fmt.Errorf("encode tracking events: %w", err))
	}
	result, err := r.run.exec(ctx).ExecContext(ctx,
		`UPDATE shipments SET status = ?, events = ?, label_url = ?, updated_at = ? WHERE id = ?`,
		shipment.Status, events, shipment.LabelURL, shipment.UpdatedAt, shipment.ID,
	)
	if err != nil {
		return wrapQueryError(op, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		var exists int
		if err := r.run.exec(ctx).QueryRowContext(ctx, `SELECT 1 FROM shipments WHERE id = ?`, shipment.ID).Scan(&exists); err != nil {
			return wrapQueryError(op, err)
		}
	}
	return nil
}

func (r *ShipmentRepository) FindByTrackingNumber(ctx context.Context, trackingNumber string) (domain.Shipment, error) {
	const op = "shipments: find by tracking number"
	query := `SELECT ` + shipmentColumns + ` FROM shipments WHERE tracking_number = ?`
	if r.run.inTx(ctx) {
		query += " FOR UPDATE"
	}
	shipment, err := scanShipment(r.run.exec(ctx).QueryRowContext(ctx, query, trackingNumber))
	if err != nil {
		return domain.Shipment{}, wrapQueryError(op, err)
	}
	return shipment, nil
}

func (r *ShipmentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Shipment, error) {
	const op = "shipments: list by order"
	rows, err := r.run.exec(ctx).QueryContext(ctx,
		`SELECT `+shipmentColumns+` FROM shipments WHERE order_id = ? ORDER BY created_at, id`,
		orderID,
	)
	if err != nil {
		return nil, wrapQueryError(op, err)
	}
	defer rows.Close()

	var shipments []domain.Shipment
	for rows.Next() {
		shipment, err := scanShipment(rows)
		if err != nil {
			return nil, wrapQueryError(op, err)
		}
		shipments = append(shipments, shipment)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryError(op, err)
	}
	return shipments, nil
}

func scanShipment(row rowScanner) (domain.Shipment, error) {
	var (
		shipment domain.Shipment
		events   []byte
	)
	err := row.Scan(
		&shipment.ID, &shipment.OrderID, &shipment.TrackingNumber, &shipment.Carrier,
		&shipment.ServiceName, &shipment.LabelURL, &shipment.Status, &events,
		&shipment.CreatedAt, &shipment.UpdatedAt,
	)
	if err != nil {
		return domain.Shipment{}, err
	}
	if err := json.Unmarshal(events, &shipment.Events); err != nil {
		return domain.Shipment{}, fmt.Errorf("decode tracking events: %w", err)
	}
	return shipment, nil
}
