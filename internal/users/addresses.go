package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var ErrAddressNotFound = errors.New("address not found")

const addressColumns = `
	id, user_id, full_name, phone, address_line1, address_line2,
	city, state, pincode, label, is_default, created_at
`

// InsertAddress stores a new address in the user's address book. Marking
// it default clears the flag on the user's other addresses.
func (c *Conf) InsertAddress(ctx context.Context, userID string, na NewAddress) (Address, error) {
	label := na.Label
	if label == "" {
		label = "Home"
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return Address{}, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if na.IsDefault {
		if _, err := tx.ExecContext(ctx, `UPDATE addresses SET is_default = FALSE WHERE user_id = $1`, userID); err != nil {
			return Address{}, fmt.Errorf("failed to clear default address: %w", err)
		}
	}

	query := `
		INSERT INTO addresses (id, user_id, full_name, phone, address_line1, address_line2,
			city, state, pincode, label, is_default, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		RETURNING ` + addressColumns
	a, err := scanAddress(tx.QueryRowContext(ctx, query, uuid.NewString(), userID, na.FullName, na.Phone,
		na.AddressLine1, na.AddressLine2, na.City, na.State, na.Pincode, label, na.IsDefault))
	if err != nil {
		return Address{}, fmt.Errorf("failed to insert address: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Address{}, fmt.Errorf("failed to commit address insert: %w", err)
	}
	return a, nil
}

// ListAddresses returns the user's saved addresses, default first.
func (c *Conf) ListAddresses(ctx context.Context, userID string) ([]Address, error) {
	query := `
		SELECT ` + addressColumns + `
		FROM addresses
		WHERE user_id = $1
		ORDER BY is_default DESC, created_at DESC
	`
	rows, err := c.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query addresses: %w", err)
	}
	defer rows.Close()

	var list []Address
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan address: %w", err)
		}
		list = append(list, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating addresses: %w", err)
	}
	return list, nil
}

// GetAddress returns one saved address, scoped to its owner.
func (c *Conf) GetAddress(ctx context.Context, userID, id string) (Address, error) {
	query := `SELECT ` + addressColumns + ` FROM addresses WHERE id = $1 AND user_id = $2`
	a, err := scanAddress(c.db.QueryRowContext(ctx, query, id, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Address{}, ErrAddressNotFound
		}
		return Address{}, fmt.Errorf("failed to query address: %w", err)
	}
	return a, nil
}

// DeleteAddress removes a saved address, scoped to its owner.
func (c *Conf) DeleteAddress(ctx context.Context, userID, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM addresses WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete address: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrAddressNotFound
	}
	return nil
}

type addressScanner interface {
	Scan(dest ...any) error
}

func scanAddress(row addressScanner) (Address, error) {
	var a Address
	err := row.Scan(&a.ID, &a.UserID, &a.FullName, &a.Phone, &a.AddressLine1, &a.AddressLine2,
		&a.City, &a.State, &a.Pincode, &a.Label, &a.IsDefault, &a.CreatedAt)
	if err != nil {
		return Address{}, err
	}
	return a, nil
}
