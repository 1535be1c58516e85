package products

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Conf struct {
	db *sql.DB
}

func NewConf(db *sql.DB) (Conf, error) {
	if db == nil {
		return Conf{}, fmt.Errorf("db is nil")
	}
	return Conf{db: db}, nil
}

func (c *Conf) InsertProduct(ctx context.Context, np NewProduct) (Product, error) {
	unit := np.Unit
	if unit == "" {
		unit = "pcs"
	}
	unitQty := np.UnitQuantity
	if unitQty <= 0 {
		unitQty = 1
	}

	query := `
		INSERT INTO products (id, name, description, category, image, price, stock, unit, unit_quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING id, name, description, category, image, price, stock, unit, unit_quantity, created_at, updated_at
	`
	var p Product
	err := c.db.QueryRowContext(ctx, query, uuid.NewString(), np.Name, np.Description, np.Category,
		np.Image, np.Price, np.Stock, unit, unitQty).
		Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.Image, &p.Price, &p.Stock,
			&p.Unit, &p.UnitQuantity, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Product{}, fmt.Errorf("failed to insert product: %w", err)
	}
	return p, nil
}

func (c *Conf) GetProductByID(ctx context.Context, productID string) (Product, error) {
	query := `
		SELECT id, name, description, category, image, price, stock, unit, unit_quantity, created_at, updated_at
		FROM products
		WHERE id = $1
	`
	var p Product
	err := c.db.QueryRowContext(ctx, query, productID).
		Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.Image, &p.Price, &p.Stock,
			&p.Unit, &p.UnitQuantity, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Product{}, err
	}
	return p, nil
}

func (c *Conf) UpdateProductInDB(ctx context.Context, productID string, p Product) (Product, error) {
	query := `
		UPDATE products
		SET name = $2, description = $3, category = $4, image = $5, price = $6, stock = $7,
		    unit = $8, unit_quantity = $9, updated_at = NOW()
		WHERE id = $1
		RETURNING id, name, description, category, image, price, stock, unit, unit_quantity, created_at, updated_at
	`
	var updated Product
	err := c.db.QueryRowContext(ctx, query, productID, p.Name, p.Description, p.Category,
		p.Image, p.Price, p.Stock, p.Unit, p.UnitQuantity).
		Scan(&updated.ID, &updated.Name, &updated.Description, &updated.Category, &updated.Image,
			&updated.Price, &updated.Stock, &updated.Unit, &updated.UnitQuantity,
			&updated.CreatedAt, &updated.UpdatedAt)
	if err != nil {
		return Product{}, fmt.Errorf("failed to update product: %w", err)
	}
	return updated, nil
}

func (c *Conf) DeleteProductFromDB(ctx context.Context, productID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	return nil
}

// sortColumns whitelists the sortable fields so user-supplied sort
// params never reach the SQL text directly.
var sortColumns = map[string]string{
	"name":       "name",
	"price":      "price",
	"stock":      "stock",
	"category":   "category",
	"created_at": "created_at",
}

func (c *Conf) ListProductsFromDB(ctx context.Context, nameFilter, categoryFilter string, limit, offset int, sort, order string) ([]Product, error) {
	column, ok := sortColumns[sort]
	if !ok {
		column = "name"
	}
	direction := "ASC"
	if strings.EqualFold(order, "desc") {
		direction = "DESC"
	}

	query := fmt.Sprintf(`
		SELECT id, name, description, category, image, price, stock, unit, unit_quantity, created_at, updated_at
		FROM products
		WHERE ($1 = '' OR name ILIKE '%%' || $1 || '%%')
		  AND ($2 = '' OR category = $2)
		ORDER BY %s %s
		LIMIT $3 OFFSET $4
	`, column, direction)

	rows, err := c.db.QueryContext(ctx, query, nameFilter, categoryFilter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var list []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.Image, &p.Price,
			&p.Stock, &p.Unit, &p.UnitQuantity, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating products: %w", err)
	}
	return list, nil
}

// GetProductStock returns the current stock level for one product.
func (c *Conf) GetProductStock(ctx context.Context, productID string) (int, error) {
	var stock int
	err := c.db.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&stock)
	if err != nil {
		return 0, err
	}
	return stock, nil
}
