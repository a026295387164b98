package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/InnokentiyKim/Retail/internal/domain/contact"
)

const (
	contactColumns = `id, user_id, phone, country, city, street, house, structure, building, apartment`

	getContactSQL = `SELECT ` + contactColumns + ` FROM contacts WHERE id = $1 AND user_id = $2`

	listContactsSQL = `SELECT ` + contactColumns + ` FROM contacts WHERE user_id = $1 ORDER BY id`

	createContactSQL = `INSERT INTO contacts
		(user_id, phone, country, city, street, house, structure, building, apartment)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`

	deleteContactsSQL = `DELETE FROM contacts WHERE user_id = $1 AND id = ANY($2)`
)

var _ contact.Repository = (*ContactRepository)(nil)

// ContactRepository implements contact.Repository backed by PostgreSQL.
type ContactRepository struct {
	pool *pgxpool.Pool
}

// NewContactRepository returns a ContactRepository that uses the given pool.
func NewContactRepository(pool *pgxpool.Pool) *ContactRepository {
	return &ContactRepository{pool: pool}
}

// Get returns a contact owned by userID.
func (r *ContactRepository) Get(ctx context.Context, userID, contactID int64) (*contact.Contact, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getContactSQL, contactID, userID)
	if err != nil {
		return nil, fmt.Errorf("getting contact %d: %w", contactID, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanContact)
	if err != nil {
		return nil, classify(err, "get contact", fmt.Sprintf("contact %d not found", contactID))
	}
	return &c, nil
}

// List returns the contacts of userID.
func (r *ContactRepository) List(ctx context.Context, userID int64) ([]contact.Contact, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listContactsSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing contacts of user %d: %w", userID, err)
	}
	contacts, err := pgx.CollectRows(rows, scanContact)
	if err != nil {
		return nil, fmt.Errorf("listing contacts of user %d: %w", userID, err)
	}
	return contacts, nil
}

// Create inserts c and sets its id.
func (r *ContactRepository) Create(ctx context.Context, c *contact.Contact) error {
	err := conn(ctx, r.pool).QueryRow(ctx, createContactSQL,
		c.UserID, c.Phone, c.Country, c.City, c.Street, c.House, c.Structure, c.Building, c.Apartment,
	).Scan(&c.ID)
	if err != nil {
		return classify(err, "create contact", "")
	}
	return nil
}

// Delete removes contacts of userID. Orders keep their history with the
// contact reference cleared.
func (r *ContactRepository) Delete(ctx context.Context, userID int64, ids []int64) (int64, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, deleteContactsSQL, userID, ids)
	if err != nil {
		return 0, classify(err, "delete contacts", "")
	}
	return tag.RowsAffected(), nil
}

func scanContact(row pgx.CollectableRow) (contact.Contact, error) {
	var c contact.Contact
	err := row.Scan(
		&c.ID, &c.UserID, &c.Phone, &c.Country, &c.City, &c.Street,
		&c.House, &c.Structure, &c.Building, &c.Apartment,
	)
	return c, err
}
