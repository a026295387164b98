// Package contact manages buyers' delivery addresses.
package contact

import (
	"context"
	"fmt"
	"strings"

	"github.com/InnokentiyKim/Retail/internal/domain/fault"
)

// Contact is a delivery address owned by a user.
type Contact struct {
	ID        int64
	UserID    int64
	Phone     string
	Country   string
	City      string
	Street    string
	House     string
	Structure string
	Building  string
	Apartment string
}

// Check validates the required address fields.
func (c *Contact) Check() error {
	const op = "check contact"
	required := []struct {
		name  string
		value *string
	}{
		{"phone", &c.Phone},
		{"city", &c.City},
		{"street", &c.Street},
		{"house", &c.House},
	}
	for _, f := range required {
		*f.value = strings.TrimSpace(*f.value)
		if *f.value == "" {
			return fault.Validationf(op, "%s is required", f.name)
		}
	}
	return nil
}

// Repository persists contacts. Get returns a NotFound fault when the
// contact does not exist or belongs to another user.
type Repository interface {
	Get(ctx context.Context, userID, contactID int64) (*Contact, error)
	List(ctx context.Context, userID int64) ([]Contact, error)
	Create(ctx context.Context, c *Contact) error
	Delete(ctx context.Context, userID int64, ids []int64) (int64, error)
}

// Service is the contact provider used by order confirmation and the API.
type Service struct {
	repo Repository
}

// NewService creates a contact Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// GetContact returns the user's contact or a NotFound fault.
func (s *Service) GetContact(ctx context.Context, userID, contactID int64) (*Contact, error) {
	return s.repo.Get(ctx, userID, contactID)
}

// List returns the user's contacts.
func (s *Service) List(ctx context.Context, userID int64) ([]Contact, error) {
	contacts, err := s.repo.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	return contacts, nil
}

// Create validates and stores a contact for the user.
func (s *Service) Create(ctx context.Context, userID int64, c *Contact) error {
	c.UserID = userID
	if err := c.Check(); err != nil {
		return err
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return fmt.Errorf("create contact: %w", err)
	}
	return nil
}

// Delete removes the user's contacts with the given ids.
func (s *Service) Delete(ctx context.Context, userID int64, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, fault.Validationf("delete contacts", "ids required")
	}
	n, err := s.repo.Delete(ctx, userID, ids)
	if err != nil {
		return 0, fmt.Errorf("delete contacts: %w", err)
	}
	return n, nil
}
