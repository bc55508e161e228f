// Package clients owns client records: loading, ownership checks, caching
// and deletion.
package clients

import (
	"errors"
	"time"
)

// Client is a customer record belonging to one owner.
type Client struct {
	ID               int64     `json:"id"`
	Owner            string    `json:"owner"`
	Name             string    `json:"name"`
	Company          string    `json:"company"`
	Email            string    `json:"email"`
	Phone            string    `json:"phone"`
	Address          string    `json:"address"`
	City             string    `json:"city"`
	Country          string    `json:"country"`
	IsRepresentative bool      `json:"is_representative"`
	Active           bool      `json:"active"`
	CreatedAt        time.Time `json:"created_at"`
}

// DisplayName is the name shown in listings: the person, and the company
// they represent if any.
func (c Client) DisplayName() string {
	if c.IsRepresentative && c.Company != "" {
		return c.Name + " (" + c.Company + ")"
	}
	return c.Name
}

var (
	ErrInvalidClientID = errors.New("invalid client id")
	ErrClientNotFound  = errors.New("client not found")
	ErrNoPermission    = errors.New("no permission to delete client")
	ErrClientInUse     = errors.New("client is still referenced")
)

// Reason turns a service error into the sentence shown to the user.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidClientID), errors.Is(err, ErrClientNotFound):
		return "Client not found"
	case errors.Is(err, ErrNoPermission):
		return "You do not have permission to delete this client"
	case errors.Is(err, ErrClientInUse):
		return "This client is still used by other records"
	default:
		return "Something went wrong"
	}
}
