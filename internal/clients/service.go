package clients

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	u "clientdash/internal/utils"
)

// lookup is the validated form of a client reference coming from a URL.
type lookup struct {
	Owner string `validate:"required"`
	ID    int64  `validate:"gt=0"`
}

// Service implements the client operations used by the dashboard.
type Service struct {
	repo     Repository
	cache    *Cache
	validate *validator.Validate
}

func NewService(repo Repository, cache *Cache) *Service {
	return &Service{
		repo:     repo,
		cache:    cache,
		validate: validator.New(),
	}
}

func (s *Service) parse(owner, rawID string) (lookup, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(rawID), 10, 64)
	if err != nil {
		return lookup{}, ErrInvalidClientID
	}
	l := lookup{Owner: owner, ID: id}
	if err := s.validate.Struct(l); err != nil {
		return lookup{}, errors.Join(ErrInvalidClientID, err)
	}
	return l, nil
}

func (s *Service) load(ctx context.Context, id int64) (Client, error) {
	if c, ok := s.cache.Get(ctx, id); ok {
		return c, nil
	}
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return Client{}, err
	}
	s.cache.Set(ctx, c)
	return c, nil
}

// ValidateClient returns the client rawID refers to when it belongs to owner.
// Clients of other owners are reported as not found.
func (s *Service) ValidateClient(ctx context.Context, owner, rawID string) (Client, error) {
	l, err := s.parse(owner, rawID)
	if err != nil {
		return Client{}, err
	}
	c, err := s.load(ctx, l.ID)
	if err != nil {
		return Client{}, err
	}
	if c.Owner != l.Owner {
		return Client{}, ErrClientNotFound
	}
	return c, nil
}

// DeleteClient removes the client rawID refers to. Only its owner may delete
// it.
func (s *Service) DeleteClient(ctx context.Context, owner, rawID string) error {
	l, err := s.parse(owner, rawID)
	if err != nil {
		return err
	}
	c, err := s.repo.Get(ctx, l.ID)
	if err != nil {
		if !errors.Is(err, ErrClientNotFound) {
			u.Error("Client lookup before delete failed", "id", l.ID, "error", err)
		}
		return err
	}
	if c.Owner != l.Owner {
		return ErrNoPermission
	}
	// Zero rows here means the client vanished or changed hands since Get.
	if err := s.repo.Delete(ctx, l.ID, l.Owner); err != nil {
		if !errors.Is(err, ErrClientInUse) && !errors.Is(err, ErrClientNotFound) {
			u.Error("Client delete failed", "id", l.ID, "error", err)
		}
		return err
	}
	s.cache.Evict(ctx, l.ID)
	u.Info("Client deleted", "id", l.ID, "owner", l.Owner)
	return nil
}

// ListClients returns all clients of owner.
func (s *Service) ListClients(ctx context.Context, owner string) ([]Client, error) {
	if owner == "" {
		return nil, nil
	}
	return s.repo.ListByOwner(ctx, owner)
}
