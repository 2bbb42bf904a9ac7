// Package repository implements the storage contracts on Postgres.
package repository

import (
	"errors"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/fanclub/backend/internal/storage"
)

var (
	_ storage.ChatStore    = (*ChatRepository)(nil)
	_ storage.MessageStore = (*MessageRepository)(nil)
	_ storage.LedgerStore  = (*ModerationRepository)(nil)
	_ storage.ReportStore  = (*ReportRepository)(nil)
	_ storage.GroupStore   = (*GroupRepository)(nil)
	_ storage.UserStore    = (*UserRepository)(nil)
)

type scanner interface {
	Scan(dest ...any) error
}

// uuidArray converts ids for a UUID[] parameter
func uuidArray(ids []uuid.UUID) any {
	idStrings := make([]string, len(ids))
	for i, id := range ids {
		idStrings[i] = id.String()
	}
	return pq.Array(idStrings)
}

func parseUUIDs(idStrings []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(idStrings))
	for _, s := range idStrings {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
