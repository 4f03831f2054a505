package record

import (
	"context"
	"errors"
	"triagecall/app/config"

	"github.com/samber/do"
	"github.com/samber/oops"
)

var ErrInvalidID = errors.New("invalid caller id")

// Store loads and saves caller records. Load of an unknown caller returns New.
type Store interface {
	Load(ctx context.Context, callerID string) (*Record, error)
	Save(ctx context.Context, callerID string, rec *Record) error
}

func NewStore(di *do.Injector) (Store, error) {
	cfg := do.MustInvoke[*config.Config](di)

	switch cfg.Storage.Backend {
	case "file":
		return NewFileStore(cfg.Storage.Dir)
	case "postgres":
		return NewPostgresStore(do.MustInvoke[context.Context](di), cfg.Storage.PostgresDSN)
	default:
		return nil, oops.In("record").Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// ValidID reports whether callerID is an optional leading '+' followed by letters and digits.
func ValidID(callerID string) bool {
	if callerID == "" || len(callerID) > 64 {
		return false
	}

	for i, r := range callerID {
		switch {
		case r == '+' && i == 0 && len(callerID) > 1:
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}

	return true
}
