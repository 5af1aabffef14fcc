package contextstore

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/concord/internal/config"
)

// Store drivers.
const (
	DriverFile     = "file"
	DriverMinio    = "minio"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverNone     = "none"
)

// New opens the store selected by cfg. Remote drivers are mirrored to the
// local file store so a run can always be inspected on disk.
func New(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	local := NewArtifacts(NewFileStore(cfg.ResolveDataDir()))

	switch cfg.Driver {
	case "", DriverFile:
		return local, nil
	case DriverNone:
		return Nop{}, nil
	case DriverMinio:
		obj, err := NewObjectStore(ctx, cfg.Minio)
		if err != nil {
			return nil, err
		}
		return Multi{local, NewArtifacts(obj)}, nil
	case DriverMySQL, DriverPostgres:
		db, err := OpenSQL(ctx, Dialect(cfg.Driver), cfg.DSN)
		if err != nil {
			return nil, err
		}
		return Multi{local, NewArtifacts(db)}, nil
	default:
		return nil, fmt.Errorf("contextstore: unknown driver %q", cfg.Driver)
	}
}
