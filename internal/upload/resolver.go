package upload

import (
	"context"

	"datalogger/internal/logging"
	"datalogger/internal/storage"
)

// Resolution is the result of checking a destination name.
type Resolution struct {
	Path     string
	Conflict bool
	Sink     storage.Sink
}

// Resolver decides whether an upload may write its destination and opens
// the sink when it may.
type Resolver struct {
	dir *storage.Dir
	log logging.Logger
}

func NewResolver(dir *storage.Dir, log logging.Logger) *Resolver {
	return &Resolver{dir: dir, log: log}
}

// Resolve stats name. An existing file without overwrite is a conflict and
// no sink is opened; otherwise the file is created or truncated.
func (r *Resolver) Resolve(ctx context.Context, name string, overwrite bool) (Resolution, error) {
	res := Resolution{Path: r.dir.Path(name)}
	exists, err := r.dir.Exists(name)
	if err != nil {
		// stat failures other than not-exist are treated as absence, the
		// create below reports the real problem
		r.log.Warn(ctx, "stat destination", "path", res.Path, "err", err)
	}
	if exists && !overwrite {
		r.log.Warn(ctx, "destination exists, overwrite not requested", "path", res.Path)
		res.Conflict = true
		return res, nil
	}
	sink, err := r.dir.Create(name)
	if err != nil {
		return res, storageErr("open "+res.Path, err)
	}
	r.log.Info(ctx, "destination opened", "path", res.Path, "existed", exists, "overwrite", overwrite)
	res.Sink = sink
	return res, nil
}
