package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"ventureline/internal/config"
	"ventureline/internal/db"
	"ventureline/internal/domain"
	"ventureline/internal/engine"
	"ventureline/internal/migrate"
	"ventureline/internal/repo"
	"ventureline/internal/sessions"
)

// Options describe how a workspace is opened.
type Options struct {
	Workspace string
	// RedisAddr selects the Redis session store; empty keeps sessions in memory.
	RedisAddr string
	Logger    *log.Logger
}

// Open prepares the workspace, migrates its database and wires an engine over
// it. The returned close func releases the database and any Redis client.
func Open(ctx context.Context, opts Options) (engine.Engine, func() error, error) {
	if _, err := db.EnsureWorkspace(opts.Workspace); err != nil {
		return engine.Engine{}, nil, err
	}
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return engine.Engine{}, nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return engine.Engine{}, nil, err
	}
	if _, err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return engine.Engine{}, nil, fmt.Errorf("migrate: %w", err)
	}
	e, err := engine.New(conn, cfg)
	if err != nil {
		conn.Close()
		return engine.Engine{}, nil, err
	}
	e.Logger = opts.Logger
	closers := []func() error{conn.Close}
	if addr := strings.TrimSpace(opts.RedisAddr); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			conn.Close()
			return engine.Engine{}, nil, fmt.Errorf("redis %s: %w", addr, err)
		}
		e.Sessions = sessions.NewRedisStore(client, cfg.Wizard.SessionTTL)
		closers = append(closers, client.Close)
	}
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	return e, closeAll, nil
}

// ResolveProject picks the active project for actorID. An explicit override wins,
// then the project named in ventureline.yml, then the actor's only project.
func ResolveProject(ctx context.Context, e engine.Engine, override, actorID string) (domain.Project, error) {
	projectID := strings.TrimSpace(override)
	if projectID == "" && e.Config != nil {
		projectID = strings.TrimSpace(e.Config.Project.ID)
	}
	if projectID != "" {
		return e.GetProject(ctx, projectID, actorID)
	}
	p, err := e.Repo.SingleProject(ctx, actorID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Project{}, fmt.Errorf("no project yet; create one with vl project create")
		}
		return domain.Project{}, err
	}
	return p, nil
}
