package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/matheus3301/convsync/internal/account"
	"github.com/matheus3301/convsync/internal/bus"
	"github.com/matheus3301/convsync/internal/chatview"
	"github.com/matheus3301/convsync/internal/config"
	"github.com/matheus3301/convsync/internal/daemon"
	"github.com/matheus3301/convsync/internal/outbox"
	"github.com/matheus3301/convsync/internal/profile"
	chatsync "github.com/matheus3301/convsync/internal/sync"
	"go.uber.org/fx"
)

const startTimeout = 15 * time.Second

// engine is an in-process sync engine serving one account.
type engine struct {
	account  string
	app      *fx.App
	cfg      *config.Config
	coord    *chatsync.Coordinator
	accounts *account.Manager
	sender   *outbox.Sender
	bus      *bus.Bus
}

// resolveAccount picks the --account flag or the first configured account.
func resolveAccount(path string) (string, error) {
	if flagAccount != "" {
		return flagAccount, nil
	}
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("no config at %s", path)
	} else if err != nil {
		return "", err
	}
	if len(cfg.Accounts) == 0 {
		return "", fmt.Errorf("no accounts configured in %s", path)
	}
	return cfg.Accounts[0].ID, nil
}

func startEngine(ctx context.Context) (*engine, error) {
	name := profile.Resolve(flagProfile)
	if err := profile.ValidateName(name); err != nil {
		return nil, err
	}
	path := flagConfig
	if path == "" {
		path = profile.ConfigPath()
	}
	id, err := resolveAccount(path)
	if err != nil {
		return nil, err
	}

	e := &engine{account: id}
	e.app = fx.New(
		daemon.EngineModule(daemon.Params{
			Profile:    name,
			ConfigPath: path,
			LogLevel:   "warn",
			Accounts:   []string{id},
		}),
		fx.NopLogger,
		fx.Populate(&e.cfg, &e.coord, &e.accounts, &e.sender, &e.bus),
	)
	if err := e.app.Err(); err != nil {
		return nil, err
	}

	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	if err := e.app.Start(startCtx); err != nil {
		return nil, err
	}
	if _, ok := e.cfg.Account(id); !ok {
		e.stop()
		return nil, fmt.Errorf("account %q is not configured", id)
	}
	if _, ok := e.accounts.Session(id); !ok {
		e.stop()
		return nil, fmt.Errorf("account %q could not connect (see %s)", id, profile.LogPath(name))
	}
	return e, nil
}

func (e *engine) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = e.app.Stop(ctx)
}

func (e *engine) view() *chatview.View {
	return chatview.New(e.account, chatview.Deps{
		Engine: e.coord,
		Sender: e.sender,
		Typist: func(account string) chatview.Typist {
			if ch, ok := e.accounts.Session(account); ok {
				return ch
			}
			return nil
		},
		Bus:        e.bus,
		TypingIdle: e.cfg.Typing.Idle.Duration,
	})
}
