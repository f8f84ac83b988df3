package cmd

import (
	"net/http"
	"path/filepath"

	"github.com/iksnae/chatark/internal"
)

// app holds what a command needs to talk to local storage and the relay service
type app struct {
	storage    *internal.SQLiteStorage
	store      *internal.ProfileStore
	controller *internal.Controller
}

// overridable in tests
var (
	newDialer = func() internal.StreamDialer { return internal.NewWebsocketDialer() }
	newClient = func() *http.Client { return nil }
)

// openApp opens local storage and wires a controller from cfg
func openApp() (*app, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "" {
		if err := internal.PathsIn(dir).EnsureDataDir(); err != nil {
			return nil, err
		}
	}

	storage, err := internal.OpenSQLiteStorage(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	store, err := internal.NewProfileStore(storage)
	if err != nil {
		_ = storage.Close()
		return nil, err
	}
	endpoint, err := internal.ParseEndpoint(cfg.BaseURL)
	if err != nil {
		_ = storage.Close()
		return nil, err
	}

	controller := internal.NewController(internal.ControllerOptions{
		Store:    store,
		Backend:  internal.NewHTTPBackend(newClient()),
		Dialer:   newDialer(),
		Endpoint: endpoint,
		SelfID:   cfg.SelfID,
	})
	return &app{storage: storage, store: store, controller: controller}, nil
}

func (a *app) Close() {
	a.controller.Close()
	if err := a.storage.Close(); err != nil {
		internal.LogWarn("Failed to close storage: %v", err)
	}
}

// focus selects the active profile's chat (or chatID) for a one-shot request
func (a *app) focus(chatID string) error {
	return a.controller.Focus(chatID)
}

// activeProfile returns the active profile, or ErrNoActiveProfile
func (a *app) activeProfile() (string, internal.Profile, error) {
	id := a.store.ActiveID()
	p, ok := a.store.Get(id)
	if !ok {
		return "", internal.Profile{}, internal.ErrNoActiveProfile
	}
	return id, p, nil
}
