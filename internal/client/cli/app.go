// Package cli is the interactive FlowGuard client: a small REPL over the
// session store and the API client.
package cli

import (
	"bufio"
	"context"
	"io"
	"os"

	"github.com/flowguard/flowguard/internal/client/api"
	"github.com/flowguard/flowguard/internal/client/config"
	"github.com/flowguard/flowguard/internal/client/session"
)

// sessionController is the slice of the session store the commands use.
// The real *session.Session satisfies it; tests provide a stub.
type sessionController interface {
	IsAuthenticated() bool
	User() *api.Profile
	Token() string
	Restore(ctx context.Context)
	Login(ctx context.Context, email, password string) error
	Signup(ctx context.Context, fullName, email, password, apiKey string) error
	Logout() error
	UpdateAPIKey(ctx context.Context, apiKey string) error
}

type App struct {
	config  *config.Config
	session sessionController
	client  api.Client
	reader  *bufio.Reader
	out     io.Writer
}

func NewApp(c *config.Config) (*App, error) {

	apiClient := api.NewHTTPClient(c.ServerURL, c.RequestTimeout)
	storage := session.NewFileTokenStorage(c.TokenFile)

	return &App{
		config:  c,
		session: session.New(apiClient, storage),
		client:  apiClient,
		reader:  bufio.NewReader(os.Stdin),
		out:     os.Stdout,
	}, nil
}

func (a *App) isLoggedIn() bool {
	return a.session.IsAuthenticated()
}

func (a *App) Run(ctx context.Context) {
	a.session.Restore(ctx)
	a.Root(ctx)
}
