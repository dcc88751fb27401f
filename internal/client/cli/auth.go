package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/flowguard/flowguard/internal/client/api"
	"github.com/flowguard/flowguard/internal/common"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
// They point to interactive input helpers and can be swapped in tests.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

// Register prompts for account details and creates a new account. A
// successful signup does not log the user in.
func (a *App) Register(ctx context.Context) error {
	fullName, err := getSimpleText(a.reader, "Enter full name", a.out)
	if err != nil {
		return err
	}
	email, err := getSimpleText(a.reader, "Enter email", a.out)
	if err != nil {
		return err
	}

	password, err := getPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	apiKey, err := getSimpleText(a.reader, "Enter Gemini API key", a.out)
	if err != nil {
		return err
	}

	if err := a.session.Signup(ctx, fullName, email, string(password), apiKey); err != nil {
		fmt.Fprintln(a.out, "Registration failed:", errorMessage(err))
		return err
	}

	fmt.Fprintln(a.out, "Success! Log in to continue.")
	return nil
}

// Login prompts for credentials and authenticates via the session store.
func (a *App) Login(ctx context.Context) error {
	email, err := getSimpleText(a.reader, "Enter email", a.out)
	if err != nil {
		return err
	}

	password, err := getPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	if err := a.session.Login(ctx, email, string(password)); err != nil {
		fmt.Fprintln(a.out, "Login failed:", errorMessage(err))
		return err
	}

	fmt.Fprintf(a.out, "Logged in as %s\n", a.session.User().Email)
	return nil
}

// Logout drops the token and cached profile.
func (a *App) Logout(ctx context.Context) error {
	if err := a.session.Logout(); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Logged out")
	return nil
}

// Whoami prints the cached profile.
func (a *App) Whoami(ctx context.Context) error {
	user := a.session.User()
	if user == nil {
		fmt.Fprintln(a.out, "Not logged in")
		return nil
	}
	fmt.Fprintf(a.out, "%s <%s>\n", user.FullName, user.Email)
	if user.HasGeminiKey {
		fmt.Fprintln(a.out, "Gemini API key: on file")
	} else {
		fmt.Fprintln(a.out, "Gemini API key: not set")
	}
	return nil
}

// SetKey replaces the stored Gemini API key.
func (a *App) SetKey(ctx context.Context) error {
	apiKey, err := getSimpleText(a.reader, "Enter new Gemini API key", a.out)
	if err != nil {
		return err
	}

	if err := a.session.UpdateAPIKey(ctx, apiKey); err != nil {
		fmt.Fprintln(a.out, "Key update failed:", errorMessage(err))
		return err
	}

	fmt.Fprintln(a.out, "API key updated")
	return nil
}

// errorMessage renders an error for the user: the backend's detail when
// available, a generic fallback for transport problems.
func errorMessage(err error) string {
	var apiErr *api.APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr.Error()
	case errors.Is(err, api.ErrUnavailable):
		return "server unavailable, try again later"
	case errors.Is(err, api.ErrUnauthorized):
		return "not authorized, log in again"
	default:
		return err.Error()
	}
}
