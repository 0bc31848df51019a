package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/gophchat/internal/client/reconnect"
	"github.com/dmitrijs2005/gophchat/internal/common"
)

// session is the authentication surface of reconnect.Reconnector.
type session interface {
	Login(ctx context.Context, user, password string) (bool, error)
	Register(ctx context.Context, user, password string) error
	Resume(ctx context.Context, token string) error
	Token() string
	UserName() string
}

// authenticate resumes the saved session when possible and otherwise asks
// for credentials until the server accepts them. The resulting token is
// saved. Only input and connection errors end the loop.
func (a *App) authenticate(ctx context.Context, s session) error {
	user, token, err := a.store.SavedSession(ctx)
	if err != nil {
		return err
	}

	if token != "" {
		err := s.Resume(ctx, token)
		switch {
		case err == nil:
			fmt.Fprintf(a.out, "Welcome back, %s!\n", s.UserName())
			return nil
		case errors.Is(err, reconnect.ErrUnauthorized):
			fmt.Fprintln(a.out, "Saved session is no longer valid.")
			if err := a.store.ForgetToken(ctx); err != nil {
				return err
			}
		default:
			return err
		}
	}

	for {
		action, err := GetText(a.reader, "Login or register", "login", a.out)
		if err != nil {
			return err
		}
		name, err := GetText(a.reader, "Username", user, a.out)
		if err != nil {
			return err
		}
		password, err := GetPassword(a.out)
		if err != nil {
			return err
		}

		var registered bool
		if strings.HasPrefix(strings.ToLower(action), "r") {
			err = s.Register(ctx, name, string(password))
			registered = err == nil
		} else {
			registered, err = s.Login(ctx, name, string(password))
		}
		common.WipeByteArray(password)

		if errors.Is(err, reconnect.ErrUnauthorized) {
			fmt.Fprintf(a.out, "Auth failed (%v), try again.\n", err)
			user = name
			continue
		}
		if err != nil {
			return err
		}

		if registered {
			fmt.Fprintf(a.out, "Account created. Welcome, %s!\n", name)
		} else {
			fmt.Fprintf(a.out, "Welcome, %s!\n", name)
		}
		return a.store.SaveSession(ctx, name, s.Token())
	}
}
