package cli

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/plotkeeper/internal/common"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
// They point to interactive input helpers and can be swapped in tests.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

// Register prompts for an account name and password and creates the
// account on the server. The password is wiped before returning.
func (a *App) Register(ctx context.Context, _ []string) error {
	userName, err := getSimpleText(a.reader, "Enter email", a.out)
	if err != nil {
		return err
	}

	password, err := getPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	if err := a.auth.Register(ctx, userName, password); err != nil {
		return err
	}
	a.username = userName

	fmt.Fprintln(a.out, "Success! Type 'connect' to start syncing.")
	return nil
}

// Connect logs in and hands the session to the sync engine. The configured
// account name is used when set.
func (a *App) Connect(ctx context.Context, args []string) error {
	userName := a.username
	if len(args) > 0 {
		userName = args[0]
	}
	if userName == "" {
		var err error
		if userName, err = getSimpleText(a.reader, "Enter email", a.out); err != nil {
			return err
		}
	}

	password, err := getPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	if err := a.engine.Connect(ctx, a.auth.Authorizer(userName, password)); err != nil {
		return err
	}
	a.username = userName
	fmt.Fprintln(a.out, "Connected as", userName)
	return nil
}

// Disconnect drops the session. Local projects stay as they are.
func (a *App) Disconnect(ctx context.Context, _ []string) error {
	if err := a.engine.Disconnect(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Disconnected. Edits are kept locally.")
	return nil
}
