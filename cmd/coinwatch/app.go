package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"coinview/internal/auth"
	"coinview/internal/refresh"
	"coinview/internal/render"
	"coinview/internal/view"
	"coinview/logger"
	"coinview/models"
)

const (
	actionNext    = "next"
	actionPrev    = "prev"
	actionSort    = "sort"
	actionSearch  = "search"
	actionDetails = "details"
	actionRefresh = "refresh"
	actionSignIn  = "signin"
	actionSignOut = "signout"
	actionQuit    = "quit"
)

var statusStyle = lipgloss.NewStyle().Italic(true)

type refresher interface {
	Refresh(ctx context.Context) error
}

type app struct {
	store     *view.Store
	refresher refresher
	auth      *auth.Service
	log       *logger.Log

	session     *auth.Session
	seenNotices int
	status      string
}

func newApp(store *view.Store, refresher refresher, authSvc *auth.Service, log *logger.Log) *app {
	a := &app{store: store, refresher: refresher, auth: authSvc, log: log}
	authSvc.OnSessionChanged(func(ev auth.SessionEvent) {
		if ev.SignedIn {
			s := ev.Session
			a.session = &s
			return
		}
		a.session = nil
	})
	return a
}

func (a *app) loop(ctx context.Context) error {
	for ctx.Err() == nil {
		fmt.Print("\033[H\033[2J")
		fmt.Println(a.screen())

		action, err := a.chooseAction(ctx)
		if err != nil {
			return err
		}
		if action == actionQuit {
			return nil
		}
		if err := a.handle(ctx, action); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// screen renders the list plus any notices raised since the last draw.
func (a *app) screen() string {
	out := render.Page(a.store.View())

	notices := a.store.Notices()
	if len(notices) < a.seenNotices {
		a.seenNotices = 0
	}
	for _, n := range notices[a.seenNotices:] {
		out += "\n" + render.Notice(n)
	}
	a.seenNotices = len(notices)

	if a.session != nil {
		out += "\n" + statusStyle.Render("Signed in as "+a.session.Email)
	}
	if a.status != "" {
		out += "\n" + statusStyle.Render(a.status)
		a.status = ""
	}
	return out
}

func (a *app) menuOptions() []huh.Option[string] {
	page := a.store.View()
	opts := make([]huh.Option[string], 0, 9)
	if page.Page < page.TotalPages {
		opts = append(opts, huh.NewOption("Next page", actionNext))
	}
	if page.Page > 1 {
		opts = append(opts, huh.NewOption("Previous page", actionPrev))
	}
	opts = append(opts,
		huh.NewOption("Sort", actionSort),
		huh.NewOption("Search", actionSearch),
	)
	if len(page.Records) > 0 {
		opts = append(opts, huh.NewOption("Details", actionDetails))
	}
	opts = append(opts, huh.NewOption("Refresh", actionRefresh))
	if a.session == nil {
		opts = append(opts, huh.NewOption("Sign in", actionSignIn))
	} else {
		opts = append(opts, huh.NewOption("Sign out", actionSignOut))
	}
	return append(opts, huh.NewOption("Quit", actionQuit))
}

func (a *app) chooseAction(ctx context.Context) (string, error) {
	var action string
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("What next?").
				Options(a.menuOptions()...).
				Value(&action),
		),
	).RunWithContext(ctx)
	return action, err
}

func (a *app) handle(ctx context.Context, action string) error {
	switch action {
	case actionNext:
		a.store.SetPage(a.store.View().Page + 1)
	case actionPrev:
		a.store.SetPage(a.store.View().Page - 1)
	case actionSort:
		return a.chooseSort(ctx)
	case actionSearch:
		return a.search(ctx)
	case actionDetails:
		return a.details(ctx)
	case actionRefresh:
		a.refresh(ctx)
	case actionSignIn:
		return a.signIn(ctx)
	case actionSignOut:
		a.signOut(ctx)
	}
	return nil
}

func sortOptions(active models.SortKey) []huh.Option[string] {
	opts := make([]huh.Option[string], 0, len(models.SortKeys)+1)
	for _, key := range models.SortKeys {
		label := key.Label()
		if key == active {
			label += " (active, select to clear)"
		}
		opts = append(opts, huh.NewOption(label, string(key)))
	}
	return append(opts, huh.NewOption("None", models.SortNone.String()))
}

func (a *app) chooseSort(ctx context.Context) error {
	var choice string
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Sort by").
				Options(sortOptions(a.store.SortKey())...).
				Value(&choice),
		),
	).RunWithContext(ctx)
	if err != nil {
		return err
	}
	key, err := models.ParseSortKey(choice)
	if err != nil {
		return err
	}
	a.store.ToggleSort(key)
	return nil
}

func (a *app) search(ctx context.Context) error {
	var query string
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Search by name").
				Value(&query),
		),
	).RunWithContext(ctx)
	if err != nil {
		return err
	}

	result := a.store.SearchResults(query)
	if !result.Active {
		return nil
	}
	fmt.Println(render.Search(result))
	return pause(ctx)
}

func recordOptions(records []models.MarketRecord) []huh.Option[string] {
	opts := make([]huh.Option[string], 0, len(records))
	for _, r := range records {
		label := fmt.Sprintf("%s  %s  %s", strconv.Itoa(r.MarketCapRank), r.Name, render.FormatPrice(r.CurrentPrice))
		opts = append(opts, huh.NewOption(label, r.ID))
	}
	return opts
}

func (a *app) details(ctx context.Context) error {
	var id string
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Inspect coin").
				Options(recordOptions(a.store.View().Records)...).
				Height(12).
				Value(&id),
		),
	).RunWithContext(ctx)
	if err != nil {
		return err
	}

	if _, err := a.store.Select(id); err != nil {
		a.status = "That coin is no longer listed."
		return nil
	}
	defer a.store.Deselect()

	chart, ok := a.store.Chart()
	if !ok {
		return nil
	}
	fmt.Print("\033[H\033[2J")
	fmt.Println(render.Detail(chart))
	return pause(ctx)
}

func (a *app) refresh(ctx context.Context) {
	err := a.refresher.Refresh(ctx)
	switch {
	case err == nil:
		a.status = "Market data refreshed."
	case errors.Is(err, refresh.ErrRefreshInProgress):
		a.status = "A refresh is already running."
	default:
		// The store already raised a notice for the failure.
		a.log.WithComponent("coinwatch").WithError(err).Debug("manual refresh failed")
	}
}

func (a *app) signIn(ctx context.Context) error {
	var (
		email    string
		password string
		register bool
	)
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Email").
				Value(&email).
				Validate(func(s string) error {
					_, err := auth.NormalizeEmail(s)
					return err
				}),
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&password),
			huh.NewConfirm().
				Title("Create a new account?").
				Affirmative("Register").
				Negative("Sign in").
				Value(&register),
		),
	).RunWithContext(ctx)
	if err != nil {
		return err
	}

	if register {
		if _, err := a.auth.Register(ctx, email, password); err != nil {
			a.status = "Registration failed: " + err.Error()
			return nil
		}
	}
	if _, err := a.auth.SignIn(ctx, email, password); err != nil {
		if errors.Is(err, models.ErrAuthFailed) {
			n := models.NoticeFor(err, time.Now())
			a.status = n.Title + ": " + n.Message
			return nil
		}
		return err
	}
	return nil
}

func (a *app) signOut(ctx context.Context) {
	if a.session == nil {
		return
	}
	if err := a.auth.SignOut(ctx, a.session.Token); err != nil {
		a.log.WithComponent("coinwatch").WithError(err).Warn("sign out failed")
		a.session = nil
	}
	a.status = "Signed out."
}

func pause(ctx context.Context) error {
	var back bool
	return huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Back to list?").
				Affirmative("Back").
				Negative("").
				Value(&back),
		),
	).RunWithContext(ctx)
}
