package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/baechuer/real-time-ressys/services/event-client/internal/detail"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/domain"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/filter"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/form"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/listing"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/live"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/notify"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/pagination"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/query"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/upload"
)

type command struct {
	usage string
	run   func(ctx context.Context, app *App, args []string) error
}

var commands = map[string]command{
	"list":     {"list [--search s] [--category c] [--from YYYY-MM-DD] [--to YYYY-MM-DD] [--sort date|title|attendeeCount] [--order asc|desc] [--page n] [--limit n] [--query qs]", cmdList},
	"browse":   {"browse  interactive listing (n, p, g <page>, s <text>, c <category>, b <sort>, o <order>, r, q)", cmdBrowse},
	"show":     {"show <id> [--watch]", cmdShow},
	"login":    {"login --email e --password p", cmdLogin},
	"register": {"register --name n --email e --password p", cmdRegister},
	"guest":    {"guest  explains guest mode (use --guest before any command)", cmdGuest},
	"logout":   {"logout", cmdLogout},
	"whoami":   {"whoami", cmdWhoami},
	"create":   {"create --title t --description d --location l [--category c] [--date d] [--cover file] [--image file]...", cmdCreate},
	"edit":     {"edit <id> [--title t] [--description d] [--location l] [--category c] [--date d] [--cover file] [--image file]... [--clear-images]", cmdEdit},
	"delete":   {"delete <id>", cmdDelete},
	"join":     {"join <id>", cmdJoin},
	"leave":    {"leave <id>", cmdLeave},
	"upload":   {"upload <file>", cmdUpload},
}

var errRefused = errors.New("request refused")

func run(ctx context.Context, app *App, args []string) int {
	global := flag.NewFlagSet("eventctl", flag.ContinueOnError)
	global.SetOutput(app.Out)
	asGuest := global.Bool("guest", false, "act as the read-only guest user")
	global.Usage = func() { usage(app.Out) }
	if err := global.Parse(args); err != nil {
		return 2
	}
	rest := global.Args()
	if len(rest) == 0 {
		usage(app.Out)
		return 2
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		fmt.Fprintf(app.Out, "unknown command %q\n", rest[0])
		usage(app.Out)
		return 2
	}
	if *asGuest {
		app.Session.Guest()
	}

	if err := cmd.run(ctx, app, rest[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		printError(app.Out, err)
		return 1
	}
	return 0
}

func usage(w io.Writer) {
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	fmt.Fprintln(w, "usage: eventctl [--guest] <command> [flags]")
	for _, n := range names {
		fmt.Fprintf(w, "  %s\n", commands[n].usage)
	}
}

func printError(w io.Writer, err error) {
	if errors.Is(err, errRefused) {
		return
	}
	var de *domain.Error
	if errors.As(err, &de) {
		fmt.Fprintf(w, "error: %s\n", de.Message)
		for _, f := range de.Fields {
			fmt.Fprintf(w, "  %s - %s\n", f.Field, f.Message)
		}
		return
	}
	fmt.Fprintf(w, "error: %v\n", err)
}

// ---- listing ----

func cmdList(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(app.Out)
	search := fs.String("search", "", "search text")
	category := fs.String("category", "", "category")
	from := fs.String("from", "", "first day (YYYY-MM-DD)")
	to := fs.String("to", "", "last day (YYYY-MM-DD)")
	sortBy := fs.String("sort", "", "date | title | attendeeCount")
	order := fs.String("order", "", "asc | desc")
	page := fs.Int("page", 1, "page number")
	limit := fs.Int("limit", app.Config.PageSize, "page size")
	raw := fs.String("query", "", "raw query string, e.g. search=x&page=2")
	if err := fs.Parse(args); err != nil {
		return err
	}

	h := filter.NewDefaultHolder(*limit)
	if *raw != "" {
		f, err := query.Decode(*raw)
		if err != nil {
			return err
		}
		if err := h.Replace(f); err != nil {
			return err
		}
	}

	changes, err := filterChanges(*search, *category, *from, *to, *sortBy, *order)
	if err != nil {
		return err
	}
	if err := h.Set(changes...); err != nil {
		return err
	}
	if *page != 1 {
		if err := h.SetPage(*page); err != nil {
			return err
		}
	}

	st := app.Fetcher().Fetch(ctx, h.Get())
	if st.Err != nil {
		return errRefused
	}
	printList(app.Out, st, pagination.New(h, func() *domain.Pagination { return st.Pagination }))
	return nil
}

func filterChanges(search, category, from, to, sortBy, order string) ([]filter.Change, error) {
	var changes []filter.Change
	if search != "" {
		changes = append(changes, filter.Search(search))
	}
	if category != "" {
		changes = append(changes, filter.Category(category))
	}
	if from != "" || to != "" {
		f, err := parseDay(from)
		if err != nil {
			return nil, err
		}
		t, err := parseDay(to)
		if err != nil {
			return nil, err
		}
		changes = append(changes, filter.DateRange(f, t))
	}
	if sortBy != "" {
		changes = append(changes, filter.SortBy(domain.SortBy(sortBy)))
	}
	if order != "" {
		changes = append(changes, filter.SortOrder(domain.SortOrder(order)))
	}
	return changes, nil
}

func parseDay(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseDate(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04", time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, domain.ErrValidationField("date", fmt.Sprintf("cannot parse %q (use YYYY-MM-DD or RFC3339)", s))
}

func printList(w io.Writer, st listing.State, pager *pagination.Controller) {
	if len(st.Events) == 0 {
		fmt.Fprintln(w, "No events found")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tDATE\tLOCATION\tCATEGORY\tATTENDEES")
	for _, e := range st.Events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
			e.ID, e.Title, e.Date.Format("Jan 2, 2006 15:04"), e.Location, e.Category, e.AttendeeCount)
	}
	_ = tw.Flush()

	nav := pager.Label()
	if pager.CanPrev() {
		nav = "< " + nav
	}
	if pager.CanNext() {
		nav += " >"
	}
	fmt.Fprintln(w, nav)
}

func cmdBrowse(ctx context.Context, app *App, args []string) error {
	h := filter.NewDefaultHolder(app.Config.PageSize)
	f := app.Fetcher()
	defer f.Close()
	unbind := f.Bind(ctx, h)
	defer unbind()

	pager := pagination.New(h, func() *domain.Pagination { return f.State().Pagination })
	show := func() {
		f.Wait()
		st := f.State()
		if st.Err == nil {
			printList(app.Out, st, pager)
		}
		fmt.Fprint(app.Out, "> ")
	}
	show()

	sc := bufio.NewScanner(app.In)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		verb, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)

		var err error
		switch verb {
		case "":
		case "q", "quit":
			return nil
		case "n", "next":
			_, err = pager.Next()
		case "p", "prev":
			_, err = pager.Prev()
		case "g", "page":
			var n int
			if n, err = strconv.Atoi(arg); err == nil {
				err = pager.GoToPage(n)
			}
		case "s", "search":
			err = h.Set(filter.Search(arg))
		case "c", "category":
			err = h.Set(filter.Category(arg))
		case "b", "sort":
			err = h.Set(filter.SortBy(domain.SortBy(arg)))
		case "o", "order":
			err = h.Set(filter.SortOrder(domain.SortOrder(arg)))
		case "r", "reset":
			h.Reset()
			if app.Config.PageSize != domain.DefaultLimit {
				err = h.Set(filter.Limit(app.Config.PageSize))
			}
		default:
			err = fmt.Errorf("unknown input %q", verb)
		}
		if err != nil {
			printError(app.Out, err)
		}
		show()
	}
	return sc.Err()
}

// ---- detail ----

func cmdShow(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	fs.SetOutput(app.Out)
	watch := fs.Bool("watch", false, "follow live updates until interrupted")
	id, err := parseWithID(fs, args)
	if err != nil {
		return err
	}

	var sub live.Subscriber
	if *watch {
		hub, err := app.Hub(ctx)
		if err != nil {
			return domain.ErrNetwork(err)
		}
		defer hub.Close()
		sub = hub
	}

	gone := make(chan struct{})
	var once sync.Once
	v := detail.New(app.API, sub, app.Session,
		detail.WithNotifier(app.Notifier),
		detail.WithNavigate(func(string) { once.Do(func() { close(gone) }) }))
	defer v.Close()

	if err := v.Open(ctx, id); err != nil {
		return err
	}
	s := v.Snapshot()
	if s.NotFound {
		fmt.Fprintf(app.Out, "Event with ID %s does not exist\n", id)
		return errRefused
	}
	if s.Event == nil {
		return errRefused
	}
	printDetail(app.Out, s)
	if !*watch {
		return nil
	}

	v.Subscribe(func(s detail.Snapshot) {
		if s.Event != nil && !s.Deleted && !s.Loading {
			printDetail(app.Out, s)
		}
	})
	select {
	case <-ctx.Done():
	case <-gone:
	}
	return nil
}

func printDetail(w io.Writer, s detail.Snapshot) {
	e := s.Event
	fmt.Fprintf(w, "%s\n", e.Title)
	fmt.Fprintf(w, "  Organized by %s\n", e.Creator.Name)
	fmt.Fprintf(w, "  %s | %s | %s\n", e.Date.Format("Monday, January 2, 2006 15:04"), e.Location, e.Category)
	fmt.Fprintf(w, "  %s\n", e.Description)
	fmt.Fprintf(w, "  Attendees (%d):", len(e.Attendees))
	for _, a := range e.Attendees {
		fmt.Fprintf(w, " %s", a.Name)
	}
	fmt.Fprintln(w)
	if e.CoverURL != "" {
		fmt.Fprintf(w, "  Cover: %s\n", e.CoverURL)
	}
	for _, img := range e.ImagesURL {
		fmt.Fprintf(w, "  Image: %s\n", img)
	}

	var actions []string
	if s.Policy.CanJoin {
		actions = append(actions, "join")
	}
	if s.Policy.CanLeave {
		actions = append(actions, "leave")
	}
	if s.Policy.CanEdit {
		actions = append(actions, "edit")
	}
	if s.Policy.CanDelete {
		actions = append(actions, "delete")
	}
	switch {
	case len(actions) > 0:
		fmt.Fprintf(w, "  Actions: %s\n", strings.Join(actions, ", "))
	case s.Policy.Reason == "auth_required":
		fmt.Fprintln(w, "  Login to join")
	}
}

func cmdJoin(ctx context.Context, app *App, args []string) error {
	return attendance(ctx, app, "join", args, false)
}

func cmdLeave(ctx context.Context, app *App, args []string) error {
	return attendance(ctx, app, "leave", args, true)
}

// attendance toggles only when the current state differs from want.
func attendance(ctx context.Context, app *App, name string, args []string, attending bool) error {
	id, err := parseWithID(flag.NewFlagSet(name, flag.ContinueOnError), args)
	if err != nil {
		return err
	}
	u := app.Session.Current()
	if err := domain.RequireMember(u); err != nil {
		app.Notifier.Notify(ctx, notify.FromError("Failed to update attendance", err))
		return errRefused
	}

	v, err := openView(ctx, app, id)
	if err != nil {
		return err
	}
	defer v.Close()

	if v.Snapshot().Event.IsAttending(u.ID) != attending {
		if attending {
			fmt.Fprintln(app.Out, "You are not attending this event")
		} else {
			fmt.Fprintln(app.Out, "You are already attending this event")
		}
		return nil
	}
	if err := v.JoinOrLeave(ctx); err != nil {
		return errRefused
	}
	app.invalidateListings(ctx)
	return nil
}

func cmdDelete(ctx context.Context, app *App, args []string) error {
	id, err := parseWithID(flag.NewFlagSet("delete", flag.ContinueOnError), args)
	if err != nil {
		return err
	}
	v, err := openView(ctx, app, id)
	if err != nil {
		return err
	}
	defer v.Close()
	if err := v.Delete(ctx); err != nil {
		return errRefused
	}
	app.invalidateListings(ctx)
	app.publishChange(ctx, live.Notification{Kind: live.KindDeleted, EventID: id})
	return nil
}

func openView(ctx context.Context, app *App, id string) (*detail.View, error) {
	v := detail.New(app.API, nil, app.Session, detail.WithNotifier(app.Notifier))
	if err := v.Open(ctx, id); err != nil {
		return nil, err
	}
	s := v.Snapshot()
	if s.NotFound {
		return nil, domain.ErrNotFound("Event not found")
	}
	if s.Event == nil {
		return nil, errRefused
	}
	return v, nil
}

func parseWithID(fs *flag.FlagSet, args []string) (string, error) {
	// allow "<id> --flag" as well as "--flag <id>"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		args = append(args[1:], args[0])
	}
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if fs.NArg() != 1 {
		return "", domain.ErrValidationField("id", "exactly one event id is required")
	}
	return fs.Arg(0), nil
}

// ---- session ----

func cmdLogin(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(app.Out)
	email := fs.String("email", "", "email")
	password := fs.String("password", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	vr, err := app.Session.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	if vr != nil {
		printValidation(app.Out, vr)
		return errRefused
	}
	fmt.Fprintf(app.Out, "Logged in as %s <%s>\n", app.Session.Current().Name, app.Session.Current().Email)
	return nil
}

func cmdRegister(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	fs.SetOutput(app.Out)
	name := fs.String("name", "", "display name")
	email := fs.String("email", "", "email")
	password := fs.String("password", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	vr, err := app.Session.Register(ctx, *name, *email, *password)
	if err != nil {
		return err
	}
	if vr != nil {
		printValidation(app.Out, vr)
		return errRefused
	}
	if u := app.Session.Current(); u != nil {
		fmt.Fprintf(app.Out, "Registered and logged in as %s <%s>\n", u.Name, u.Email)
	}
	return nil
}

func printValidation(w io.Writer, vr *domain.ValidationResponse) {
	fmt.Fprintf(w, "%s\n", vr.Message)
	for _, e := range vr.Errors {
		fmt.Fprintf(w, "  %s - %s\n", e.Field, e.Message)
	}
}

func cmdGuest(_ context.Context, app *App, _ []string) error {
	fmt.Fprintln(app.Out, "Guest sessions are not stored. Prefix a command with --guest to browse as Guest, e.g. eventctl --guest show <id>")
	return nil
}

func cmdLogout(ctx context.Context, app *App, _ []string) error {
	if err := app.Session.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(app.Out, "Logged out")
	return nil
}

func cmdWhoami(_ context.Context, app *App, _ []string) error {
	u := app.Session.Current()
	switch {
	case u == nil:
		fmt.Fprintln(app.Out, "Not logged in")
	case u.Guest:
		fmt.Fprintln(app.Out, "Guest (read-only)")
	default:
		fmt.Fprintf(app.Out, "%s <%s> id=%s\n", u.Name, u.Email, u.ID)
	}
	return nil
}

// ---- forms ----

type stringList []string

func (s *stringList) String() string     { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error { *s = append(*s, v); return nil }

type eventFlags struct {
	fs          *flag.FlagSet
	title       *string
	description *string
	location    *string
	category    *string
	date        *string
	cover       *string
	images      stringList
}

func newEventFlags(name string, out io.Writer) *eventFlags {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	ef := &eventFlags{
		fs:          fs,
		title:       fs.String("title", "", "title"),
		description: fs.String("description", "", "description"),
		location:    fs.String("location", "", "location"),
		category:    fs.String("category", string(domain.CategoryConference), "category"),
		date:        fs.String("date", "", "date (YYYY-MM-DD, YYYY-MM-DDTHH:MM or RFC3339)"),
		cover:       fs.String("cover", "", "cover image file"),
	}
	fs.Var(&ef.images, "image", "gallery image file (repeatable)")
	return ef
}

// apply copies the flags that were set onto in.
func (ef *eventFlags) apply(in *domain.EventInput) error {
	var err error
	ef.fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "title":
			in.Title = *ef.title
		case "description":
			in.Description = *ef.description
		case "location":
			in.Location = *ef.location
		case "category":
			in.Category = *ef.category
		case "date":
			var t time.Time
			if t, err = parseDate(*ef.date); err == nil {
				in.Date = t
			}
		}
	})
	return err
}

// uploadImages sends the cover and gallery files, updating in.
func (ef *eventFlags) uploadImages(ctx context.Context, app *App, in *domain.EventInput) error {
	if *ef.cover != "" {
		u := upload.New(app.API, upload.ModeSingle, 0)
		url, err := u.UploadFile(ctx, *ef.cover)
		if err != nil {
			return err
		}
		in.CoverURL = url
	}
	if len(ef.images) > 0 {
		u := upload.New(app.API, upload.ModeMultiple, upload.FormMaxImages)
		u.SetImages(in.ImagesURL...)
		for _, path := range ef.images {
			if _, err := u.UploadFile(ctx, path); err != nil {
				return err
			}
		}
		in.ImagesURL = u.Images()
	}
	return nil
}

func cmdCreate(ctx context.Context, app *App, args []string) error {
	ef := newEventFlags("create", app.Out)
	if err := ef.fs.Parse(args); err != nil {
		return err
	}
	if err := domain.RequireMember(app.Session.Current()); err != nil {
		return err
	}

	in := form.NewInput(time.Now().UTC())
	if err := ef.apply(&in); err != nil {
		return err
	}
	if err := ef.uploadImages(ctx, app, &in); err != nil {
		return err
	}

	ev, err := form.NewSubmitter(app.API, app.Session, app.Notifier).Create(ctx, in)
	if err != nil {
		return formError(err)
	}
	app.invalidateListings(ctx)
	fmt.Fprintf(app.Out, "Created %s (%s)\n", ev.Title, ev.ID)
	return nil
}

func cmdEdit(ctx context.Context, app *App, args []string) error {
	ef := newEventFlags("edit", app.Out)
	clearImages := ef.fs.Bool("clear-images", false, "remove all gallery images first")
	id, err := parseWithID(ef.fs, args)
	if err != nil {
		return err
	}

	s := form.NewSubmitter(app.API, app.Session, app.Notifier)
	in, err := s.LoadForEdit(ctx, id)
	if err != nil {
		return errRefused
	}
	if *clearImages {
		in.ImagesURL = []string{}
	}
	if err := ef.apply(&in); err != nil {
		return err
	}
	if err := ef.uploadImages(ctx, app, &in); err != nil {
		return err
	}

	ev, err := s.Update(ctx, id, in)
	if err != nil {
		return formError(err)
	}
	app.invalidateListings(ctx)
	app.publishChange(ctx, live.Notification{Kind: live.KindUpdated, EventID: ev.ID, Detail: ev})
	fmt.Fprintf(app.Out, "Updated %s (%s)\n", ev.Title, ev.ID)
	return nil
}

// formError keeps field errors visible; everything else was already
// reported through the notifier.
func formError(err error) error {
	if domain.IsKind(err, domain.KindValidation) {
		return err
	}
	return errRefused
}

func cmdUpload(ctx context.Context, app *App, args []string) error {
	if len(args) != 1 {
		return domain.ErrValidationField("file", "exactly one file is required")
	}
	url, err := upload.New(app.API, upload.ModeSingle, 0).UploadFile(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(app.Out, url)
	return nil
}
