package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"

	"github.com/odyssey-erp/ledgercore/internal/accounting/journals"
	"github.com/odyssey-erp/ledgercore/internal/accounting/mappings"
	"github.com/odyssey-erp/ledgercore/internal/costing"
	"github.com/odyssey-erp/ledgercore/internal/inventory"
	"github.com/odyssey-erp/ledgercore/internal/posting"
	"github.com/odyssey-erp/ledgercore/internal/reconcile"
)

const (
	exitOK       = 0
	exitFailure  = 1
	exitUsage    = 2
	exitFindings = 3
)

// Ledger is the slice of the posting coordinator the CLI drives.
type Ledger interface {
	PostStockMovement(ctx context.Context, cmd posting.MovementCommand) (posting.MovementResult, error)
	UnpostStockMovement(ctx context.Context, cmd posting.MovementCommand) (posting.MovementResult, error)
	RejectStockMovement(ctx context.Context, cmd posting.RejectCommand) (inventory.Movement, error)
	VoidPayment(ctx context.Context, in posting.VoidInput) (posting.PaymentResult, error)
	ReverseJournalEntry(ctx context.Context, in journals.ReverseInput) (journals.Entry, error)
}

// Reconciler runs the integrity checks.
type Reconciler interface {
	Run(ctx context.Context, tenantID int64) (reconcile.Report, error)
}

// Admin maintains tenant configuration.
type Admin interface {
	SetCostingMethod(ctx context.Context, tenantID int64, method costing.Method) error
	MapAccount(ctx context.Context, m mappings.AccountMapping) error
}

// MovementLister reads the stock ledger history.
type MovementLister interface {
	ListMovements(ctx context.Context, filter inventory.MovementFilter) ([]inventory.Movement, error)
}

// Deps are the services a command may need.
type Deps struct {
	Ledger     Ledger
	Reconciler Reconciler
	Admin      Admin
	Movements  MovementLister
}

// Connector opens the services. The returned func releases them.
type Connector func(ctx context.Context) (Deps, func(), error)

// handler parses its flags, then asks for deps only when the invocation is valid.
type handler func(ctx context.Context, fs *flag.FlagSet, args []string, out io.Writer, deps func() (Deps, error)) error

type command struct {
	summary string
	run     handler
}

var commands = map[string]command{
	"post-movement":   {summary: "post a draft stock movement", run: postMovement},
	"unpost-movement": {summary: "unpost the latest posted movement of a SKU", run: unpostMovement},
	"reject-movement": {summary: "reject a draft stock movement", run: rejectMovement},
	"void-payment":    {summary: "void a vendor payment", run: voidPayment},
	"reverse-entry":   {summary: "reverse a manual journal entry", run: reverseEntry},
	"movements":       {summary: "list recent movements of a SKU", run: listMovements},
	"reconcile":       {summary: "run the integrity checks, exit 3 on findings", run: runReconcile},
	"set-costing":     {summary: "set a tenant's costing method", run: setCosting},
	"map-account":     {summary: "map an account role for a tenant", run: mapAccount},
}

var errFindings = errors.New("integrity findings reported")

type usageError string

func (e usageError) Error() string { return string(e) }

func run(ctx context.Context, args []string, stdout, stderr io.Writer, connect Connector) int {
	if len(args) == 0 {
		usage(stderr)
		return exitUsage
	}
	if args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		usage(stdout)
		return exitOK
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		usage(stderr)
		return exitUsage
	}
	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.SetOutput(stderr)

	var release func()
	defer func() {
		if release != nil {
			release()
		}
	}()
	deps := func() (Deps, error) {
		d, closeFn, err := connect(ctx)
		if err != nil {
			return Deps{}, err
		}
		release = closeFn
		return d, nil
	}

	err := cmd.run(ctx, fs, args[1:], stdout, deps)
	var uerr usageError
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, flag.ErrHelp):
		return exitOK
	case errors.Is(err, errFindings):
		return exitFindings
	case errors.As(err, &uerr):
		fmt.Fprintf(stderr, "%s: %s\n", args[0], uerr)
		return exitUsage
	}
	fmt.Fprintf(stderr, "%s: %v\n", args[0], err)
	return exitFailure
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: ledgerctl <command> [flags]")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-16s %s\n", name, commands[name].summary)
	}
}

func parse(fs *flag.FlagSet, args []string, required map[string]*int64) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return usageError(err.Error())
	}
	names := make([]string, 0, len(required))
	for name := range required {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if *required[name] <= 0 {
			return usageError("-" + name + " is required")
		}
	}
	return nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func movementFlags(fs *flag.FlagSet) (*posting.MovementCommand, map[string]*int64) {
	cmd := &posting.MovementCommand{}
	fs.Int64Var(&cmd.TenantID, "tenant", 0, "tenant id (required)")
	fs.Int64Var(&cmd.MovementID, "movement", 0, "movement id (required)")
	fs.Int64Var(&cmd.ActorID, "actor", 0, "acting user id")
	fs.StringVar(&cmd.IdempotencyKey, "key", "", "idempotency key")
	return cmd, map[string]*int64{"tenant": &cmd.TenantID, "movement": &cmd.MovementID}
}

func postMovement(ctx context.Context, fs *flag.FlagSet, args []string, out io.Writer, deps func() (Deps, error)) error {
	cmd, required := movementFlags(fs)
	if err := parse(fs, args, required); err != nil {
		return err
	}
	d, err := deps()
	if err != nil {
		return err
	}
	res, err := d.Ledger.PostStockMovement(ctx, *cmd)
	if err != nil {
		return err
	}
	return printJSON(out, res)
}

func unpostMovement(ctx context.Context, fs *flag.FlagSet, args []string, out io.Writer, deps func() (Deps, error)) error {
	cmd, required := movementFlags(fs)
	if err := parse(fs, args, required); err != nil {
		return err
	}
	d, err := deps()
	if err != nil {
		return err
	}
	res, err := d.Ledger.UnpostStockMovement(ctx, *cmd)
	if err != nil {
		return err
	}
	return printJSON(out, res)
}

func rejectMovement(ctx context.Context, fs *flag.FlagSet, args []string, out io.Writer, deps func() (Deps, error)) error {
	var cmd posting.RejectCommand
	fs.Int64Var(&cmd.TenantID, "tenant", 0, "tenant id (required)")
	fs.Int64Var(&cmd.MovementID, "movement", 0, "movement id (required)")
	fs.Int64Var(&cmd.ActorID, "actor", 0, "acting user id")
	fs.StringVar(&cmd.Reason, "reason", "", "rejection reason")
	if err := parse(fs, args, map[string]*int64{"tenant": &cmd.TenantID, "movement": &cmd.MovementID}); err != nil {
		return err
	}
	d, err := deps()
	if err != nil {
		return err
	}
	m, err := d.Ledger.RejectStockMovement(ctx, cmd)
	if err != nil {
		return err
	}
	return printJSON(out, m)
}

func voidPayment(ctx context.Context, fs *flag.FlagSet, args []string, out io.Writer, deps func() (Deps, error)) error {
	var in posting.VoidInput
	fs.Int64Var(&in.TenantID, "tenant", 0, "tenant id (required)")
	fs.Int64Var(&in.PaymentID, "payment", 0, "payment id (required)")
	fs.Int64Var(&in.ActorID, "actor", 0, "acting user id")
	fs.StringVar(&in.Reason, "reason", "", "void reason")
	fs.StringVar(&in.IdempotencyKey, "key", "", "idempotency key")
	if err := parse(fs, args, map[string]*int64{"tenant": &in.TenantID, "payment": &in.PaymentID}); err != nil {
		return err
	}
	d, err := deps()
	if err != nil {
		return err
	}
	res, err := d.Ledger.VoidPayment(ctx, in)
	if err != nil {
		return err
	}
	return printJSON(out, res)
}

func reverseEntry(ctx context.Context, fs *flag.FlagSet, args []string, out io.Writer, deps func() (Deps, error)) error {
	var in journals.ReverseInput
	fs.Int64Var(&in.TenantID, "tenant", 0, "tenant id (required)")
	fs.Int64Var(&in.EntryID, "entry", 0, "journal entry id (required)")
	fs.Int64Var(&in.PostedBy, "actor", 0, "acting user id")
	fs.StringVar(&in.Description, "description", "", "reversal description")
	if err := parse(fs, args, map[string]*int64{"tenant": &in.TenantID, "entry": &in.EntryID}); err != nil {
		return err
	}
	d, err := deps()
	if err != nil {
		return err
	}
	entry, err := d.Ledger.ReverseJournalEntry(ctx, in)
	if err != nil {
		return err
	}
	return printJSON(out, entry)
}

func listMovements(ctx context.Context, fs *flag.FlagSet, args []string, out io.Writer, deps func() (Deps, error)) error {
	var filter inventory.MovementFilter
	var state string
	fs.Int64Var(&filter.TenantID, "tenant", 0, "tenant id (required)")
	fs.Int64Var(&filter.SKUID, "sku", 0, "sku id (required)")
	fs.StringVar(&state, "state", "", "DRAFT, POSTED or REJECTED; empty lists all")
	fs.IntVar(&filter.Limit, "limit", 50, "maximum rows")
	if err := parse(fs, args, map[string]*int64{"tenant": &filter.TenantID, "sku": &filter.SKUID}); err != nil {
		return err
	}
	switch inventory.MovementState(state) {
	case "", inventory.StateDraft, inventory.StatePosted, inventory.StateRejected:
		filter.State = inventory.MovementState(state)
	default:
		return usageError(fmt.Sprintf("unknown state %q", state))
	}
	d, err := deps()
	if err != nil {
		return err
	}
	movements, err := d.Movements.ListMovements(ctx, filter)
	if err != nil {
		return err
	}
	return printJSON(out, movements)
}

func runReconcile(ctx context.Context, fs *flag.FlagSet, args []string, out io.Writer, deps func() (Deps, error)) error {
	tenantID := fs.Int64("tenant", 0, "tenant id, 0 checks every tenant")
	if err := parse(fs, args, nil); err != nil {
		return err
	}
	if *tenantID < 0 {
		return usageError("-tenant must not be negative")
	}
	d, err := deps()
	if err != nil {
		return err
	}
	report, err := d.Reconciler.Run(ctx, *tenantID)
	if err != nil {
		return err
	}
	for _, f := range report.Findings {
		fmt.Fprintln(out, f.String())
	}
	if !report.Clean() {
		fmt.Fprintf(out, "%d finding(s)\n", len(report.Findings))
		return errFindings
	}
	fmt.Fprintln(out, "ledger consistent")
	return nil
}

func setCosting(ctx context.Context, fs *flag.FlagSet, args []string, out io.Writer, deps func() (Deps, error)) error {
	tenantID := fs.Int64("tenant", 0, "tenant id (required)")
	raw := fs.String("method", "", "FIFO or WEIGHTED_AVERAGE (required)")
	if err := parse(fs, args, map[string]*int64{"tenant": tenantID}); err != nil {
		return err
	}
	method, err := costing.ParseMethod(*raw)
	if err != nil {
		return usageError(err.Error())
	}
	d, err := deps()
	if err != nil {
		return err
	}
	if err := d.Admin.SetCostingMethod(ctx, *tenantID, method); err != nil {
		return err
	}
	fmt.Fprintf(out, "tenant %d costing method set to %s\n", *tenantID, method)
	return nil
}

func mapAccount(ctx context.Context, fs *flag.FlagSet, args []string, out io.Writer, deps func() (Deps, error)) error {
	var m mappings.AccountMapping
	var role string
	fs.Int64Var(&m.TenantID, "tenant", 0, "tenant id (required)")
	fs.StringVar(&role, "role", "", "account role (required)")
	fs.Int64Var(&m.AccountID, "account", 0, "ledger account id (required)")
	if err := parse(fs, args, map[string]*int64{"tenant": &m.TenantID, "account": &m.AccountID}); err != nil {
		return err
	}
	m.Role = mappings.Role(role)
	if !m.Role.Valid() {
		return usageError(fmt.Sprintf("unknown role %q", role))
	}
	d, err := deps()
	if err != nil {
		return err
	}
	if err := d.Admin.MapAccount(ctx, m); err != nil {
		return err
	}
	fmt.Fprintf(out, "tenant %d role %s mapped to account %d\n", m.TenantID, m.Role, m.AccountID)
	return nil
}
