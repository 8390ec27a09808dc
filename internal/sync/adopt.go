package sync

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ErrNotSignedIn is returned when adoption is attempted without an identity.
var ErrNotSignedIn = errors.New("not signed in")

// AdoptPlan describes what adopting one collection's anonymous items would
// do.
type AdoptPlan struct {
	Collection string
	Present    []string // labels already in the signed-in collection
	Missing    []string // labels that will be added

	apply func(ctx context.Context) (added int, errs []error)
}

// Adoptable is a collection whose anonymous items can be adopted.
type Adoptable interface {
	PlanAdopt(ctx context.Context) (AdoptPlan, error)
}

// PlanAdopt compares the anonymous-scope snapshot with the signed-in
// collection. Applying the plan adds the missing items through [Engine.Add].
func (e *Engine[T]) PlanAdopt(ctx context.Context) (AdoptPlan, error) {
	userID, ok := e.ident.Current()
	if !ok {
		return AdoptPlan{}, ErrNotSignedIn
	}
	anon, err := e.readLocal(ctx, "")
	if err != nil {
		return AdoptPlan{}, fmt.Errorf("reading anonymous %s: %w", e.spec.Name, err)
	}

	e.mu.Lock()
	e.ensureScopeLocked(ctx, userID)
	e.mu.Unlock()

	label := e.spec.Label
	if label == nil {
		label = e.spec.Key
	}
	plan := AdoptPlan{Collection: e.spec.Name}
	var missing []T
	for _, it := range Dedupe(anon, e.spec.Key) {
		if e.IsMember(e.spec.Key(it)) {
			plan.Present = append(plan.Present, label(it))
			continue
		}
		plan.Missing = append(plan.Missing, label(it))
		missing = append(missing, it)
	}

	plan.apply = func(ctx context.Context) (int, []error) {
		added := 0
		var errs []error
		for _, it := range missing {
			res := e.Add(ctx, it)
			if res.Changed {
				added++
			}
			if err := res.Err(); err != nil {
				errs = append(errs, fmt.Errorf("adopting %s into %s: %w", e.spec.Key(it), e.spec.Name, err))
			}
		}
		return added, errs
	}
	return plan, nil
}

// Adopter copies anonymous items into the signed-in collections after
// showing a summary and asking for confirmation. It never runs on its own.
type Adopter struct {
	log    *slog.Logger
	reader io.Reader // for confirmation prompt (os.Stdin in production)
	writer io.Writer // for summary output (os.Stdout in production)
}

// NewAdopter creates an Adopter. reader and writer control the
// confirmation prompt I/O.
func NewAdopter(logger *slog.Logger, reader io.Reader, writer io.Writer) *Adopter {
	return &Adopter{log: logger, reader: reader, writer: writer}
}

// Run plans adoption for every source, prints the summary and, if the user
// confirms, adds the missing items. It returns the number of items added.
// Remote failures do not stop adoption: affected items stay local-only and
// are pushed by a later load.
func (a *Adopter) Run(ctx context.Context, sources ...Adoptable) (int, error) {
	plans := make([]AdoptPlan, 0, len(sources))
	for _, src := range sources {
		p, err := src.PlanAdopt(ctx)
		if err != nil {
			return 0, err
		}
		plans = append(plans, p)
	}

	total := a.printSummary(plans)
	if total == 0 {
		_, _ = fmt.Fprintln(a.writer, "Nothing to adopt.")
		return 0, nil
	}
	if !a.confirm() {
		a.log.Info("adoption cancelled by user")
		return 0, nil
	}

	added := 0
	var errs []error
	for _, p := range plans {
		n, perrs := p.apply(ctx)
		added += n
		errs = append(errs, perrs...)
		a.log.Info("adopted anonymous items", "collection", p.Collection, "added", n)
	}
	return added, errors.Join(errs...)
}

// printSummary writes what adoption would do and returns how many items
// would be added.
func (a *Adopter) printSummary(plans []AdoptPlan) int {
	total := 0
	_, _ = fmt.Fprintf(a.writer, "\n--- Adopt Anonymous Items ---\n\n")
	for _, p := range plans {
		if len(p.Present) == 0 && len(p.Missing) == 0 {
			continue
		}
		_, _ = fmt.Fprintf(a.writer, "%s:\n", p.Collection)
		_, _ = fmt.Fprintf(a.writer, "  Already in account: %d\n", len(p.Present))
		if len(p.Missing) > 0 {
			_, _ = fmt.Fprintf(a.writer, "  Will be added: %d\n", len(p.Missing))
			for _, l := range p.Missing {
				_, _ = fmt.Fprintf(a.writer, "    + %s\n", l)
			}
		}
		_, _ = fmt.Fprintln(a.writer)
		total += len(p.Missing)
	}
	_, _ = fmt.Fprintf(a.writer, "Total: %d item(s) to add\n", total)
	return total
}

// confirm reads a y/n response from the reader.
func (a *Adopter) confirm() bool {
	_, _ = fmt.Fprintf(a.writer, "Adopt these items? [y/N] ")
	scanner := bufio.NewScanner(a.reader)
	if scanner.Scan() {
		answer := strings.TrimSpace(strings.ToLower(scanner.Text()))
		return answer == "y" || answer == "yes"
	}
	return false
}
