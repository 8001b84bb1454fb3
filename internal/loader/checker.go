// Package loader enforces the rules that keep loader classes, the classes
// that install patches, out of every patch.
//
// Loader classes may live only in the primary dex, and every loader class
// of the new primary dex must already exist, unchanged, in the old one.
package loader

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/charmbracelet/log"

	"dexdiff/internal/compare"
	"dexdiff/internal/dex"
	"dexdiff/internal/pattern"
)

// Options configures a Checker.
type Options struct {
	LoaderPatterns []string
	// IgnoreChangePatterns lists loader classes whose changes are logged
	// instead of failing the check.
	IgnoreChangePatterns []string
	// AllowLoaderInAnyDex turns loader classes found in secondary dex files
	// into a warning.
	AllowLoaderInAnyDex bool
	Workers             int
	Logger              *log.Logger
}

// Checker validates dex pairs against the loader class rules.
type Checker struct {
	loaders  *pattern.Set
	ignore   *pattern.Set
	cmp      *compare.Comparator
	allowAny bool
	logger   *log.Logger
}

// NewChecker compiles the patterns in opts.
func NewChecker(opts Options) (*Checker, error) {
	loaders, err := pattern.Compile(opts.LoaderPatterns)
	if err != nil {
		return nil, err
	}
	ignore, err := pattern.Compile(opts.IgnoreChangePatterns)
	if err != nil {
		return nil, err
	}
	c := &Checker{loaders: loaders, ignore: ignore, allowAny: opts.AllowLoaderInAnyDex, logger: opts.Logger}
	if c.logger == nil {
		c.logger = log.Default()
	}
	if !loaders.Empty() {
		c.cmp, err = compare.New(compare.Options{ClassPatterns: loaders.Patterns(), Workers: opts.Workers})
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Pair is one dex file in its old and new version. Either side may be nil
// when the file was added or removed.
type Pair struct {
	Name     string
	Old, New *dex.Dex
}

// IsPrimary reports whether name is the first dex of an application.
func IsPrimary(name string) bool { return name == dex.PrimaryName }

type state int

const (
	stateStart state = iota
	statePrimaryOldMissing
	statePrimaryNewMissing
	stateLoaderNotInPrimaryOld
	stateLoaderAddedInPrimary
	stateFoundInSecondaryOld
	stateFoundInSecondaryNew
	stateLoaderChanged
	stateEnd
)

// run holds what one check learned on its way to a terminal state.
type run struct {
	c       *Checker
	p       Pair
	added   []string
	changed []string
	found   []string
}

// Check returns nil when p respects the loader class rules and an
// *InvariantError otherwise.
func (c *Checker) Check(ctx context.Context, p Pair) error {
	if p.Old == nil && p.New == nil {
		return errors.New("loader check: both dex files are missing")
	}
	r := &run{c: c, p: p}
	st := stateStart
	for st != stateEnd {
		switch st {
		case stateStart:
			next, err := r.start(ctx)
			if err != nil {
				return err
			}
			st = next
		case statePrimaryOldMissing:
			return r.fail(KindPrimaryOldMissing, nil)
		case statePrimaryNewMissing:
			return r.fail(KindPrimaryNewMissing, nil)
		case stateLoaderNotInPrimaryOld:
			return r.fail(KindLoaderNotInPrimaryOld, r.added)
		case stateLoaderAddedInPrimary:
			return r.fail(KindLoaderAdded, r.added)
		case stateFoundInSecondaryOld:
			return r.secondary(KindFoundInSecondaryOld)
		case stateFoundInSecondaryNew:
			return r.secondary(KindFoundInSecondaryNew)
		case stateLoaderChanged:
			return r.fail(KindLoaderChanged, r.changed)
		default:
			st = stateEnd
		}
	}
	return nil
}

func (r *run) start(ctx context.Context) (state, error) {
	if !IsPrimary(r.p.Name) {
		var err error
		if r.p.Old != nil {
			if r.found, err = r.c.loaderClasses(r.p.Old); err != nil {
				return stateEnd, err
			}
			if len(r.found) > 0 {
				return stateFoundInSecondaryOld, nil
			}
		}
		if r.p.New != nil {
			if r.found, err = r.c.loaderClasses(r.p.New); err != nil {
				return stateEnd, err
			}
			if len(r.found) > 0 {
				return stateFoundInSecondaryNew, nil
			}
		}
		return stateEnd, nil
	}

	switch {
	case r.p.Old == nil:
		return statePrimaryOldMissing, nil
	case r.p.New == nil:
		return statePrimaryNewMissing, nil
	case r.c.cmp == nil:
		return stateEnd, nil
	}

	res, err := r.c.cmp.Compare(ctx, r.p.Old, r.p.New)
	if err != nil {
		return stateEnd, fmt.Errorf("loader check %s: %w", r.p.Name, err)
	}
	r.added = res.Added
	if len(res.Added) > 0 {
		old, err := r.c.loaderClasses(r.p.Old)
		if err != nil {
			return stateEnd, err
		}
		if len(old) == 0 {
			return stateLoaderNotInPrimaryOld, nil
		}
		return stateLoaderAddedInPrimary, nil
	}
	for _, desc := range res.Changed {
		if r.c.ignore.Match(desc) {
			r.c.logger.Warn("loader class changed but matches an ignore pattern", "dex", r.p.Name, "class", desc)
			continue
		}
		r.changed = append(r.changed, desc)
	}
	if len(r.changed) > 0 {
		return stateLoaderChanged, nil
	}
	return stateEnd, nil
}

func (r *run) fail(kind Kind, classes []string) error {
	return &InvariantError{Kind: kind, Dex: r.p.Name, Classes: classes}
}

func (r *run) secondary(kind Kind) error {
	err := r.fail(kind, r.found)
	if r.c.allowAny {
		r.c.logger.Warn(err.Error())
		return nil
	}
	return err
}

// loaderClasses lists the sorted descriptors in d matching a loader pattern.
func (c *Checker) loaderClasses(d *dex.Dex) ([]string, error) {
	if c.loaders.Empty() {
		return nil, nil
	}
	defs, err := d.ClassDefs()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, cd := range defs {
		desc, err := d.ClassDescriptor(cd)
		if err != nil {
			return nil, err
		}
		if c.loaders.Match(desc) {
			out = append(out, desc)
		}
	}
	sort.Strings(out)
	return out, nil
}
