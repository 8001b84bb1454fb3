// Package compare decides which classes differ between two dex files.
//
// Classes are matched by descriptor. Two classes with the same descriptor
// are equal when every reference inside them resolves to the same names,
// regardless of the raw table indices each file assigned.
package compare

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"dexdiff/internal/dex"
	"dexdiff/internal/pattern"
)

// Options configures a Comparator.
type Options struct {
	// ClassPatterns selects the classes to compare. Empty means all.
	ClassPatterns []string
	// LoaderPatterns names loader classes. When a class implements a loader
	// interface, the interface is taken as unchanged because its definition
	// stays frozen at runtime.
	LoaderPatterns []string
	// Workers bounds the number of classes compared at once. Zero means
	// GOMAXPROCS.
	Workers int
}

// Result lists descriptors of the classes that differ. Each list is sorted.
type Result struct {
	Added   []string `json:"added"`
	Deleted []string `json:"deleted"`
	Changed []string `json:"changed"`
}

// Empty reports whether the two files hold the same classes.
func (r *Result) Empty() bool {
	return len(r.Added) == 0 && len(r.Deleted) == 0 && len(r.Changed) == 0
}

// Comparator compares dex files. It holds no per-run state and can be
// reused concurrently.
type Comparator struct {
	classes *pattern.Set
	loaders *pattern.Set
	workers int
}

// New compiles the patterns in opts.
func New(opts Options) (*Comparator, error) {
	classPatterns := opts.ClassPatterns
	if len(classPatterns) == 0 {
		classPatterns = []string{"*"}
	}
	classes, err := pattern.Compile(classPatterns)
	if err != nil {
		return nil, err
	}
	loaders, err := pattern.Compile(opts.LoaderPatterns)
	if err != nil {
		return nil, err
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Comparator{classes: classes, loaders: loaders, workers: workers}, nil
}

// side indexes the class definitions of one file.
type side struct {
	d      *dex.Dex
	byDesc map[string]dex.ClassDef
	byType map[uint32]dex.ClassDef
	// descriptors selected by the class patterns
	checked map[string]struct{}
}

// index of a nil file is empty.
func (c *Comparator) index(d *dex.Dex) (*side, error) {
	var defs []dex.ClassDef
	if d != nil {
		var err error
		if defs, err = d.ClassDefs(); err != nil {
			return nil, err
		}
	}
	s := &side{
		d:       d,
		byDesc:  make(map[string]dex.ClassDef, len(defs)),
		byType:  make(map[uint32]dex.ClassDef, len(defs)),
		checked: make(map[string]struct{}),
	}
	for _, cd := range defs {
		desc, err := d.TypeName(cd.TypeIndex)
		if err != nil {
			return nil, err
		}
		s.byDesc[desc] = cd
		s.byType[cd.TypeIndex] = cd
		if c.classes.Match(desc) {
			s.checked[desc] = struct{}{}
		}
	}
	return s, nil
}

// Membership reports the classes added to and deleted from new without
// comparing the classes both files define. Changed is always empty. Either
// file may be nil.
func (c *Comparator) Membership(oldDex, newDex *dex.Dex) (*Result, error) {
	olds, news, err := c.indexPair(oldDex, newDex)
	if err != nil {
		return nil, err
	}
	res, _ := split(olds, news)
	return res, nil
}

// Compare reports the classes added to, deleted from and changed between
// old and new. The first decode failure aborts the run.
func (c *Comparator) Compare(ctx context.Context, oldDex, newDex *dex.Dex) (*Result, error) {
	olds, news, err := c.indexPair(oldDex, newDex)
	if err != nil {
		return nil, err
	}
	res, candidates := split(olds, news)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for _, desc := range candidates {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			cc := &classComparer{loaders: c.loaders, old: olds, new: news}
			same, err := cc.sameClass(olds.byDesc[desc], news.byDesc[desc])
			if err != nil {
				return fmt.Errorf("compare %s: %w", desc, err)
			}
			if !same {
				mu.Lock()
				res.Changed = append(res.Changed, desc)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Strings(res.Changed)
	return res, nil
}

func (c *Comparator) indexPair(oldDex, newDex *dex.Dex) (*side, *side, error) {
	olds, err := c.index(oldDex)
	if err != nil {
		return nil, nil, fmt.Errorf("index %s: %w", oldDex.Name, err)
	}
	news, err := c.index(newDex)
	if err != nil {
		return nil, nil, fmt.Errorf("index %s: %w", newDex.Name, err)
	}
	return olds, news, nil
}

// split sorts the selected descriptors into added, deleted and the
// candidates present on both sides.
func split(olds, news *side) (*Result, []string) {
	res := &Result{Added: []string{}, Deleted: []string{}, Changed: []string{}}
	var candidates []string
	for desc := range olds.checked {
		if _, ok := news.checked[desc]; ok {
			candidates = append(candidates, desc)
		} else {
			res.Deleted = append(res.Deleted, desc)
		}
	}
	for desc := range news.checked {
		if _, ok := olds.checked[desc]; !ok {
			res.Added = append(res.Added, desc)
		}
	}
	sort.Strings(res.Added)
	sort.Strings(res.Deleted)
	sort.Strings(candidates)
	return res, candidates
}

func methodError(m dex.MethodRef, err error) error {
	return fmt.Errorf("method %s%s: %w", m.Name, m.Proto, err)
}
