// Package patch builds patches for a set of dex files, deciding per file
// whether to ship a binary diff, the whole new file, or nothing.
package patch

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"dexdiff/internal/compare"
	"dexdiff/internal/dex"
	"dexdiff/internal/loader"
	"dexdiff/internal/pattern"
)

var (
	// ErrClassDuplicate means two dex files add, or two delete, the same
	// class.
	ErrClassDuplicate = errors.New("class duplicate")
	// ErrPatchVerification means applying a patch did not reproduce the
	// classes of the new file.
	ErrPatchVerification = errors.New("patch verification failed")
)

// DefaultMaxPatchRatio is the largest patch size, relative to the new dex,
// worth shipping instead of the whole file.
const DefaultMaxPatchRatio = 0.6

// Mode says how a dex file is delivered.
type Mode string

const (
	ModePatch     Mode = "patch"
	ModeFull      Mode = "full"
	ModeUnchanged Mode = "unchanged"
	ModeDeleted   Mode = "deleted"
)

// Options configures an Orchestrator.
type Options struct {
	LoaderPatterns             []string
	IgnoreLoaderChangePatterns []string
	AllowLoaderInAnyDex        bool
	// IgnoreWarning logs loader class violations instead of failing.
	IgnoreWarning bool
	// MaxPatchRatio defaults to DefaultMaxPatchRatio.
	MaxPatchRatio float64
	Workers       int
	// Codec defaults to BSDiff.
	Codec  Codec
	Logger *log.Logger
}

// Pair is one dex file by name. Old is nil for an added file and New for a
// removed one.
type Pair struct {
	Name     string
	Old, New []byte
}

// Entry describes the outcome for one dex file. Patch holds the bytes to
// ship: the diff in ModePatch, the new file in ModeFull.
type Entry struct {
	Name       string `json:"name"`
	Mode       Mode   `json:"mode"`
	OldMD5     string `json:"old_md5,omitempty"`
	NewMD5     string `json:"new_md5,omitempty"`
	PatchedMD5 string `json:"patched_md5,omitempty"`
	OldSize    int    `json:"old_size"`
	NewSize    int    `json:"new_size"`
	PatchSize  int    `json:"patch_size,omitempty"`
	Patch      []byte `json:"-"`
}

// Move is a class deleted from one dex and added to another.
type Move struct {
	Class string `json:"class"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// Manifest is the result of a run.
type Manifest struct {
	Entries []Entry `json:"entries"`
	Moved   []Move  `json:"moved,omitempty"`
}

// Orchestrator runs the per-file pipeline.
type Orchestrator struct {
	opts    Options
	checker *loader.Checker
	// all classes, for added and deleted bookkeeping and verification
	classes *compare.Comparator
	loaders *pattern.Set
	logger  *log.Logger
}

// New validates opts and fills in defaults.
func New(opts Options) (*Orchestrator, error) {
	if opts.MaxPatchRatio <= 0 {
		opts.MaxPatchRatio = DefaultMaxPatchRatio
	}
	if opts.Codec == nil {
		opts.Codec = BSDiff{}
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	checker, err := loader.NewChecker(loader.Options{
		LoaderPatterns:       opts.LoaderPatterns,
		IgnoreChangePatterns: opts.IgnoreLoaderChangePatterns,
		AllowLoaderInAnyDex:  opts.AllowLoaderInAnyDex,
		Workers:              opts.Workers,
		Logger:               opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	classes, err := compare.New(compare.Options{
		ClassPatterns:  []string{"*"},
		LoaderPatterns: opts.LoaderPatterns,
		Workers:        opts.Workers,
	})
	if err != nil {
		return nil, err
	}
	loaders, err := pattern.Compile(opts.LoaderPatterns)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{opts: opts, checker: checker, classes: classes, loaders: loaders, logger: opts.Logger}, nil
}

// run is the state shared by the files of one Run.
type run struct {
	o *Orchestrator
	// class descriptor to the dex that added or deleted it
	addedIn   map[string]string
	deletedIn map[string]string
}

// Run processes pairs in order and reports classes that moved between
// files.
func (o *Orchestrator) Run(ctx context.Context, pairs []Pair) (*Manifest, error) {
	r := &run{o: o, addedIn: map[string]string{}, deletedIn: map[string]string{}}
	m := &Manifest{Entries: make([]Entry, 0, len(pairs))}
	for _, p := range pairs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e, err := r.process(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Name, err)
		}
		m.Entries = append(m.Entries, e)
	}
	m.Moved = r.moved()
	for _, mv := range m.Moved {
		o.logger.Warn("class moved between dex files, which enlarges the patch", "class", mv.Class, "from", mv.From, "to", mv.To)
	}
	return m, nil
}

func (r *run) process(ctx context.Context, p Pair) (Entry, error) {
	if p.Old == nil && p.New == nil {
		return Entry{}, errors.New("both old and new are missing")
	}
	oldDex, err := parse(p.Name, p.Old)
	if err != nil {
		return Entry{}, err
	}
	newDex, err := parse(p.Name, p.New)
	if err != nil {
		return Entry{}, err
	}

	r.o.logger.Debug("checking loader classes", "dex", p.Name)
	if err := r.o.checker.Check(ctx, loader.Pair{Name: p.Name, Old: oldDex, New: newDex}); err != nil {
		if !r.o.opts.IgnoreWarning || !errors.Is(err, loader.ErrLoaderClassInvariantViolated) {
			return Entry{}, err
		}
		r.o.logger.Warn("ignoring loader class violation", "err", err)
	}

	e := Entry{Name: p.Name, OldSize: len(p.Old), NewSize: len(p.New)}
	if p.Old != nil {
		e.OldMD5 = md5Hex(p.Old)
	}
	if p.New != nil {
		e.NewMD5 = md5Hex(p.New)
	}
	if p.Old != nil && p.New != nil && e.OldMD5 == e.NewMD5 {
		e.Mode = ModeUnchanged
		return e, nil
	}
	if err := r.record(oldDex, newDex, p.Name); err != nil {
		return Entry{}, err
	}
	if p.New == nil {
		e.Mode = ModeDeleted
		return e, nil
	}
	if p.Old == nil {
		e.Mode, e.Patch, e.PatchSize = ModeFull, p.New, len(p.New)
		return e, nil
	}

	diff, err := r.o.opts.Codec.Diff(p.Old, p.New)
	if err != nil {
		return Entry{}, fmt.Errorf("diff: %w", err)
	}
	patched, err := r.verify(ctx, p, newDex, diff)
	if err != nil {
		return Entry{}, err
	}
	e.PatchedMD5 = md5Hex(patched)

	ratio := float64(len(diff)) / float64(len(p.New))
	if ratio > r.o.opts.MaxPatchRatio {
		r.o.logger.Warn("patch is too large, shipping the whole dex",
			"dex", p.Name,
			"patch", humanize.Bytes(uint64(len(diff))),
			"new", humanize.Bytes(uint64(len(p.New))),
			"ratio", fmt.Sprintf("%.2f", ratio))
		e.Mode, e.Patch, e.PatchSize = ModeFull, p.New, len(p.New)
		return e, nil
	}
	e.Mode, e.Patch, e.PatchSize = ModePatch, diff, len(diff)
	r.o.logger.Info("patched", "dex", p.Name,
		"old", humanize.Bytes(uint64(len(p.Old))),
		"new", humanize.Bytes(uint64(len(p.New))),
		"patch", humanize.Bytes(uint64(len(diff))))
	return e, nil
}

func parse(name string, data []byte) (*dex.Dex, error) {
	if data == nil {
		return nil, nil
	}
	return dex.New(name, data)
}

// record notes the classes name adds and deletes, counting every class of
// an added or removed file. A class added, or deleted, by two files is an
// error.
func (r *run) record(oldDex, newDex *dex.Dex, name string) error {
	res, err := r.o.classes.Membership(oldDex, newDex)
	if err != nil {
		return err
	}
	for _, desc := range res.Added {
		if prev, ok := r.addedIn[desc]; ok {
			return fmt.Errorf("%w: %s is added in both %s and %s", ErrClassDuplicate, desc, prev, name)
		}
		r.addedIn[desc] = name
	}
	for _, desc := range res.Deleted {
		if prev, ok := r.deletedIn[desc]; ok {
			return fmt.Errorf("%w: %s is deleted in both %s and %s", ErrClassDuplicate, desc, prev, name)
		}
		r.deletedIn[desc] = name
	}
	return nil
}

// verify applies diff to the old file and checks that the result defines
// the classes of the new one. Only loader classes may go missing.
func (r *run) verify(ctx context.Context, p Pair, newDex *dex.Dex, diff []byte) ([]byte, error) {
	patched, err := r.o.opts.Codec.Patch(p.Old, diff)
	if err != nil {
		return nil, fmt.Errorf("%w: apply: %w", ErrPatchVerification, err)
	}
	patchedDex, err := dex.New(p.Name, patched)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPatchVerification, err)
	}
	res, err := r.o.classes.Compare(ctx, newDex, patchedDex)
	if err != nil {
		return nil, err
	}
	if len(res.Added) > 0 {
		return nil, fmt.Errorf("%w: classes added: %v", ErrPatchVerification, res.Added)
	}
	if len(res.Changed) > 0 {
		return nil, fmt.Errorf("%w: classes changed: %v", ErrPatchVerification, res.Changed)
	}
	var lost []string
	for _, desc := range res.Deleted {
		if !r.o.loaders.Match(desc) {
			lost = append(lost, desc)
		}
	}
	if len(lost) > 0 {
		return nil, fmt.Errorf("%w: classes deleted: %v", ErrPatchVerification, lost)
	}
	return patched, nil
}

// moved lists classes deleted by one file and added by another.
func (r *run) moved() []Move {
	var out []Move
	for desc, from := range r.deletedIn {
		if to, ok := r.addedIn[desc]; ok {
			out = append(out, Move{Class: desc, From: from, To: to})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Class < out[j].Class })
	return out
}

func md5Hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}
