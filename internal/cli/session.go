package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chronofact-dev/chronofact/internal/archive"
	"github.com/chronofact-dev/chronofact/internal/engine"
	"github.com/chronofact-dev/chronofact/internal/eventlog"
	"github.com/chronofact-dev/chronofact/internal/rulespec"
)

// session bundles an engine with its backing files for one command run.
type session struct {
	engine *engine.Engine
	opts   *RootOptions
	store  *archive.Store // nil without --archive
}

// openSession builds the engine, applies the rule pack, and replays the
// trace file. A missing trace file is an empty history, not an error.
func openSession(ctx context.Context, opts *RootOptions) (*session, error) {
	s := &session{opts: opts}

	var engOpts []engine.Option
	if opts.WindowLimit > 0 {
		engOpts = append(engOpts, engine.WithWindowLimit(opts.WindowLimit))
	}
	if opts.ArchivePath != "" {
		store, err := archive.Open(opts.ArchivePath)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "open archive", err)
		}
		s.store = store
		engOpts = append(engOpts, engine.WithArchive(store))

		// Resume sequence numbering past the archive so same-instant
		// ordering against archived events stays stable across runs.
		maxSeq, err := store.MaxSeq(ctx)
		if err != nil {
			store.Close()
			return nil, WrapExitError(ExitCommandError, "read archive", err)
		}
		engOpts = append(engOpts, engine.WithClock(eventlog.NewClockAt(maxSeq)))
	}
	s.engine = engine.New(engOpts...)

	if opts.RulesPath != "" {
		if err := s.loadRulePack(); err != nil {
			s.Close()
			return nil, err
		}
	}
	if err := s.loadTrace(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) loadRulePack() error {
	info, err := os.Stat(s.opts.RulesPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "rule pack", err)
	}

	var pack *rulespec.Pack
	if info.IsDir() {
		pack, err = rulespec.LoadDir(s.opts.RulesPath)
	} else {
		pack, err = rulespec.LoadFile(s.opts.RulesPath)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "rule pack", err)
	}

	exclusive := make(map[string]bool, len(pack.Domains))
	for _, d := range pack.Domains {
		if err := s.engine.DeclareDomain(d.Name, d.Exclusive); err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("domain %s", d.Name), err)
		}
		exclusive[d.Name] = d.Exclusive
	}
	for _, r := range pack.Rules {
		if err := s.engine.RegisterRule(r.Action, r.Domain, exclusive[r.Domain], r.Effect); err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("rule %s", r.Action), err)
		}
	}
	return nil
}

func (s *session) loadTrace(ctx context.Context) error {
	f, err := os.Open(s.opts.LogPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "open trace", err)
	}
	defer f.Close()

	if err := s.engine.Import(ctx, f); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("replay trace %s", s.opts.LogPath), err)
	}
	return nil
}

// Save writes the trace back atomically: export to a temp file in the
// same directory, then rename over the original.
func (s *session) Save(ctx context.Context) error {
	dir := filepath.Dir(s.opts.LogPath)
	tmp, err := os.CreateTemp(dir, ".chronofact-*.tmp")
	if err != nil {
		return WrapExitError(ExitCommandError, "write trace", err)
	}
	defer os.Remove(tmp.Name())

	if err := s.engine.Export(ctx, tmp); err != nil {
		tmp.Close()
		return WrapExitError(ExitCommandError, "write trace", err)
	}
	if err := tmp.Close(); err != nil {
		return WrapExitError(ExitCommandError, "write trace", err)
	}
	if err := os.Rename(tmp.Name(), s.opts.LogPath); err != nil {
		return WrapExitError(ExitCommandError, "write trace", err)
	}
	return nil
}

// Close releases the archive connection, if any.
func (s *session) Close() {
	if s.store != nil {
		s.store.Close()
	}
}
