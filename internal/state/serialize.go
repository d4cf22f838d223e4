package state

import (
	"bytes"
	"fmt"
	"path"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/sirupsen/logrus"

	"revsync/internal/artifact"
	"revsync/internal/util"
)

var log = logrus.WithField("pkg", "state")

// TreeWriter receives a snapshot's complete file set. Paths are
// relative to the user's subtree; the transport decides where that
// subtree lives and when the write becomes visible to readers.
type TreeWriter interface {
	WriteFile(path string, data []byte) error
	RemoveAll(path string) error
}

// TreeReader provides read access to one user's subtree at a pinned
// version.
type TreeReader interface {
	ReadFile(path string) ([]byte, error)
	List() ([]string, error)
}

// metadata is the per-user metadata.toml record.
type metadata struct {
	User         string `toml:"user"`
	Version      int    `toml:"version"`
	LastPushKey  string `toml:"last_push_artifact"`
	LastPushKind int    `toml:"last_push_artifact_type"`
	LastPushTime int64  `toml:"last_push_time"`
}

const (
	metadataFile  = "metadata.toml"
	functionsFile = "functions.toml"
	commentsDir   = "comments"
	stackVarsDir  = "stack_vars"
	structsDir    = "structs"
)

// DumpTree writes the complete snapshot. Category directories are
// rewritten from scratch so renames and deletions leave no stale
// files; the transport commits the result as one unit, which is what
// makes the snapshot atomic from a reader's perspective.
func (s *State) DumpTree(w TreeWriter) error {
	meta := metadata{
		User:         s.User,
		Version:      s.Version,
		LastPushKey:  s.LastPushKey,
		LastPushKind: int(s.LastPushKind),
		LastPushTime: s.LastPushTime,
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(meta); err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	if err := w.WriteFile(metadataFile, buf.Bytes()); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}

	funcs, err := artifact.DumpFunctions(s.Functions)
	if err != nil {
		return err
	}
	if err := w.WriteFile(functionsFile, funcs); err != nil {
		return fmt.Errorf("writing functions: %w", err)
	}

	for _, dir := range []string{commentsDir, stackVarsDir, structsDir} {
		if err := w.RemoveAll(dir); err != nil {
			return fmt.Errorf("clearing %s: %w", dir, err)
		}
	}

	for funcAddr, cmts := range s.Comments {
		data, err := artifact.DumpComments(cmts)
		if err != nil {
			return err
		}
		p := path.Join(commentsDir, util.AddrKey(funcAddr)+".toml")
		if err := w.WriteFile(p, data); err != nil {
			return fmt.Errorf("writing %s: %w", p, err)
		}
	}

	for funcAddr, vars := range s.StackVariables {
		data, err := artifact.DumpStackVariables(vars)
		if err != nil {
			return err
		}
		p := path.Join(stackVarsDir, util.AddrKey(funcAddr)+".toml")
		if err := w.WriteFile(p, data); err != nil {
			return fmt.Errorf("writing %s: %w", p, err)
		}
	}

	for _, st := range s.StructList() {
		data, err := st.EncodeTOML()
		if err != nil {
			return err
		}
		p := path.Join(structsDir, st.Name+".toml")
		if err := w.WriteFile(p, data); err != nil {
			return fmt.Errorf("writing %s: %w", p, err)
		}
	}

	s.dirty = false
	return nil
}

// ParseTree rebuilds a snapshot from one user's subtree. A single
// unreadable or unparsable file skips that entry only and never blocks
// the rest of the snapshot.
func ParseTree(r TreeReader, version int) (*State, error) {
	metaRaw, err := r.ReadFile(metadataFile)
	if err != nil {
		return nil, fmt.Errorf("reading metadata: %w", err)
	}
	var meta metadata
	if err := toml.Unmarshal(metaRaw, &meta); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}

	s := New(meta.User)
	s.Version = meta.Version
	if version != 0 {
		s.Version = version
	}
	s.LastPushKey = meta.LastPushKey
	s.LastPushKind = Kind(meta.LastPushKind)
	s.LastPushTime = meta.LastPushTime

	if raw, err := r.ReadFile(functionsFile); err == nil {
		funcs, err := artifact.LoadFunctions(raw)
		if err != nil {
			log.WithError(err).Debug("skipping unparsable functions file")
		} else {
			s.Functions = funcs
		}
	}

	paths, err := r.List()
	if err != nil {
		return nil, fmt.Errorf("listing state tree: %w", err)
	}
	for _, p := range paths {
		switch {
		case match("comments/*.toml", p):
			addr, err := util.ParseAddrKey(strip(p))
			if err != nil {
				continue
			}
			raw, err := r.ReadFile(p)
			if err != nil {
				continue
			}
			cmts, err := artifact.LoadComments(raw)
			if err != nil {
				log.WithError(err).WithField("path", p).Debug("skipping unparsable comments file")
				continue
			}
			if len(cmts) > 0 {
				s.Comments[addr] = cmts
			}
		case match("stack_vars/*.toml", p):
			addr, err := util.ParseAddrKey(strip(p))
			if err != nil {
				continue
			}
			raw, err := r.ReadFile(p)
			if err != nil {
				continue
			}
			vars, err := artifact.LoadStackVariables(raw)
			if err != nil {
				log.WithError(err).WithField("path", p).Debug("skipping unparsable stack variable file")
				continue
			}
			if len(vars) > 0 {
				s.StackVariables[addr] = vars
			}
		case match("structs/*.toml", p):
			raw, err := r.ReadFile(p)
			if err != nil {
				continue
			}
			st, err := artifact.DecodeStructTOML(raw)
			if err != nil || st.Name == "" {
				log.WithField("path", p).Debug("skipping unparsable struct file")
				continue
			}
			s.Structs[st.Name] = st
		}
	}

	s.dirty = false
	return s, nil
}

func match(pattern, p string) bool {
	ok, err := doublestar.Match(pattern, p)
	return err == nil && ok
}

// strip returns the base filename without its .toml suffix.
func strip(p string) string {
	base := path.Base(p)
	return base[:len(base)-len(".toml")]
}
