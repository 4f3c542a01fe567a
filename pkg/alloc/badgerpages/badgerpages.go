// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package badgerpages is the optional persistence layer for a misc Page
// Manager: it checkpoints a manager's pages into a badger.DB so a later,
// possibly separate, process can restore them as a read-only moved Page
// Manager and hand them straight to the Unification Engine, without
// re-running measurement. This is opt-in — the in-memory allocator alone is
// sufficient for every spec.md §4.1/§4.2 operation; this package only
// serves the deferred-unification case SPEC_FULL.md §4.1 describes.
package badgerpages

import (
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/parascope/runtime/pkg/alloc"
)

// Store wraps a badger.DB holding one Page Manager's checkpointed pages.
type Store struct {
	db *badger.DB
}

// Open opens (creating if necessary) a badger database rooted at dir for
// checkpoint/restore. An empty dir opens an in-memory database, for tests
// and ephemeral runs.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

type manifestEntry struct {
	PageID uint32
	Fill   uint32
}

func manifestKey() []byte { return []byte("manifest") }

func pageKey(id uint32) []byte { return []byte(fmt.Sprintf("page/%d", id)) }

// Checkpoint writes every page pm currently holds into the store, keyed by
// page id, plus a manifest recording allocation order and fill so Restore
// can rebuild pm's pages in the same order. pm may be a local or misc Page
// Manager; checkpointing a moved one is pointless since it was already
// restored from a checkpoint.
func (s *Store) Checkpoint(pm *alloc.PageManager) error {
	infos := pm.GetPageInfos()
	entries := make([]manifestEntry, len(infos))

	return s.db.Update(func(txn *badger.Txn) error {
		for i, info := range infos {
			data, err := pm.PageBytes(info.PageID)
			if err != nil {
				return err
			}
			if err := txn.Set(pageKey(info.PageID), append([]byte(nil), data...)); err != nil {
				return err
			}
			entries[i] = manifestEntry{PageID: info.PageID, Fill: info.Fill}
		}
		manifest, err := json.Marshal(entries)
		if err != nil {
			return err
		}
		return txn.Set(manifestKey(), manifest)
	})
}

// Restore rebuilds a read-only moved Page Manager backed by a, from the
// store's most recently checkpointed pages — for a process picking up
// deferred unification without re-running measurement.
func (s *Store) Restore(a *alloc.Allocator) (*alloc.PageManager, error) {
	var entries []manifestEntry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(manifestKey())
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entries)
		})
	})
	if err != nil {
		return nil, err
	}

	pm := alloc.CreateMovedPageManager(a)
	for _, e := range entries {
		var data []byte
		err := s.db.View(func(txn *badger.Txn) error {
			item, err := txn.Get(pageKey(e.PageID))
			if err != nil {
				return err
			}
			return item.Value(func(val []byte) error {
				data = append([]byte(nil), val...)
				return nil
			})
		})
		if err != nil {
			return nil, err
		}
		buf, err := pm.AllocMovedPage(e.PageID, e.Fill)
		if err != nil {
			return nil, err
		}
		copy(buf, data)
	}
	return pm, nil
}
