// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/memnet/services/memnet/graph"
)

// Sentinel errors for snapshot operations.
var (
	// ErrSnapshotNotFound is returned when no snapshot has the given name.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrSnapshotCorrupted is returned when a stored entry fails its CRC
	// check or the entry counts disagree with the snapshot header.
	ErrSnapshotCorrupted = errors.New("snapshot corrupted")

	// ErrInvalidSnapshotName is returned for an empty name or one containing '/'.
	ErrInvalidSnapshotName = errors.New("invalid snapshot name")
)

const keyRoot = "memnet/"

var tracer = otel.Tracer("memnet.storage")

// SnapshotInfo is the header stored with every snapshot.
type SnapshotInfo struct {
	Name      string    `json:"name"`
	Nodes     int       `json:"nodes"`
	Links     int       `json:"links"`
	Revision  uint64    `json:"revision"`
	SavedAt   time.Time `json:"saved_at"`
	SizeBytes int64     `json:"size_bytes"`
}

type storedLink struct {
	From string         `json:"from"`
	To   string         `json:"to"`
	Type graph.LinkType `json:"link_type"`
}

// SnapshotStore saves and restores whole graphs.
//
// Key layout, one graph per name:
//
//	memnet/<name>/meta          SnapshotInfo
//	memnet/<name>/n/<seq:016d>  node attributes
//	memnet/<name>/l/<seq:016d>  link
//
// Entries are [4-byte CRC32][JSON]. The header is written last, so a
// snapshot without one was never completed and is treated as absent.
//
// Thread Safety: Safe for concurrent use. Concurrent Saves of the same name
// race; the last one wins.
type SnapshotStore struct {
	db     *DB
	logger *slog.Logger
}

// NewSnapshotStore creates a store over db. A nil logger uses slog.Default().
func NewSnapshotStore(db *DB, logger *slog.Logger) *SnapshotStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotStore{db: db, logger: logger}
}

func validName(name string) error {
	if name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidSnapshotName, name)
	}
	return nil
}

func prefixOf(name string) string       { return keyRoot + name + "/" }
func metaKey(name string) []byte        { return []byte(prefixOf(name) + "meta") }
func nodePrefix(name string) []byte     { return []byte(prefixOf(name) + "n/") }
func linkPrefix(name string) []byte     { return []byte(prefixOf(name) + "l/") }
func entryKey(p []byte, seq int) []byte { return []byte(fmt.Sprintf("%s%016d", p, seq)) }

func encodeEntry(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(out[:4], crc32.ChecksumIEEE(data))
	copy(out[4:], data)
	return out, nil
}

func decodeEntry(raw []byte, v any) error {
	if len(raw) < 5 {
		return fmt.Errorf("%w: entry too short", ErrSnapshotCorrupted)
	}
	stored := binary.BigEndian.Uint32(raw[:4])
	if computed := crc32.ChecksumIEEE(raw[4:]); stored != computed {
		return fmt.Errorf("%w: stored=%08x computed=%08x", ErrSnapshotCorrupted, stored, computed)
	}
	if err := json.Unmarshal(raw[4:], v); err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotCorrupted, err)
	}
	return nil
}

// Save writes g under name, replacing any previous snapshot of that name.
//
// Description:
//
//	Old entries are deleted first, then nodes and links are written in
//	insertion order through a write batch, then the header. g must not be
//	mutated during the call.
//
// Outputs:
//
//	SnapshotInfo - The stored header.
//	error - ErrInvalidSnapshotName, or storage errors.
func (s *SnapshotStore) Save(ctx context.Context, name string, g *graph.Graph) (SnapshotInfo, error) {
	ctx, span := tracer.Start(ctx, "SnapshotStore.Save",
		trace.WithAttributes(attribute.String("snapshot", name)))
	defer span.End()

	if err := validName(name); err != nil {
		return SnapshotInfo{}, err
	}
	if err := s.drop(ctx, name); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "drop failed")
		return SnapshotInfo{}, err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	var size int64
	seq := 0
	for n := range g.Nodes() {
		data, err := encodeEntry(n.Attrs)
		if err != nil {
			return SnapshotInfo{}, fmt.Errorf("encode node %s: %w", n.ID, err)
		}
		if err := wb.Set(entryKey(nodePrefix(name), seq), data); err != nil {
			return SnapshotInfo{}, fmt.Errorf("write node %s: %w", n.ID, err)
		}
		size += int64(len(data))
		seq++
	}
	for i, l := range g.Links() {
		data, err := encodeEntry(storedLink{From: l.From, To: l.To, Type: l.Type})
		if err != nil {
			return SnapshotInfo{}, fmt.Errorf("encode link %d: %w", i, err)
		}
		if err := wb.Set(entryKey(linkPrefix(name), i), data); err != nil {
			return SnapshotInfo{}, fmt.Errorf("write link %d: %w", i, err)
		}
		size += int64(len(data))
	}
	if err := wb.Flush(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "flush failed")
		return SnapshotInfo{}, fmt.Errorf("flush snapshot %s: %w", name, err)
	}

	info := SnapshotInfo{
		Name:      name,
		Nodes:     g.NodeCount(),
		Links:     g.LinkCount(),
		Revision:  g.Revision(),
		SavedAt:   time.Now().UTC(),
		SizeBytes: size,
	}
	header, err := encodeEntry(info)
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("encode header: %w", err)
	}
	if err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(metaKey(name), header)
	}); err != nil {
		span.RecordError(err)
		return SnapshotInfo{}, fmt.Errorf("write header %s: %w", name, err)
	}

	span.SetAttributes(
		attribute.Int("nodes", info.Nodes),
		attribute.Int("links", info.Links))
	s.logger.Info("Snapshot saved",
		slog.String("name", name),
		slog.Int("nodes", info.Nodes),
		slog.Int("links", info.Links),
		slog.Int64("bytes", size))
	return info, nil
}

// drop removes every key of a snapshot, header first.
func (s *SnapshotStore) drop(ctx context.Context, name string) error {
	prefix := []byte(prefixOf(name))
	var keys [][]byte
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan snapshot %s: %w", name, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Delete(metaKey(name))
	}); err != nil {
		return fmt.Errorf("delete header %s: %w", name, err)
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return fmt.Errorf("delete %s: %w", k, err)
		}
	}
	return wb.Flush()
}

// Load restores the snapshot saved under name.
//
// Outputs:
//
//	*graph.Graph - The restored graph, built with opts.
//	error - ErrSnapshotNotFound, ErrSnapshotCorrupted, or graph errors.
func (s *SnapshotStore) Load(ctx context.Context, name string, opts ...graph.GraphOption) (*graph.Graph, error) {
	ctx, span := tracer.Start(ctx, "SnapshotStore.Load",
		trace.WithAttributes(attribute.String("snapshot", name)))
	defer span.End()

	if err := validName(name); err != nil {
		return nil, err
	}
	g := graph.New(opts...)
	var info SnapshotInfo
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrSnapshotNotFound, name)
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error { return decodeEntry(val, &info) }); err != nil {
			return err
		}

		nodes, err := scan(ctx, txn, nodePrefix(name), func(raw []byte) error {
			var attrs graph.Attributes
			if err := decodeEntry(raw, &attrs); err != nil {
				return err
			}
			_, err := g.AddNode(attrs)
			return err
		})
		if err != nil {
			return err
		}
		links, err := scan(ctx, txn, linkPrefix(name), func(raw []byte) error {
			var l storedLink
			if err := decodeEntry(raw, &l); err != nil {
				return err
			}
			_, err := g.AddLink(l.From, l.To, l.Type)
			return err
		})
		if err != nil {
			return err
		}
		if nodes != info.Nodes || links != info.Links {
			return fmt.Errorf("%w: header says %d nodes/%d links, found %d/%d",
				ErrSnapshotCorrupted, info.Nodes, info.Links, nodes, links)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return nil, err
	}
	s.logger.Debug("Snapshot loaded",
		slog.String("name", name),
		slog.Int("nodes", info.Nodes),
		slog.Int("links", info.Links))
	return g, nil
}

// scan applies fn to every value under prefix in key order.
func scan(ctx context.Context, txn *badger.Txn, prefix []byte, fn func([]byte) error) (int, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = true
	it := txn.NewIterator(opts)
	defer it.Close()

	n := 0
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		default:
		}
		if err := it.Item().Value(fn); err != nil {
			return n, fmt.Errorf("entry %s: %w", it.Item().Key(), err)
		}
		n++
	}
	return n, nil
}

// List returns the headers of every completed snapshot, sorted by name.
func (s *SnapshotStore) List(ctx context.Context) ([]SnapshotInfo, error) {
	var out []SnapshotInfo
	root := []byte(keyRoot)
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(root); it.ValidForPrefix(root); it.Next() {
			key := string(it.Item().Key())
			rest := strings.TrimPrefix(key, keyRoot)
			name, tail, ok := strings.Cut(rest, "/")
			if !ok || tail != "meta" {
				continue
			}
			var info SnapshotInfo
			if err := it.Item().Value(func(val []byte) error { return decodeEntry(val, &info) }); err != nil {
				s.logger.Warn("Skipping unreadable snapshot header", slog.String("name", name), slog.String("error", err.Error()))
				continue
			}
			out = append(out, info)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Delete removes the snapshot saved under name.
//
// Errors:
//
//	ErrSnapshotNotFound - no completed snapshot has this name
func (s *SnapshotStore) Delete(ctx context.Context, name string) error {
	if err := validName(name); err != nil {
		return err
	}
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(metaKey(name))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", ErrSnapshotNotFound, name)
	}
	if err != nil {
		return err
	}
	if err := s.drop(ctx, name); err != nil {
		return err
	}
	s.logger.Info("Snapshot deleted", slog.String("name", name))
	return nil
}
